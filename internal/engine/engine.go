// Package engine is the top-level runtime tying the pieces together: the
// backend client, the auth session set, both push channels, and the current
// party mirror. One Engine instance exists per login; it is created on login,
// torn down on logout, and never reused across sessions.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/logging"
	"github.com/ddezhin/partykit/internal/party"
	"github.com/ddezhin/partykit/internal/push"
)

// API is the slice of the backend client the engine drives.
type API interface {
	party.PatchAPI

	FetchParty(ctx context.Context, partyID string) (*backend.PartySnapshot, error)
	FetchUserParty(ctx context.Context, accountID string) (*backend.PartySnapshot, error)
	CreateParty(ctx context.Context, request backend.CreatePartyRequest) (*backend.PartySnapshot, error)
	JoinParty(ctx context.Context, partyID string, join backend.JoinInfo) error
	RemoveMember(ctx context.Context, partyID, accountID string) error
	PromoteMember(ctx context.Context, partyID, accountID string) error
	ConfirmMember(ctx context.Context, partyID, accountID string) error
	RejectMember(ctx context.Context, partyID, accountID string) error
	InviteToParty(ctx context.Context, partyID, accountID string) error

	FetchFriendsSummary(ctx context.Context, accountID string) (*backend.FriendsSummary, error)
	AcceptFriendRequest(ctx context.Context, accountID, friendID string) error
	RemoveFriend(ctx context.Context, accountID, friendID string) error
}

// Transport is one push channel as the engine sees it.
type Transport interface {
	Run(ctx context.Context) error
	Events() <-chan push.Event
	Lifecycle() <-chan push.Lifecycle
}

// Sender is the outbound side of a transport. Transports that implement it
// carry direct messages; the presence channel does, the queue does not.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// Options configure an engine instance.
type Options struct {
	API         API
	Logger      logging.Logger
	AccountID   string
	DisplayName string

	// AutoConfirm admits join requests without asking anyone.
	AutoConfirm bool
	// WaitTimeout bounds event waiters like WaitForFriend; an elapsed wait
	// resolves to "not found", not an error.
	WaitTimeout time.Duration
	// DefaultPartyConfig seeds parties created by the engine. Zero means
	// the built-in default.
	DefaultPartyConfig party.Config
	// OnFatal is called when a transport exhausts its reconnect budget.
	OnFatal func(error)
}

// defaultPartyConfig matches the backend's defaults for a solo lobby.
var defaultPartyConfig = party.Config{
	Type:            "DEFAULT",
	SubType:         "default",
	Joinability:     "OPEN",
	Discoverability: "ALL",
	MaxSize:         16,
	PrivacyType:     "Public",
	InviteTTL:       4 * time.Hour,
}

// Engine owns the session's runtime state.
type Engine struct {
	api  API
	log  logging.Logger
	self backend.JoinInfo

	autoConfirm bool
	waitTimeout time.Duration
	partyConfig party.Config
	onFatal     func(error)

	// mu guards the current-party pointer; the Party itself has its own
	// party-wide lock.
	mu      sync.Mutex
	current *party.Party

	friends *friendCache
	sender  Sender

	notifications chan Notification

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine. Start must be called to bootstrap the party and
// attach transports.
func New(opts Options) *Engine {
	cfg := opts.DefaultPartyConfig
	if cfg == (party.Config{}) {
		cfg = defaultPartyConfig
	}
	waitTimeout := opts.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	return &Engine{
		api: opts.API,
		log: opts.Logger,
		self: backend.JoinInfo{
			AccountID:    opts.AccountID,
			DisplayName:  opts.DisplayName,
			ConnectionID: uuid.NewString(),
		},
		autoConfirm:   opts.AutoConfirm,
		waitTimeout:   waitTimeout,
		partyConfig:   cfg,
		onFatal:       opts.OnFatal,
		friends:       newFriendCache(waitTimeout),
		notifications: make(chan Notification, 64),
	}
}

// AccountID returns the local account id.
func (e *Engine) AccountID() string { return e.self.AccountID }

// Party returns the current party mirror. During an active session there is
// always one (leave implies create-new).
func (e *Engine) Party() *party.Party {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) setParty(p *party.Party) {
	e.mu.Lock()
	e.current = p
	e.mu.Unlock()
}

// Notifications is the stream of granular state-change notifications for
// UI consumers. Events are dropped, not blocked on, when nobody listens.
func (e *Engine) Notifications() <-chan Notification { return e.notifications }

// Start bootstraps the party mirror and friends cache, then attaches the
// given transports. It returns once the engine is running.
func (e *Engine) Start(ctx context.Context, transports ...Transport) error {
	if err := e.bootstrap(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	for _, t := range transports {
		if snd, ok := t.(Sender); ok && e.sender == nil {
			e.sender = snd
		}
		e.attach(runCtx, t)
	}
	return nil
}

// Close tears the engine down: all transports stop, all waiters resolve.
// Safe to call more than once.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.friends.close()
}

// bootstrap rebuilds local state from authoritative fetches: the current
// party (creating one when the account has none) and the friends summary.
// Also the resynchronization path after a transport reconnect, which never
// tries to replay missed deltas.
func (e *Engine) bootstrap(ctx context.Context) error {
	snap, err := e.api.FetchUserParty(ctx, e.self.AccountID)
	if err != nil {
		return fmt.Errorf("engine: fetch current party: %w", err)
	}
	if snap == nil {
		snap, err = e.createPartySnapshot(ctx)
		if err != nil {
			return err
		}
	}
	e.setParty(party.FromSnapshot(snap, e.self.AccountID, e.api, e.log))

	summary, err := e.api.FetchFriendsSummary(ctx, e.self.AccountID)
	if err != nil {
		return fmt.Errorf("engine: fetch friends summary: %w", err)
	}
	e.friends.replace(summary)

	e.log.Info(ctx, "engine state rebuilt",
		"party_id", snap.ID, "members", len(snap.Members), "friends", len(summary.Friends))
	return nil
}

func (e *Engine) createPartySnapshot(ctx context.Context) (*backend.PartySnapshot, error) {
	join := e.self
	join.Meta = map[string]string{}

	snap, err := e.api.CreateParty(ctx, backend.CreatePartyRequest{
		Config:   party.WireConfig(e.partyConfig),
		Meta:     map[string]string{},
		JoinInfo: join,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: create party: %w", err)
	}
	return snap, nil
}

// recreateParty discards the current mirror and creates a fresh party. Runs
// when the local user leaves or is removed.
func (e *Engine) recreateParty(ctx context.Context) error {
	snap, err := e.createPartySnapshot(ctx)
	if err != nil {
		return err
	}
	e.setParty(party.FromSnapshot(snap, e.self.AccountID, e.api, e.log))
	e.log.Info(ctx, "party recreated", "party_id", snap.ID)
	return nil
}

// attach wires one transport: its Run loop, its event stream into the state
// machine, and its lifecycle stream into resynchronization.
func (e *Engine) attach(ctx context.Context, t Transport) {
	e.wg.Add(2)

	go func() {
		defer e.wg.Done()
		if err := t.Run(ctx); err != nil && ctx.Err() == nil {
			e.log.Error(ctx, "push transport terminated", "error", err)
			if e.onFatal != nil {
				e.onFatal(err)
			}
		}
	}()

	go func() {
		defer e.wg.Done()
		events := t.Events()
		lifecycle := t.Lifecycle()
		reconnected := false
		for events != nil || lifecycle != nil {
			select {
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				e.dispatch(ctx, ev)
			case lc, ok := <-lifecycle:
				if !ok {
					lifecycle = nil
					continue
				}
				switch lc.State {
				case push.StateReconnecting:
					reconnected = true
				case push.StateConnected:
					if reconnected {
						reconnected = false
						if err := e.bootstrap(ctx); err != nil && ctx.Err() == nil {
							e.log.Error(ctx, "resynchronization failed", "error", err)
						}
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
