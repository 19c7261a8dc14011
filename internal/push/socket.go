// Package push consumes the backend's two asynchronous notification
// channels. Both are websocket streams of JSON documents; the engine only
// sees the decoded events and the connection lifecycle, never the wire
// framing.
//
// Delivery is best effort. A dropped connection is retried a bounded number
// of times with a fixed delay; exhausting the bound is terminal and
// propagates as an error from Run, never as a silent retry loop.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ddezhin/partykit/internal/logging"
)

// Role names which of the two channels a socket serves.
type Role string

const (
	// RolePresence is the presence/chat channel.
	RolePresence Role = "presence"
	// RoleQueue is the message-queue channel.
	RoleQueue Role = "queue"
)

// State is a connection lifecycle phase.
type State int

const (
	// StateConnected is emitted after every successful (re)connect.
	StateConnected State = iota
	// StateReconnecting is emitted when the connection dropped and a retry
	// is pending.
	StateReconnecting
	// StateTerminated is emitted once when the reconnect budget is exhausted.
	StateTerminated
)

// Lifecycle is one connection state transition.
type Lifecycle struct {
	Role    Role
	State   State
	Attempt int
	Err     error
}

// TokenSource supplies the bearer token attached to each dial. Satisfied by
// the auth session set, so dials wait out an in-flight reauthentication.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// conn is the slice of *websocket.Conn the socket uses.
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// dialFunc opens one connection. Swapped for a fake in tests.
type dialFunc func(ctx context.Context, url string, header http.Header) (conn, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Socket is one always-reconnecting push channel.
type Socket struct {
	role   Role
	url    string
	tokens TokenSource
	log    logging.Logger
	dial   dialFunc

	reconnectAttempts int
	reconnectDelay    time.Duration

	events    chan Event
	lifecycle chan Lifecycle

	// writeMu guards active and serializes writers; the websocket allows
	// only one concurrent writer.
	writeMu sync.Mutex
	active  conn
}

// Options configure a socket.
type Options struct {
	Role              Role
	URL               string
	Tokens            TokenSource
	Logger            logging.Logger
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// NewSocket creates a socket; Run must be called to start it.
func NewSocket(opts Options) *Socket {
	return &Socket{
		role:              opts.Role,
		url:               opts.URL,
		tokens:            opts.Tokens,
		log:               opts.Logger.With("channel", string(opts.Role)),
		dial:              gorillaDial,
		reconnectAttempts: opts.ReconnectAttempts,
		reconnectDelay:    opts.ReconnectDelay,
		events:            make(chan Event, 64),
		lifecycle:         make(chan Lifecycle, 8),
	}
}

// Events is the decoded event stream.
func (s *Socket) Events() <-chan Event { return s.events }

// Lifecycle is the connection state stream. The engine watches it to trigger
// resynchronization after a reconnect.
func (s *Socket) Lifecycle() <-chan Lifecycle { return s.lifecycle }

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("push: not connected")

// Send writes one JSON document on the current connection. Outbound traffic
// is fire-and-forget: a message sent while the channel is reconnecting fails
// with ErrNotConnected and is never queued for replay.
func (s *Socket) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("push %s: encode: %w", s.role, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.active == nil {
		return fmt.Errorf("push %s: %w", s.role, ErrNotConnected)
	}
	if err := s.active.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("push %s: write: %w", s.role, err)
	}
	return nil
}

func (s *Socket) setActive(c conn) {
	s.writeMu.Lock()
	s.active = c
	s.writeMu.Unlock()
}

// Run drives the connect/read/reconnect loop until ctx is canceled (returns
// ctx.Err()) or the reconnect budget is exhausted (returns the terminal
// error). Both channels are closed on return.
func (s *Socket) Run(ctx context.Context) error {
	defer close(s.events)
	defer close(s.lifecycle)

	attempt := 0
	for {
		connected, err := s.runOnce(ctx, attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The budget bounds consecutive failures, not total drops over the
		// socket's lifetime; a successful connection restores it in full.
		if connected {
			attempt = 0
		}
		attempt++
		if attempt > s.reconnectAttempts {
			terminal := fmt.Errorf("push %s: reconnect budget exhausted after %d attempts: %w", s.role, attempt, err)
			s.log.Error(ctx, "push channel terminated", "attempts", attempt, "error", err)
			s.emitLifecycle(ctx, Lifecycle{Role: s.role, State: StateTerminated, Attempt: attempt, Err: err})
			return terminal
		}

		s.log.Warn(ctx, "push channel dropped, reconnecting",
			"attempt", attempt, "delay", s.reconnectDelay, "error", err)
		s.emitLifecycle(ctx, Lifecycle{Role: s.role, State: StateReconnecting, Attempt: attempt, Err: err})

		select {
		case <-time.After(s.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce dials and reads until the connection fails or ctx is done. The
// boolean reports whether a connection was established at all.
func (s *Socket) runOnce(ctx context.Context, attempt int) (bool, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return false, fmt.Errorf("push %s: token: %w", s.role, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	c, err := s.dial(ctx, s.url, header)
	if err != nil {
		return false, fmt.Errorf("push %s: dial: %w", s.role, err)
	}
	defer c.Close()

	s.setActive(c)
	defer s.setActive(nil)

	s.log.Info(ctx, "push channel connected", "attempt", attempt)
	s.emitLifecycle(ctx, Lifecycle{Role: s.role, State: StateConnected, Attempt: attempt})

	// Unblock the read when ctx is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("push %s: read: %w", s.role, err)
		}
		s.deliver(ctx, raw)
	}
}

// deliver decodes one wire message and forwards it. Messages without a type
// field and pings are dropped here; everything else reaches the engine.
func (s *Socket) deliver(ctx context.Context, raw []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Type == "" {
		s.log.Debug(ctx, "dropping untyped push message", "bytes", len(raw))
		return
	}
	if head.Type == EventPing {
		return
	}

	event := Event{Type: head.Type, Raw: append([]byte(nil), raw...), ReceivedAt: time.Now()}
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *Socket) emitLifecycle(ctx context.Context, lc Lifecycle) {
	select {
	case s.lifecycle <- lc:
	case <-ctx.Done():
	}
}
