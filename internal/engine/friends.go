package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/identity"
	"github.com/ddezhin/partykit/internal/push"
)

// friendCache mirrors the friends summary and resolves "wait until this
// account becomes a friend" style waiters. A waiter that outlives its timeout
// resolves to not-found; that is a normal outcome, never an error.
type friendCache struct {
	waitTimeout time.Duration

	mu        sync.Mutex
	friends   map[string]backend.FriendSummary
	incoming  map[string]backend.FriendSummary
	blocklist map[string]struct{}
	waiters   map[string][]chan backend.FriendSummary
	closed    bool
}

func newFriendCache(waitTimeout time.Duration) *friendCache {
	return &friendCache{
		waitTimeout: waitTimeout,
		friends:     make(map[string]backend.FriendSummary),
		incoming:    make(map[string]backend.FriendSummary),
		blocklist:   make(map[string]struct{}),
		waiters:     make(map[string][]chan backend.FriendSummary),
	}
}

// replace swaps the whole cache for a fresh summary and fulfills any waiters
// whose accounts are now friends.
func (c *friendCache) replace(summary *backend.FriendsSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.friends = make(map[string]backend.FriendSummary, len(summary.Friends))
	for _, f := range summary.Friends {
		c.friends[f.AccountID] = f
	}
	c.incoming = make(map[string]backend.FriendSummary, len(summary.Incoming))
	for _, f := range summary.Incoming {
		c.incoming[f.AccountID] = f
	}
	c.blocklist = make(map[string]struct{}, len(summary.Blocklist))
	for _, id := range summary.Blocklist {
		c.blocklist[id] = struct{}{}
	}

	for id, chans := range c.waiters {
		f, ok := c.friends[id]
		if !ok {
			continue
		}
		for _, ch := range chans {
			ch <- f
		}
		delete(c.waiters, id)
	}
}

func (c *friendCache) get(accountID string) (backend.FriendSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.friends[accountID]
	return f, ok
}

func (c *friendCache) list() []backend.FriendSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]backend.FriendSummary, 0, len(c.friends))
	for _, f := range c.friends {
		out = append(out, f)
	}
	return out
}

func (c *friendCache) isBlocked(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blocklist[accountID]
	return ok
}

// wait blocks until accountID is a friend, the timeout elapses, or ctx is
// done. The boolean reports found; both timeout and cancellation read as
// not found.
func (c *friendCache) wait(ctx context.Context, accountID string) (backend.FriendSummary, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return backend.FriendSummary{}, false
	}
	if f, ok := c.friends[accountID]; ok {
		c.mu.Unlock()
		return f, true
	}
	ch := make(chan backend.FriendSummary, 1)
	c.waiters[accountID] = append(c.waiters[accountID], ch)
	c.mu.Unlock()

	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case f, ok := <-ch:
		return f, ok
	case <-timer.C:
	case <-ctx.Done():
	}

	c.drop(accountID, ch)
	return backend.FriendSummary{}, false
}

func (c *friendCache) drop(accountID string, ch chan backend.FriendSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chans := c.waiters[accountID]
	for i, other := range chans {
		if other == ch {
			c.waiters[accountID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(c.waiters[accountID]) == 0 {
		delete(c.waiters, accountID)
	}
}

// close resolves every outstanding waiter to not-found.
func (c *friendCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, chans := range c.waiters {
		for _, ch := range chans {
			close(ch)
		}
		delete(c.waiters, id)
	}
}

// Friend is the friend role: a cache entry bound to the engine that owns it,
// which carries the invite and direct-message capabilities.
type Friend struct {
	identity.Identity
	Alias    string
	Favorite bool

	eng *Engine
}

var (
	_ identity.Inviteable  = Friend{}
	_ identity.Messageable = Friend{}
)

// Invite asks this friend into the current party.
func (f Friend) Invite(ctx context.Context) error {
	return f.eng.Invite(ctx, f.AccountID)
}

// SendMessage whispers to this friend over the presence channel.
func (f Friend) SendMessage(ctx context.Context, body string) error {
	return f.eng.sendWhisper(ctx, f.AccountID, body)
}

func (e *Engine) friendRole(f backend.FriendSummary) Friend {
	return Friend{
		Identity: identity.Identity{AccountID: f.AccountID, DisplayName: f.DisplayName},
		Alias:    f.Alias,
		Favorite: f.Favorite,
		eng:      e,
	}
}

// sendWhisper puts one direct message on the wire. Requires a send-capable
// transport; whispers are never queued for a later reconnect.
func (e *Engine) sendWhisper(ctx context.Context, toAccountID, body string) error {
	if e.sender == nil {
		return errNoMessageTransport
	}
	return e.sender.Send(ctx, push.Whisper{
		Type: push.EventChatWhisper,
		From: e.self.AccountID,
		To:   toAccountID,
		Body: body,
	})
}

var errNoMessageTransport = errors.New("engine: no message-capable transport attached")

// Friends lists the cached friends as live roles.
func (e *Engine) Friends() []Friend {
	cached := e.friends.list()
	out := make([]Friend, 0, len(cached))
	for _, f := range cached {
		out = append(out, e.friendRole(f))
	}
	return out
}

// Friend returns the role for the account, if it is a friend.
func (e *Engine) Friend(accountID string) (Friend, bool) {
	f, ok := e.friends.get(accountID)
	if !ok {
		return Friend{}, false
	}
	return e.friendRole(f), true
}

// IsBlocked reports whether the account is on the local block list.
func (e *Engine) IsBlocked(accountID string) bool {
	return e.friends.isBlocked(accountID)
}

// WaitForFriend blocks until the account shows up as a friend or the
// configured wait timeout elapses. Elapsing resolves to not-found.
func (e *Engine) WaitForFriend(ctx context.Context, accountID string) (Friend, bool) {
	f, ok := e.friends.wait(ctx, accountID)
	if !ok {
		return Friend{}, false
	}
	return e.friendRole(f), true
}
