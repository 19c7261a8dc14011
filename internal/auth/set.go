package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/ddezhin/partykit/internal/logging"
)

// reauthPass is one in-flight global reauthentication. Waiters hold the
// pointer, block on done, then read err.
type reauthPass struct {
	done chan struct{}
	err  error
}

// Set groups the engine's sessions and serializes global reauthentication.
//
// Set implements backend.Authenticator: AccessToken waits out an in-flight
// global pass before returning the primary session's bearer token, and
// Reauthenticate either starts a pass or joins the one already running.
type Set struct {
	api TokenAPI
	log logging.Logger

	mu       sync.Mutex
	sessions map[SessionType]*Session

	gateMu sync.Mutex
	gate   *reauthPass

	// onFatal is called when a global pass fails and all sessions have been
	// cleared. The owner decides between restarting from stored long-lived
	// credentials and logging out; the set itself has no partial-success
	// state to offer.
	onFatal func(error)
}

// NewSet creates an empty session set. onFatal may be nil.
func NewSet(api TokenAPI, log logging.Logger, onFatal func(error)) *Set {
	return &Set{
		api:      api,
		log:      log,
		sessions: make(map[SessionType]*Session),
		onFatal:  onFatal,
	}
}

// Create exchanges the given grant and registers the resulting session under
// its type, replacing any previous session of that type.
func (s *Set) Create(ctx context.Context, typ SessionType, creds Credentials, grant url.Values) (*Session, error) {
	tr, err := s.api.GrantToken(ctx, creds.ClientID, creds.ClientSecret, grant)
	if err != nil {
		return nil, fmt.Errorf("auth: create %s session: %w", typ, err)
	}

	session := newSession(typ, creds, s.api, s.log)
	session.onRefreshError = s.sessionRefreshFailed
	session.mu.Lock()
	session.adoptLocked(tr)
	session.mu.Unlock()

	s.mu.Lock()
	if old := s.sessions[typ]; old != nil {
		old.Close()
	}
	s.sessions[typ] = session
	s.mu.Unlock()

	s.log.Info(ctx, "session created", "session", string(typ), "account_id", session.AccountID())
	return session, nil
}

// Session returns the session of the given type, or nil.
func (s *Set) Session(typ SessionType) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[typ]
}

// AccountID returns the primary session's account id ("" when absent).
func (s *Set) AccountID() string {
	if game := s.Session(SessionGame); game != nil {
		return game.AccountID()
	}
	return ""
}

// CheckToken reports whether the given session's cached token is valid,
// optionally with a verification round trip.
func (s *Set) CheckToken(ctx context.Context, typ SessionType, verify bool) bool {
	session := s.Session(typ)
	return session != nil && session.Check(ctx, verify)
}

// AccessToken implements backend.Authenticator. It waits out an in-flight
// global reauthentication pass and returns the primary session's token.
func (s *Set) AccessToken(ctx context.Context) (string, error) {
	if err := s.awaitGate(ctx); err != nil {
		return "", err
	}
	game := s.Session(SessionGame)
	if game == nil {
		return "", fmt.Errorf("auth: no primary session")
	}
	token := game.AccessToken()
	if token == "" {
		return "", fmt.Errorf("auth: primary session has no token")
	}
	return token, nil
}

// Reauthenticate implements backend.Authenticator. A caller that observes a
// pass already in flight awaits its result instead of starting another.
func (s *Set) Reauthenticate(ctx context.Context) error {
	s.gateMu.Lock()
	if pass := s.gate; pass != nil {
		s.gateMu.Unlock()
		return awaitPass(ctx, pass)
	}
	pass := &reauthPass{done: make(chan struct{})}
	s.gate = pass
	s.gateMu.Unlock()

	pass.err = s.refreshAll(ctx)

	s.gateMu.Lock()
	s.gate = nil
	s.gateMu.Unlock()
	close(pass.done)

	return pass.err
}

func (s *Set) awaitGate(ctx context.Context) error {
	s.gateMu.Lock()
	pass := s.gate
	s.gateMu.Unlock()
	if pass == nil {
		return nil
	}
	return awaitPass(ctx, pass)
}

func awaitPass(ctx context.Context, pass *reauthPass) error {
	select {
	case <-pass.done:
		return pass.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refreshAll refreshes every session. All-or-nothing: the first failure
// clears the whole set and reports fatally.
func (s *Set) refreshAll(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if err := session.Refresh(ctx); err != nil {
			s.log.Error(ctx, "global reauthentication failed, clearing all sessions",
				"failed_session", string(session.Type()), "error", err)
			s.clear()
			if s.onFatal != nil {
				s.onFatal(err)
			}
			return err
		}
	}
	s.log.Info(ctx, "global reauthentication completed", "sessions", len(sessions))
	return nil
}

func (s *Set) sessionRefreshFailed(session *Session, err error) {
	// A timer-driven refresh failure is handled like a rejected primary
	// token: run the global pass so the whole set either recovers or clears.
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	_ = s.Reauthenticate(ctx)
}

func (s *Set) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for typ, session := range s.sessions {
		session.Close()
		delete(s.sessions, typ)
	}
}

// Close revokes every session best-effort and stops all timers.
func (s *Set) Close(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for typ, session := range s.sessions {
		sessions = append(sessions, session)
		delete(s.sessions, typ)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if err := session.Revoke(ctx); err != nil {
			s.log.Warn(ctx, "session revoke failed", "session", string(session.Type()), "error", err)
		}
	}
}
