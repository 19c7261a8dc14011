// Package auth owns the engine's authentication sessions.
//
// One [Session] exists per token class. Each session owns an access token,
// its expiry, a refresh token, and a self-rearming timer that refreshes the
// token shortly before expiry. A per-session mutex serializes the timer-
// driven refresh against reactive refreshes, so two triggers inside the same
// window produce a single network exchange.
//
// [Set] groups the sessions and runs the global reauthentication pass used
// when the primary token is rejected. The pass is serialized engine-wide:
// concurrent callers join the in-flight pass instead of starting another,
// and every outbound bearer request waits the pass out before reading a
// token. Failure of any session during a pass clears all of them; there is
// no partial-success state.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/logging"
)

// SessionType identifies a token class.
type SessionType string

const (
	// SessionGame is the primary session used for all party operations.
	SessionGame SessionType = "game"
	// SessionLauncher authorizes launcher-surface endpoints.
	SessionLauncher SessionType = "launcher"
	// SessionClientCreds is an account-less client-credentials session.
	SessionClientCreds SessionType = "client_credentials"
	// SessionFederated authorizes the federated-identity services.
	SessionFederated SessionType = "federated"
)

// refreshEarly is how long before expiry the refresh timer fires.
const refreshEarly = 15 * time.Minute

// refreshTimeout bounds a single timer-driven refresh exchange.
const refreshTimeout = 30 * time.Second

// Credentials are the basic-auth client credentials of one token class.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// TokenAPI is the slice of the backend client the auth layer needs.
type TokenAPI interface {
	GrantToken(ctx context.Context, clientID, clientSecret string, grant url.Values) (*backend.TokenResponse, error)
	VerifyToken(ctx context.Context, accessToken string) (*backend.VerifyResponse, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

// Session is one authenticated token class.
type Session struct {
	typ   SessionType
	creds Credentials
	api   TokenAPI
	log   logging.Logger

	// mu serializes refreshes and guards the token fields.
	mu               sync.Mutex
	accessToken      string
	expiresAt        time.Time
	refreshToken     string
	refreshExpiresAt time.Time
	accountID        string
	clientID         string
	timer            *time.Timer
	revoked          bool

	// onRefreshError is invoked when a timer-driven refresh fails; the set
	// uses it to start a global pass.
	onRefreshError func(*Session, error)
}

func newSession(typ SessionType, creds Credentials, api TokenAPI, log logging.Logger) *Session {
	return &Session{
		typ:   typ,
		creds: creds,
		api:   api,
		log:   log.With("session", string(typ)),
	}
}

// Type returns the session's token class.
func (s *Session) Type() SessionType { return s.typ }

// AccessToken returns the current access token ("" when absent or revoked).
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// AccountID returns the account this session authenticates as.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// ExpiresAt returns the access token's expiry.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// adoptLocked replaces the session's token state wholesale from a grant
// response and re-arms the refresh timer. Caller holds s.mu.
func (s *Session) adoptLocked(tr *backend.TokenResponse) {
	s.accessToken = tr.AccessToken
	s.expiresAt = tr.ExpiresAt
	if s.expiresAt.IsZero() {
		// Some grant responses omit expires_at; fall back to the token's
		// own exp claim.
		if exp, ok := tokenExpiry(tr.AccessToken); ok {
			s.expiresAt = exp
		}
	}
	if tr.RefreshToken != "" {
		s.refreshToken = tr.RefreshToken
		s.refreshExpiresAt = tr.RefreshExpiresAt
	}
	s.accountID = tr.AccountID
	if s.accountID == "" {
		if acc, ok := tokenAccount(tr.AccessToken); ok {
			s.accountID = acc
		}
	}
	s.clientID = tr.ClientID
	s.armLocked()
}

// armLocked schedules the next timer-driven refresh. Caller holds s.mu.
func (s *Session) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.revoked || s.expiresAt.IsZero() {
		return
	}
	delay := time.Until(s.expiresAt) - refreshEarly
	if delay < time.Second {
		delay = time.Second
	}
	s.timer = time.AfterFunc(delay, s.refreshFromTimer)
}

func (s *Session) refreshFromTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := s.refresh(ctx, false); err != nil {
		s.log.Error(ctx, "timer-driven token refresh failed", "error", err)
		if s.onRefreshError != nil {
			s.onRefreshError(s, err)
		}
		return
	}
	s.log.Debug(ctx, "token refreshed", "expires_at", s.ExpiresAt())
}

// Refresh unconditionally exchanges the refresh token for a new
// access/refresh pair and re-arms the timer. Used by the global
// reauthentication pass, where the current token is known to be rejected
// regardless of its local expiry.
func (s *Session) Refresh(ctx context.Context) error {
	return s.refresh(ctx, true)
}

// refresh performs the exchange under the per-session lock. With force
// false, a refresh that finds a still-fresh token is a no-op: two timers (or
// a timer and a reactive trigger) firing within the same window collapse
// into a single network exchange, the second caller just observing the
// first's result.
func (s *Session) refresh(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revoked {
		return fmt.Errorf("auth: session %s is revoked", s.typ)
	}
	if !force && time.Until(s.expiresAt) > refreshEarly {
		return nil
	}
	if s.refreshToken == "" {
		return fmt.Errorf("auth: session %s has no refresh token: %w", s.typ, common.ErrRefreshTokenExpired)
	}
	if !s.refreshExpiresAt.IsZero() && time.Now().After(s.refreshExpiresAt) {
		return fmt.Errorf("auth: session %s: %w", s.typ, common.ErrRefreshTokenExpired)
	}

	tr, err := s.api.GrantToken(ctx, s.creds.ClientID, s.creds.ClientSecret, backend.RefreshGrant(s.refreshToken))
	if err != nil {
		return fmt.Errorf("auth: refresh %s: %w", s.typ, err)
	}
	s.adoptLocked(tr)
	return nil
}

// Check reports whether the cached token is valid. Without verify this is a
// local expiry check only. With verify it performs a verification round trip
// and treats an invalid-token error code as invalidation, clearing the
// cached token.
func (s *Session) Check(ctx context.Context, verify bool) bool {
	s.mu.Lock()
	token := s.accessToken
	expired := token == "" || !s.expiresAt.After(time.Now())
	s.mu.Unlock()

	if expired {
		return false
	}
	if !verify {
		return true
	}

	if _, err := s.api.VerifyToken(ctx, token); err != nil {
		if backend.IsCode(err, backend.ErrCodeInvalidToken) {
			s.mu.Lock()
			s.accessToken = ""
			s.mu.Unlock()
			return false
		}
		// Verification itself failed; keep the cached answer.
		s.log.Warn(ctx, "token verification round trip failed", "error", err)
		return true
	}
	return true
}

// Revoke invalidates the session server-side and terminally clears it.
func (s *Session) Revoke(ctx context.Context) error {
	s.mu.Lock()
	token := s.accessToken
	s.clearLocked()
	s.revoked = true
	s.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := s.api.RevokeToken(ctx, token); err != nil {
		return fmt.Errorf("auth: revoke %s: %w", s.typ, err)
	}
	return nil
}

// Close stops the refresh timer without revoking server-side state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.refreshExpiresAt = time.Time{}
}
