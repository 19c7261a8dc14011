package auth

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeTokenAPI implements TokenAPI for unit tests.
type fakeTokenAPI struct {
	mu sync.Mutex

	grantCalls   atomic.Int32
	grantDelay   time.Duration
	grantErr     error
	grantFn      func(grant url.Values) *backend.TokenResponse
	lastClientID string
	lastGrant    url.Values

	verifyErr   error
	revokeCalls atomic.Int32
}

func (f *fakeTokenAPI) GrantToken(ctx context.Context, clientID, clientSecret string, grant url.Values) (*backend.TokenResponse, error) {
	f.grantCalls.Add(1)
	if f.grantDelay > 0 {
		time.Sleep(f.grantDelay)
	}
	f.mu.Lock()
	f.lastClientID = clientID
	f.lastGrant = grant
	f.mu.Unlock()
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	if f.grantFn != nil {
		return f.grantFn(grant), nil
	}
	return &backend.TokenResponse{
		AccessToken:  "access-" + grant.Get("grant_type"),
		ExpiresAt:    time.Now().Add(8 * time.Hour),
		RefreshToken: "refresh-" + grant.Get("grant_type"),
		AccountID:    "acc-1",
		ClientID:     clientID,
	}, nil
}

func (f *fakeTokenAPI) VerifyToken(ctx context.Context, accessToken string) (*backend.VerifyResponse, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &backend.VerifyResponse{Token: accessToken, AccountID: "acc-1"}, nil
}

func (f *fakeTokenAPI) RevokeToken(ctx context.Context, accessToken string) error {
	f.revokeCalls.Add(1)
	return nil
}

func newTestSet(t *testing.T, api *fakeTokenAPI) *Set {
	t.Helper()
	set := NewSet(api, testLogger(), nil)
	t.Cleanup(func() {
		// Stop timers without network calls.
		set.clear()
	})
	return set
}

func TestSet_CreateAdoptsGrant(t *testing.T) {
	api := &fakeTokenAPI{}
	set := newTestSet(t, api)

	session, err := set.Create(context.Background(), SessionGame,
		Credentials{ClientID: "cid", ClientSecret: "sec"}, backend.ExchangeCodeGrant("xyz"))
	require.NoError(t, err)

	assert.Equal(t, "access-exchange_code", session.AccessToken())
	assert.Equal(t, "acc-1", session.AccountID())
	assert.Equal(t, "cid", api.lastClientID)
	assert.Equal(t, "exchange_code", api.lastGrant.Get("grant_type"))
	assert.True(t, set.CheckToken(context.Background(), SessionGame, false))
}

func TestSession_TimerWindowCollapsesToOneRefresh(t *testing.T) {
	api := &fakeTokenAPI{grantDelay: 20 * time.Millisecond}
	api.grantFn = func(grant url.Values) *backend.TokenResponse {
		return &backend.TokenResponse{
			AccessToken:  "fresh",
			ExpiresAt:    time.Now().Add(8 * time.Hour),
			RefreshToken: "r2",
			AccountID:    "acc-1",
		}
	}
	set := newTestSet(t, api)

	session := newSession(SessionGame, Credentials{}, api, testLogger())
	session.mu.Lock()
	session.accessToken = "old"
	session.refreshToken = "r1"
	session.expiresAt = time.Now().Add(time.Minute) // inside the refresh window
	session.mu.Unlock()
	set.sessions[SessionGame] = session

	api.grantCalls.Store(0)

	// Two timers firing within the lock window: only one exchange happens,
	// the second observes the first's result.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, session.refresh(context.Background(), false))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), api.grantCalls.Load())
	assert.Equal(t, "fresh", session.AccessToken())
}

func TestSet_ConcurrentReauthenticateJoinsOnePass(t *testing.T) {
	api := &fakeTokenAPI{grantDelay: 30 * time.Millisecond}
	set := newTestSet(t, api)

	_, err := set.Create(context.Background(), SessionGame, Credentials{}, backend.ExchangeCodeGrant("x"))
	require.NoError(t, err)
	api.grantCalls.Store(0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, set.Reauthenticate(context.Background()))
		}()
	}
	wg.Wait()

	// One forced refresh for the single session; the other four callers
	// joined the in-flight pass.
	assert.Equal(t, int32(1), api.grantCalls.Load())
}

func TestSet_AccessTokenWaitsOutReauthPass(t *testing.T) {
	api := &fakeTokenAPI{grantDelay: 50 * time.Millisecond}
	set := newTestSet(t, api)

	_, err := set.Create(context.Background(), SessionGame, Credentials{}, backend.ExchangeCodeGrant("x"))
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		close(started)
		_ = set.Reauthenticate(context.Background())
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let the pass take the gate

	begin := time.Now()
	token, err := set.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-refresh_token", token)
	assert.GreaterOrEqual(t, time.Since(begin), 20*time.Millisecond, "should have waited for the pass")
}

func TestSet_FailedPassClearsEverythingAndReportsFatal(t *testing.T) {
	api := &fakeTokenAPI{}
	var fatal atomic.Bool
	set := NewSet(api, testLogger(), func(error) { fatal.Store(true) })
	t.Cleanup(set.clear)

	_, err := set.Create(context.Background(), SessionGame, Credentials{}, backend.ExchangeCodeGrant("x"))
	require.NoError(t, err)
	_, err = set.Create(context.Background(), SessionFederated, Credentials{}, backend.ClientCredentialsGrant())
	require.NoError(t, err)

	api.grantErr = &backend.APIError{Code: backend.ErrCodeInvalidGrant, StatusCode: 400}
	require.Error(t, set.Reauthenticate(context.Background()))

	// No partial-success state: everything is gone.
	assert.Nil(t, set.Session(SessionGame))
	assert.Nil(t, set.Session(SessionFederated))
	assert.True(t, fatal.Load())

	_, err = set.AccessToken(context.Background())
	assert.Error(t, err)
}

func TestSession_CheckVerifyInvalidates(t *testing.T) {
	api := &fakeTokenAPI{}
	set := newTestSet(t, api)

	session, err := set.Create(context.Background(), SessionGame, Credentials{}, backend.ExchangeCodeGrant("x"))
	require.NoError(t, err)

	// Valid without verification.
	assert.True(t, session.Check(context.Background(), false))

	// Verification round trip says the token is invalid: cached token is
	// cleared and subsequent checks fail locally.
	api.verifyErr = &backend.APIError{Code: backend.ErrCodeInvalidToken, StatusCode: 401}
	assert.False(t, session.Check(context.Background(), true))
	assert.False(t, session.Check(context.Background(), false))
	assert.Equal(t, "", session.AccessToken())
}

func TestSession_CheckVerifyTransientKeepsCachedAnswer(t *testing.T) {
	api := &fakeTokenAPI{}
	set := newTestSet(t, api)

	session, err := set.Create(context.Background(), SessionGame, Credentials{}, backend.ExchangeCodeGrant("x"))
	require.NoError(t, err)

	api.verifyErr = &backend.APIError{Code: "errors.com.korefront.common.server_error", StatusCode: 503}
	assert.True(t, session.Check(context.Background(), true))
	assert.NotEqual(t, "", session.AccessToken())
}

func TestSet_CloseRevokesAllSessions(t *testing.T) {
	api := &fakeTokenAPI{}
	set := NewSet(api, testLogger(), nil)

	_, err := set.Create(context.Background(), SessionGame, Credentials{}, backend.ExchangeCodeGrant("x"))
	require.NoError(t, err)
	_, err = set.Create(context.Background(), SessionLauncher, Credentials{}, backend.ExchangeCodeGrant("y"))
	require.NoError(t, err)

	set.Close(context.Background())
	assert.Equal(t, int32(2), api.revokeCalls.Load())
	assert.Nil(t, set.Session(SessionGame))
}
