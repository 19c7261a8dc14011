package backend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, Logger: testLogger()})
	require.NoError(t, err)
	return client, server
}

func writeAPIError(w http.ResponseWriter, status int, code string, vars ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errorCode":    code,
		"errorMessage": code,
		"messageVars":  vars,
	})
}

// staticAuth is a fixed-token Authenticator counting reauthentication passes.
type staticAuth struct {
	token    string
	reauths  atomic.Int32
	reauthFn func()
}

func (a *staticAuth) AccessToken(ctx context.Context) (string, error) { return a.token, nil }

func (a *staticAuth) Reauthenticate(ctx context.Context) error {
	a.reauths.Add(1)
	if a.reauthFn != nil {
		a.reauthFn()
	}
	return nil
}

func TestClient_TransientRetry(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "p1"})
	}))

	var out struct {
		ID string `json:"id"`
	}
	err := client.do(context.Background(), http.MethodGet, "/parties/p1", nil, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "p1", out.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_TransientRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusServiceUnavailable, "errors.com.korefront.common.server_error")
	}))

	err := client.do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	require.Error(t, err)
	// initial attempt + maxTransientRetries
	assert.Equal(t, int32(maxTransientRetries+1), calls.Load())
}

func TestClient_InvalidTokenReauthAndReplayOnce(t *testing.T) {
	auth := &staticAuth{token: "stale"}
	auth.reauthFn = func() { auth.token = "fresh" }

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeAPIError(w, http.StatusUnauthorized, ErrCodeInvalidToken)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	client.SetAuthenticator(auth)

	err := client.do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), auth.reauths.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_InvalidTokenReplayFailureIsFatal(t *testing.T) {
	auth := &staticAuth{token: "stale"}

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusUnauthorized, ErrCodeInvalidToken)
	}))
	client.SetAuthenticator(auth)

	err := client.do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidToken))
	// one reauthentication, one replay, no loop
	assert.Equal(t, int32(1), auth.reauths.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_DomainErrorMapping(t *testing.T) {
	tests := []struct {
		code     string
		status   int
		sentinel error
	}{
		{ErrCodePartyNotFound, http.StatusNotFound, common.ErrNotFound},
		{ErrCodeChangeForbidden, http.StatusForbidden, common.ErrPermissionDenied},
		{ErrCodeUserHasParty, http.StatusConflict, common.ErrAlreadyInParty},
		{ErrCodePartyFull, http.StatusConflict, common.ErrPartyFull},
		{ErrCodeInviteExpired, http.StatusBadRequest, common.ErrInviteExpired},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tc.status, tc.code)
			}))
			err := client.do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
			assert.True(t, IsCode(err, tc.code), "structured error must stay reachable")
		})
	}
}

func TestClient_StaleRevisionStaysUnwrapped(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusConflict, ErrCodeStaleRevision, "expected", "41")
	}))

	err := client.PatchParty(context.Background(), "p1", PartyPatch{Revision: 7})
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeStaleRevision))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []string{"expected", "41"}, apiErr.MessageVars)
	// Must not map to a domain sentinel: the replication layer owns it.
	assert.NotErrorIs(t, err, common.ErrConflict)
	assert.NotErrorIs(t, err, common.ErrPermissionDenied)
}

func TestClient_GrantTokenFormEncoding(t *testing.T) {
	var gotForm map[string][]string
	var gotUser, gotPass string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		gotUser, gotPass, ok = r.BasicAuth()
		require.True(t, ok)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "at", AccountID: "acc"})
	}))

	resp, err := client.GrantToken(context.Background(), "cid", "csecret",
		DeviceAuthGrant("acc", "dev", "s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "at", resp.AccessToken)
	assert.Equal(t, "cid", gotUser)
	assert.Equal(t, "csecret", gotPass)
	assert.Equal(t, []string{"device_auth"}, gotForm["grant_type"])
	assert.Equal(t, []string{"dev"}, gotForm["device_id"])
}

func TestClient_CreateDeviceAuth(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/account/acc-1/device-auth", r.URL.Path)
		assert.Equal(t, "Bearer exchange-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(DeviceAuthResponse{
			AccountID: "acc-1",
			DeviceID:  "dev-9",
			Secret:    "s3cret",
		})
	}))

	resp, err := client.CreateDeviceAuth(context.Background(), "acc-1", "exchange-token")
	require.NoError(t, err)
	assert.Equal(t, "dev-9", resp.DeviceID)
	assert.Equal(t, "s3cret", resp.Secret)
}

func TestClient_PartyPatchBodyShape(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/parties/p1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))

	patch := PartyPatch{
		Config: PartyPatchConfig{
			JoinConfirmation: true,
			Joinability:      "OPEN",
			MaxSize:          16,
			Discoverability:  "ALL",
		},
		Meta: MetaDelta{
			Delete: []string{"Default:Old_s"},
			Update: map[string]string{"Default:SquadFill_b": "true"},
		},
		PartyPrivacyType:   "Public",
		PartyType:          "DEFAULT",
		PartySubType:       "default",
		MaxNumberOfMembers: 16,
		InviteTTLSeconds:   14400,
		Revision:           12,
	}
	require.NoError(t, client.PatchParty(context.Background(), "p1", patch))

	// Wire naming is part of the contract.
	cfg, ok := gotBody["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "OPEN", cfg["joinability"])
	assert.Equal(t, float64(16), cfg["max_size"])
	assert.Equal(t, "ALL", cfg["discoverability"])
	assert.Equal(t, true, cfg["join_confirmation"])
	assert.Equal(t, "Public", gotBody["party_privacy_type"])
	assert.Equal(t, float64(16), gotBody["max_number_of_members"])
	assert.Equal(t, float64(14400), gotBody["invite_ttl_seconds"])
	assert.Equal(t, float64(12), gotBody["revision"])

	meta, ok := gotBody["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"Default:Old_s"}, meta["delete"])
}
