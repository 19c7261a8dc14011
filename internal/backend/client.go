// Package backend wraps the party backend's REST control API.
//
// A single [Client] carries the base URL, HTTP transport, and an optional
// [Authenticator] that supplies bearer tokens for authenticated endpoints.
// Token-grant endpoints authenticate with HTTP basic credentials instead and
// never consult the Authenticator, which keeps the auth layer free to build
// on this client without a dependency cycle.
//
// Error handling follows the engine's taxonomy: transient failures (5xx,
// 429, transport errors) are retried here with bounded attempts and
// exponential backoff; an invalid-token 401 triggers one reauthentication
// pass and exactly one replay; everything else surfaces as a structured
// [*APIError], wrapped with a domain sentinel from internal/common where the
// code is recognized.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/logging"
)

// Authenticator supplies bearer tokens for authenticated requests.
// AccessToken must block while a global reauthentication pass is in flight
// and return the fresh token once the pass completes.
type Authenticator interface {
	AccessToken(ctx context.Context) (string, error)
	Reauthenticate(ctx context.Context) error
}

const (
	maxTransientRetries = 3
	transientBackoff    = 250 * time.Millisecond
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root of the REST control API.
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. Required.
	Logger logging.Logger
}

// Client is the REST control-API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logging.Logger
	authn      Authenticator
}

// NewClient creates a Client. The Authenticator is attached later with
// SetAuthenticator once the session set exists.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		log:        cfg.Logger,
	}, nil
}

// SetAuthenticator attaches the token source used for bearer authentication.
func (c *Client) SetAuthenticator(a Authenticator) {
	c.authn = a
}

// CloseIdleConnections drops pooled connections. Call after a network
// disruption so the next request opens a fresh socket instead of reusing a
// poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// do performs an authenticated JSON request with transient retry and the
// single reauthenticate-and-replay step for invalid-token responses.
// out may be nil for endpoints with no response body of interest.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	err := c.doRetryTransient(ctx, method, path, query, body, out)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && apiErr.Code == ErrCodeInvalidToken && c.authn != nil {
		c.log.Info(ctx, "access token rejected, reauthenticating", "method", method, "path", path)
		if rerr := c.authn.Reauthenticate(ctx); rerr != nil {
			return fmt.Errorf("backend: reauthentication failed: %w", rerr)
		}
		// Replay the original request exactly once.
		return c.doRetryTransient(ctx, method, path, query, body, out)
	}
	return err
}

func (c *Client) doRetryTransient(ctx context.Context, method, path string, query url.Values, body, out any) error {
	backoff := retry.WithMaxRetries(maxTransientRetries, retry.NewExponential(transientBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.roundTrip(ctx, method, path, query, body, out)
		if isTransient(err) {
			c.log.Warn(ctx, "transient backend error, retrying", "method", method, "path", path, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var token string
	if c.authn != nil {
		t, err := c.authn.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("backend: obtaining access token: %w", err)
		}
		token = t
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	// Request URLs are built by concatenation; url.URL re-encodes path
	// segments that already contain encoded characters.
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	return c.send(request, out)
}

// doForm performs an unauthenticated form-encoded request with HTTP basic
// credentials. Used by the token-grant endpoints only.
func (c *Client) doForm(ctx context.Context, path, clientID, clientSecret string, form url.Values, out any) error {
	backoff := retry.WithMaxRetries(maxTransientRetries, retry.NewExponential(transientBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("backend: create request: %w", err)
		}
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		request.SetBasicAuth(clientID, clientSecret)

		err = c.send(request, out)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// doBearer performs a request with an explicit bearer token, bypassing the
// Authenticator. Used for verify/revoke, where the token under inspection is
// the credential itself.
func (c *Client) doBearer(ctx context.Context, method, path, token string, out any) error {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	return c.send(request, out)
}

func (c *Client) send(request *http.Request, out any) error {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("backend: request to %s %s failed: %w", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("backend: read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		if out == nil || len(responseBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("backend: parse response from %s: %w", request.URL.Path, err)
		}
		return nil
	}

	var apiErr APIError
	if jsonErr := json.Unmarshal(responseBody, &apiErr); jsonErr != nil || apiErr.Code == "" {
		// Non-JSON error body; should not happen with a conforming server.
		return &APIError{
			Code:       "errors.com.korefront.common.unknown",
			Message:    strings.TrimSpace(string(responseBody)),
			StatusCode: response.StatusCode,
		}
	}
	apiErr.StatusCode = response.StatusCode
	return mapDomain(&apiErr)
}

// mapDomain wraps recognized backend codes with the matching sentinel from
// internal/common, so callers can use errors.Is without looking at codes.
// Stale-revision conflicts stay unwrapped: they are protocol-internal and
// handled by the replication layer, never surfaced as domain errors.
func mapDomain(apiErr *APIError) error {
	switch apiErr.Code {
	case ErrCodePartyNotFound, ErrCodeUserNotFound:
		return fmt.Errorf("%w: %w", common.ErrNotFound, apiErr)
	case ErrCodeChangeForbidden:
		return fmt.Errorf("%w: %w", common.ErrPermissionDenied, apiErr)
	case ErrCodeUserHasParty:
		return fmt.Errorf("%w: %w", common.ErrAlreadyInParty, apiErr)
	case ErrCodePartyFull:
		return fmt.Errorf("%w: %w", common.ErrPartyFull, apiErr)
	case ErrCodeInviteExpired:
		return fmt.Errorf("%w: %w", common.ErrInviteExpired, apiErr)
	default:
		return apiErr
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	// Transport-level failure (connection refused, reset, timeout).
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
