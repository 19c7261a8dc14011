package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// TokenResponse is the body returned by the token-grant endpoint.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	AccountID        string    `json:"account_id"`
	ClientID         string    `json:"client_id"`
}

// VerifyResponse is the body returned by the token-verify endpoint.
type VerifyResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AccountID string    `json:"account_id"`
	ClientID  string    `json:"client_id"`
}

// Grant builders. The grant_type values are part of the wire contract.

func RefreshGrant(refreshToken string) url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
}

func DeviceAuthGrant(accountID, deviceID, secret string) url.Values {
	return url.Values{
		"grant_type": {"device_auth"},
		"account_id": {accountID},
		"device_id":  {deviceID},
		"secret":     {secret},
	}
}

func ExchangeCodeGrant(code string) url.Values {
	return url.Values{
		"grant_type":    {"exchange_code"},
		"exchange_code": {code},
	}
}

func AuthorizationCodeGrant(code string) url.Values {
	return url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
}

func ClientCredentialsGrant() url.Values {
	return url.Values{
		"grant_type": {"client_credentials"},
	}
}

// GrantToken exchanges a grant (see the builders above) for a token pair.
// The request authenticates with the token client's basic credentials, never
// with a bearer token.
func (c *Client) GrantToken(ctx context.Context, clientID, clientSecret string, grant url.Values) (*TokenResponse, error) {
	var response TokenResponse
	if err := c.doForm(ctx, "/oauth/token", clientID, clientSecret, grant, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// VerifyToken asks the backend whether the given access token is still
// valid. An invalid token surfaces as an *APIError with ErrCodeInvalidToken.
func (c *Client) VerifyToken(ctx context.Context, accessToken string) (*VerifyResponse, error) {
	var response VerifyResponse
	if err := c.doBearer(ctx, http.MethodGet, "/oauth/verify", accessToken, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// RevokeToken invalidates the given access token server-side.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	return c.doBearer(ctx, http.MethodDelete, "/oauth/sessions/"+url.PathEscape(accessToken), accessToken, nil)
}

// DeviceAuthResponse is the body returned by device-auth enrollment. The
// secret is returned exactly once and never readable again.
type DeviceAuthResponse struct {
	AccountID string `json:"account_id"`
	DeviceID  string `json:"device_id"`
	Secret    string `json:"secret"`
}

// CreateDeviceAuth enrolls the calling device for the account, minting a
// long-lived device credential. The access token comes from a short-lived
// grant (exchange or authorization code), so the Authenticator is bypassed.
func (c *Client) CreateDeviceAuth(ctx context.Context, accountID, accessToken string) (*DeviceAuthResponse, error) {
	var response DeviceAuthResponse
	if err := c.doBearer(ctx, http.MethodPost, "/account/"+accountID+"/device-auth", accessToken, &response); err != nil {
		return nil, err
	}
	return &response, nil
}
