package backend

import (
	"errors"
	"fmt"
)

// APIError is a structured error response from the backend. All services
// share the same JSON shape. Callers use errors.As to reach the structured
// fields, or IsCode for a single code check:
//
//	var apiErr *backend.APIError
//	if errors.As(err, &apiErr) {
//	    if apiErr.Code == backend.ErrCodeStaleRevision { ... }
//	}
type APIError struct {
	// Code is the dotted backend error code
	// (e.g. "errors.com.korefront.social.party.stale_revision").
	Code string `json:"errorCode"`
	// Message is the human-readable description from the server.
	Message string `json:"errorMessage"`
	// MessageVars carries the variable fields referenced by Message. For a
	// stale-revision conflict the current server-side revision is in here.
	MessageVars []string `json:"messageVars"`
	// NumericCode is the backend's numeric error identifier.
	NumericCode int `json:"numericErrorCode"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Backend error codes the engine reacts to.
const (
	ErrCodeStaleRevision   = "errors.com.korefront.social.party.stale_revision"
	ErrCodeChangeForbidden = "errors.com.korefront.social.party.party_change_forbidden"
	ErrCodePartyNotFound   = "errors.com.korefront.social.party.party_not_found"
	ErrCodeUserHasParty    = "errors.com.korefront.social.party.user_has_party"
	ErrCodePartyFull       = "errors.com.korefront.social.party.party_is_full"
	ErrCodeInviteExpired   = "errors.com.korefront.social.party.invite.expired"
	ErrCodeUserNotFound    = "errors.com.korefront.account.account_not_found"
	ErrCodeInvalidToken    = "errors.com.korefront.common.oauth.invalid_token"
	ErrCodeInvalidGrant    = "errors.com.korefront.common.oauth.invalid_grant"
	ErrCodeThrottled       = "errors.com.korefront.common.throttled"
)

// IsCode checks whether err is an *APIError with the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
