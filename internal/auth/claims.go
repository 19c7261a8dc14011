package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The backend's access tokens are JWTs. The engine never validates their
// signature (the backend does that); it only reads claims as a fallback when
// a grant response omits the corresponding field.

// tokenExpiry extracts the exp claim from an access token.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// tokenAccount extracts the authenticated account id from an access token.
// The backend uses the standard subject claim.
func tokenAccount(token string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}
