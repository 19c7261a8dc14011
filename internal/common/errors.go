// Package common defines shared constants and sentinel errors used across
// the engine's layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Domain errors mapped from backend error codes.
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAlreadyInParty   = errors.New("already a party member")
	ErrPartyFull        = errors.New("party max size reached")
	ErrInviteExpired    = errors.New("invitation expired")

	// ErrConflict is the terminal form of a revision conflict, surfaced only
	// after bounded resubmission gives up.
	ErrConflict = errors.New("revision conflict")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrNoParty is a local invariant violation: an operation that needs a
	// tracked party was attempted while none exists.
	ErrNoParty = errors.New("no party tracked")

	// ErrNotLeader is a local invariant violation: a leader-only operation
	// was attempted by a regular member.
	ErrNotLeader = errors.New("not the party leader")
)
