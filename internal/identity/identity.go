// Package identity holds the shared identity value embedded by role-specific
// aggregates (party members, friends, pending requests). Roles compose this
// value instead of inheriting from a common user type; what a role can do is
// expressed through the capability interfaces.
package identity

import "context"

// Identity is the minimal account identity shared by every role.
type Identity struct {
	AccountID   string
	DisplayName string
}

// ID returns the account id.
func (i Identity) ID() string { return i.AccountID }

// Name returns the display name, falling back to the account id when the
// backend did not provide one.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.AccountID
}

// Messageable is a role that can receive a direct message.
type Messageable interface {
	ID() string
	SendMessage(ctx context.Context, body string) error
}

// Inviteable is a role that can be invited into the current party.
type Inviteable interface {
	ID() string
	Invite(ctx context.Context) error
}
