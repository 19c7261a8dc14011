package backend

import (
	"context"
	"net/http"
	"time"
)

// Wire DTOs for the party service. Field naming follows the backend's
// snake_case convention; case conversion to the engine's types happens in
// the party package.

// PartySnapshot is the authoritative server-side state of one party.
type PartySnapshot struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Config    PartyConfig       `json:"config"`
	Members   []MemberSnapshot  `json:"members"`
	Meta      map[string]string `json:"meta"`
	Revision  uint64            `json:"revision"`
}

// PartyConfig is the wire form of a party's configuration block.
type PartyConfig struct {
	Type             string `json:"type"`
	SubType          string `json:"sub_type"`
	Joinability      string `json:"joinability"`
	Discoverability  string `json:"discoverability"`
	MaxSize          int    `json:"max_size"`
	PrivacyType      string `json:"privacy_type"`
	InviteTTLSeconds int    `json:"invite_ttl_seconds"`
	JoinConfirmation bool   `json:"join_confirmation"`
}

// MemberSnapshot is the server-side state of one party member.
type MemberSnapshot struct {
	AccountID   string            `json:"account_id"`
	DisplayName string            `json:"account_dn"`
	Role        string            `json:"role"`
	JoinedAt    time.Time         `json:"joined_at"`
	Meta        map[string]string `json:"meta"`
	Revision    uint64            `json:"revision"`
}

// MetaDelta is the updated/deleted pair carried by patches.
type MetaDelta struct {
	Delete []string          `json:"delete"`
	Update map[string]string `json:"update"`
}

// PartyPatch is the body of PATCH /parties/{id}. The config fields are
// authoritative: joinability, discoverability and max size must be restated
// on every patch even when unchanged.
type PartyPatch struct {
	Config             PartyPatchConfig `json:"config"`
	Meta               MetaDelta        `json:"meta"`
	PartyPrivacyType   string           `json:"party_privacy_type"`
	PartyType          string           `json:"party_type"`
	PartySubType       string           `json:"party_sub_type"`
	MaxNumberOfMembers int              `json:"max_number_of_members"`
	InviteTTLSeconds   int              `json:"invite_ttl_seconds"`
	Revision           uint64           `json:"revision"`
}

// PartyPatchConfig is the nested config block of PartyPatch.
type PartyPatchConfig struct {
	JoinConfirmation bool   `json:"join_confirmation"`
	Joinability      string `json:"joinability"`
	MaxSize          int    `json:"max_size"`
	Discoverability  string `json:"discoverability"`
}

// MemberMetaPatch is the body of PATCH /parties/{id}/members/{id}/meta.
type MemberMetaPatch struct {
	Delete   []string          `json:"delete"`
	Revision uint64            `json:"revision"`
	Update   map[string]string `json:"update"`
}

// CreatePartyRequest creates a fresh party owned by the caller.
type CreatePartyRequest struct {
	Config PartyConfig       `json:"config"`
	Meta   map[string]string `json:"meta"`
	// JoinInfo describes the creator's own membership.
	JoinInfo JoinInfo `json:"join_info"`
}

// JoinInfo identifies the joining member and its initial meta.
type JoinInfo struct {
	AccountID    string            `json:"account_id"`
	DisplayName  string            `json:"account_dn"`
	ConnectionID string            `json:"connection_id"`
	Meta         map[string]string `json:"meta"`
}

// FetchParty returns the authoritative snapshot of one party.
func (c *Client) FetchParty(ctx context.Context, partyID string) (*PartySnapshot, error) {
	var snap PartySnapshot
	if err := c.do(ctx, http.MethodGet, "/parties/"+partyID, nil, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FetchUserParty returns the party the given account is currently a member
// of, or nil when the account has none.
func (c *Client) FetchUserParty(ctx context.Context, accountID string) (*PartySnapshot, error) {
	var response struct {
		Current []PartySnapshot `json:"current"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/"+accountID+"/parties", nil, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Current) == 0 {
		return nil, nil
	}
	return &response.Current[0], nil
}

// CreateParty creates a new party and returns its snapshot.
func (c *Client) CreateParty(ctx context.Context, request CreatePartyRequest) (*PartySnapshot, error) {
	var snap PartySnapshot
	if err := c.do(ctx, http.MethodPost, "/parties", nil, request, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PatchParty submits a revision-carrying party patch.
func (c *Client) PatchParty(ctx context.Context, partyID string, patch PartyPatch) error {
	return c.do(ctx, http.MethodPatch, "/parties/"+partyID, nil, patch, nil)
}

// PatchMemberMeta submits a revision-carrying member meta patch.
func (c *Client) PatchMemberMeta(ctx context.Context, partyID, accountID string, patch MemberMetaPatch) error {
	return c.do(ctx, http.MethodPatch, "/parties/"+partyID+"/members/"+accountID+"/meta", nil, patch, nil)
}

// JoinParty joins the caller to a party.
func (c *Client) JoinParty(ctx context.Context, partyID string, join JoinInfo) error {
	return c.do(ctx, http.MethodPost, "/parties/"+partyID+"/members/"+join.AccountID+"/join", nil, join, nil)
}

// RemoveMember removes a member from a party. With the caller's own account
// id this is a leave; with another member's id it is a kick (leader only).
func (c *Client) RemoveMember(ctx context.Context, partyID, accountID string) error {
	return c.do(ctx, http.MethodDelete, "/parties/"+partyID+"/members/"+accountID, nil, nil, nil)
}

// PromoteMember transfers party leadership (leader only).
func (c *Client) PromoteMember(ctx context.Context, partyID, accountID string) error {
	return c.do(ctx, http.MethodPost, "/parties/"+partyID+"/members/"+accountID+"/promote", nil, nil, nil)
}

// ConfirmMember accepts a pending join confirmation (leader only).
func (c *Client) ConfirmMember(ctx context.Context, partyID, accountID string) error {
	return c.do(ctx, http.MethodPost, "/parties/"+partyID+"/members/"+accountID+"/confirm", nil, nil, nil)
}

// RejectMember declines a pending join confirmation (leader only).
func (c *Client) RejectMember(ctx context.Context, partyID, accountID string) error {
	return c.do(ctx, http.MethodPost, "/parties/"+partyID+"/members/"+accountID+"/reject", nil, nil, nil)
}

// InviteToParty sends a party invitation to an account.
func (c *Client) InviteToParty(ctx context.Context, partyID, accountID string) error {
	return c.do(ctx, http.MethodPost, "/parties/"+partyID+"/invites/"+accountID, nil, nil, nil)
}
