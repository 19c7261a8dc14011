package backend

import (
	"context"
	"net/http"
	"time"
)

// FriendSummary is one entry of the friends summary endpoint.
type FriendSummary struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"account_dn"`
	Alias       string    `json:"alias"`
	Favorite    bool      `json:"favorite"`
	Created     time.Time `json:"created"`
}

// FriendsSummary is the authoritative friends/block state for one account.
type FriendsSummary struct {
	Friends   []FriendSummary `json:"friends"`
	Incoming  []FriendSummary `json:"incoming"`
	Outgoing  []FriendSummary `json:"outgoing"`
	Blocklist []string        `json:"blocklist"`
}

// FetchFriendsSummary returns the caller's friends, pending requests, and
// block list in one round trip. Used at startup and on resynchronization.
func (c *Client) FetchFriendsSummary(ctx context.Context, accountID string) (*FriendsSummary, error) {
	var summary FriendsSummary
	if err := c.do(ctx, http.MethodGet, "/friends/"+accountID+"/summary", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// AcceptFriendRequest accepts (or sends) a friend request.
func (c *Client) AcceptFriendRequest(ctx context.Context, accountID, friendID string) error {
	return c.do(ctx, http.MethodPost, "/friends/"+accountID+"/"+friendID, nil, nil, nil)
}

// RemoveFriend removes a friend or declines a pending request.
func (c *Client) RemoveFriend(ctx context.Context, accountID, friendID string) error {
	return c.do(ctx, http.MethodDelete, "/friends/"+accountID+"/"+friendID, nil, nil, nil)
}
