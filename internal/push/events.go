package push

import (
	"encoding/json"
	"time"
)

// Namespaced event types carried in each push message's "type" field.
const (
	partyNamespace   = "com.korefront.social.party.notification.v0."
	friendsNamespace = "com.korefront.friends.notification.v0."
	chatNamespace    = "com.korefront.social.chat.v0."
)

// Party notification types.
const (
	EventMemberJoined              = partyNamespace + "MEMBER_JOINED"
	EventMemberStateUpdated        = partyNamespace + "MEMBER_STATE_UPDATED"
	EventMemberLeft                = partyNamespace + "MEMBER_LEFT"
	EventMemberExpired             = partyNamespace + "MEMBER_EXPIRED"
	EventMemberKicked              = partyNamespace + "MEMBER_KICKED"
	EventMemberDisconnected        = partyNamespace + "MEMBER_DISCONNECTED"
	EventMemberNewCaptain          = partyNamespace + "MEMBER_NEW_CAPTAIN"
	EventPartyUpdated              = partyNamespace + "PARTY_UPDATED"
	EventMemberRequireConfirmation = partyNamespace + "MEMBER_REQUIRE_CONFIRMATION"
	EventInitialIntention          = partyNamespace + "INITIAL_INTENTION"
	EventPing                      = partyNamespace + "PING"
)

// Friends notification types.
const (
	EventFriendUpdate    = friendsNamespace + "FRIEND"
	EventFriendRemoval   = friendsNamespace + "FRIEND_REMOVAL"
	EventBlockListUpdate = friendsNamespace + "BLOCK_LIST_UPDATE"
)

// Chat types. Whispers travel the presence channel in both directions.
const (
	EventChatWhisper = chatNamespace + "WHISPER"
)

// Event is one decoded push message. Raw is the whole JSON document; payload
// fields live at the top level next to "type", so consumers decode Raw into
// the DTO matching Type.
type Event struct {
	Type       string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// Decode unmarshals the event document into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// MemberJoined announces a member (possibly the local user) entering the
// party.
type MemberJoined struct {
	PartyID          string            `json:"party_id"`
	AccountID        string            `json:"account_id"`
	AccountDN        string            `json:"account_dn"`
	JoinedAt         time.Time         `json:"joined_at"`
	MemberStateAfter map[string]string `json:"member_state_updated"`
	Revision         uint64            `json:"revision"`
}

// MemberStateUpdated carries a member meta delta.
type MemberStateUpdated struct {
	PartyID      string            `json:"party_id"`
	AccountID    string            `json:"account_id"`
	StateUpdated map[string]string `json:"member_state_updated"`
	StateRemoved []string          `json:"member_state_removed"`
	Revision     uint64            `json:"revision"`
}

// MemberGone announces a member leaving for any reason; the event type
// distinguishes left, kicked, expired and disconnected.
type MemberGone struct {
	PartyID   string `json:"party_id"`
	AccountID string `json:"account_id"`
	Revision  uint64 `json:"revision"`
}

// MemberNewCaptain announces a leadership handover.
type MemberNewCaptain struct {
	PartyID   string `json:"party_id"`
	AccountID string `json:"account_id"`
	Revision  uint64 `json:"revision"`
}

// PartyUpdated carries a party-level delta.
type PartyUpdated struct {
	PartyID            string            `json:"party_id"`
	Revision           uint64            `json:"revision"`
	PartyStateAfter    map[string]string `json:"party_state_updated"`
	PartyStateGone     []string          `json:"party_state_removed"`
	MaxNumberOfMembers int               `json:"max_number_of_members"`
	PartyPrivacyType   string            `json:"party_privacy_type"`
}

// MemberRequireConfirmation asks the leader to admit a joining member.
type MemberRequireConfirmation struct {
	PartyID   string `json:"party_id"`
	AccountID string `json:"account_id"`
	AccountDN string `json:"account_dn"`
}

// InitialIntention is a peer announcing it wants to join the local user's
// party.
type InitialIntention struct {
	RequesterID string            `json:"requester_id"`
	RequesterDN string            `json:"requester_dn"`
	Meta        map[string]string `json:"meta"`
	SentAt      time.Time         `json:"sent"`
}

// Whisper is a direct message between two accounts, sent and received on the
// presence channel.
type Whisper struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// FriendUpdate announces a friends-list change.
type FriendUpdate struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Favorite  bool   `json:"favorite"`
}
