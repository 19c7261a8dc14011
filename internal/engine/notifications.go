package engine

import (
	"github.com/ddezhin/partykit/internal/identity"
	"github.com/ddezhin/partykit/internal/party"
)

// NotificationKind names a granular state change surfaced to consumers.
type NotificationKind string

const (
	NotifyMemberJoined   NotificationKind = "member_joined"
	NotifyMemberChanged  NotificationKind = "member_changed"
	NotifyMemberGone     NotificationKind = "member_gone"
	NotifyNewLeader      NotificationKind = "new_leader"
	NotifyPartyUpdated   NotificationKind = "party_updated"
	NotifyPartyRecreated NotificationKind = "party_recreated"
	NotifyJoinRequest    NotificationKind = "join_request"
	NotifyJoinIntention  NotificationKind = "join_intention"
	NotifyFriendsChanged NotificationKind = "friends_changed"
)

// Notification is one consumer-facing state change. Changes is populated for
// member_changed only.
type Notification struct {
	Kind      NotificationKind
	AccountID string
	Who       identity.Identity
	Changes   party.MemberChanges
}

// emit forwards a notification without ever blocking the state machine; a
// slow or absent consumer loses events, which mirrors the best-effort nature
// of the channel feeding them.
func (e *Engine) emit(n Notification) {
	select {
	case e.notifications <- n:
	default:
	}
}
