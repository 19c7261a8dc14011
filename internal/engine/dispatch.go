package engine

import (
	"context"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/identity"
	"github.com/ddezhin/partykit/internal/party"
	"github.com/ddezhin/partykit/internal/push"
)

// dispatch is the membership state machine. Every party mutation happens
// under the party-wide lock, so a notification can never be applied mid-patch
// and vice versa. Follow-up patches (meta resend, squad layout) run after the
// lock is released because the patch algorithm takes the same lock itself.
func (e *Engine) dispatch(ctx context.Context, ev push.Event) {
	switch ev.Type {
	case push.EventMemberJoined:
		e.onMemberJoined(ctx, ev)
	case push.EventMemberStateUpdated:
		e.onMemberStateUpdated(ctx, ev)
	case push.EventMemberLeft, push.EventMemberKicked, push.EventMemberExpired, push.EventMemberDisconnected:
		e.onMemberGone(ctx, ev)
	case push.EventMemberNewCaptain:
		e.onNewCaptain(ctx, ev)
	case push.EventPartyUpdated:
		e.onPartyUpdated(ctx, ev)
	case push.EventMemberRequireConfirmation:
		e.onRequireConfirmation(ctx, ev)
	case push.EventInitialIntention:
		e.onInitialIntention(ctx, ev)
	case push.EventFriendUpdate, push.EventFriendRemoval, push.EventBlockListUpdate:
		e.onFriendsEvent(ctx, ev)
	default:
		e.log.Debug(ctx, "ignoring push event", "type", ev.Type)
	}
}

func (e *Engine) onMemberJoined(ctx context.Context, ev push.Event) {
	var joined push.MemberJoined
	if err := ev.Decode(&joined); err != nil {
		e.log.Warn(ctx, "undecodable member_joined", "error", err)
		return
	}

	p := e.Party()
	if p == nil || p.ID() != joined.PartyID {
		return
	}

	isSelf := joined.AccountID == e.self.AccountID
	wasLeader := false
	_ = p.WithLock(ctx, func() error {
		wasLeader = p.IsLocalLeader()
		p.AddMember(backend.MemberSnapshot{
			AccountID:   joined.AccountID,
			DisplayName: joined.AccountDN,
			JoinedAt:    joined.JoinedAt,
			Meta:        joined.MemberStateAfter,
			Revision:    joined.Revision,
		})
		return nil
	})

	// The backend does not retain member meta across the join handshake;
	// re-announce our own full meta after our own join.
	if isSelf {
		if err := p.ResendLocalMeta(ctx); err != nil {
			e.log.Warn(ctx, "meta resend after join failed", "error", err)
		}
	}
	if wasLeader && !isSelf {
		if err := p.ReplicateSquadAssignments(ctx); err != nil {
			e.log.Warn(ctx, "squad layout update failed", "error", err)
		}
	}

	e.emit(Notification{
		Kind:      NotifyMemberJoined,
		AccountID: joined.AccountID,
		Who:       identity.Identity{AccountID: joined.AccountID, DisplayName: joined.AccountDN},
	})
}

func (e *Engine) onMemberStateUpdated(ctx context.Context, ev push.Event) {
	var upd push.MemberStateUpdated
	if err := ev.Decode(&upd); err != nil {
		e.log.Warn(ctx, "undecodable member_state_updated", "error", err)
		return
	}

	p := e.Party()
	if p == nil || p.ID() != upd.PartyID {
		return
	}

	var changes party.MemberChanges
	var known bool
	_ = p.WithLock(ctx, func() error {
		changes, known = p.ApplyMemberUpdate(upd.AccountID, upd.Revision, upd.StateUpdated, upd.StateRemoved)
		return nil
	})
	if !known {
		e.log.Debug(ctx, "state update for unknown member", "account_id", upd.AccountID)
		return
	}
	if changes.Any() {
		e.emit(Notification{Kind: NotifyMemberChanged, AccountID: upd.AccountID, Changes: changes})
	}
}

func (e *Engine) onMemberGone(ctx context.Context, ev push.Event) {
	var gone push.MemberGone
	if err := ev.Decode(&gone); err != nil {
		e.log.Warn(ctx, "undecodable member removal", "error", err)
		return
	}

	p := e.Party()
	if p == nil || p.ID() != gone.PartyID {
		return
	}

	if gone.AccountID == e.self.AccountID {
		// Leave implies recreate: the whole aggregate is discarded and a
		// fresh solo party exists before this handler returns.
		e.setParty(nil)
		if err := e.recreateParty(ctx); err != nil {
			e.log.Error(ctx, "party recreate after removal failed", "error", err)
		}
		e.emit(Notification{Kind: NotifyPartyRecreated, AccountID: gone.AccountID})
		return
	}

	wasLeader := false
	removed := false
	_ = p.WithLock(ctx, func() error {
		wasLeader = p.IsLocalLeader()
		removed = p.RemoveMember(gone.AccountID)
		return nil
	})
	if !removed {
		return
	}
	if wasLeader {
		if err := p.ReplicateSquadAssignments(ctx); err != nil {
			e.log.Warn(ctx, "squad layout update failed", "error", err)
		}
	}
	e.emit(Notification{Kind: NotifyMemberGone, AccountID: gone.AccountID})
}

func (e *Engine) onNewCaptain(ctx context.Context, ev push.Event) {
	var promo push.MemberNewCaptain
	if err := ev.Decode(&promo); err != nil {
		e.log.Warn(ctx, "undecodable new_captain", "error", err)
		return
	}

	p := e.Party()
	if p == nil || p.ID() != promo.PartyID {
		return
	}

	location := ""
	_ = p.WithLock(ctx, func() error {
		p.SetLeader(promo.AccountID)
		if m := p.LocalMember(); m != nil {
			location = m.Location()
		}
		return nil
	})

	// Re-announce presence so peers see the handover took locally.
	if err := p.SetLocation(ctx, location); err != nil {
		e.log.Debug(ctx, "presence re-announce failed", "error", err)
	}

	e.emit(Notification{Kind: NotifyNewLeader, AccountID: promo.AccountID})
}

func (e *Engine) onPartyUpdated(ctx context.Context, ev push.Event) {
	var upd push.PartyUpdated
	if err := ev.Decode(&upd); err != nil {
		e.log.Warn(ctx, "undecodable party_updated", "error", err)
		return
	}

	p := e.Party()
	if p == nil || p.ID() != upd.PartyID {
		return
	}

	applied := false
	_ = p.WithLock(ctx, func() error {
		applied = p.ApplyUpdate(upd.Revision, upd.PartyStateAfter, upd.PartyStateGone, nil)
		return nil
	})
	if applied {
		e.emit(Notification{Kind: NotifyPartyUpdated})
	}
}

func (e *Engine) onRequireConfirmation(ctx context.Context, ev push.Event) {
	var req push.MemberRequireConfirmation
	if err := ev.Decode(&req); err != nil {
		e.log.Warn(ctx, "undecodable require_confirmation", "error", err)
		return
	}

	p := e.Party()
	if p == nil || p.ID() != req.PartyID {
		return
	}

	who := identity.Identity{AccountID: req.AccountID, DisplayName: req.AccountDN}
	_ = p.WithLock(ctx, func() error {
		p.AddPendingConfirmation(who)
		return nil
	})

	if e.autoConfirm {
		if err := e.ConfirmJoin(ctx, req.AccountID); err != nil {
			e.log.Warn(ctx, "auto-confirm failed", "account_id", req.AccountID, "error", err)
		}
		return
	}
	e.emit(Notification{Kind: NotifyJoinRequest, AccountID: req.AccountID, Who: who})
}

func (e *Engine) onInitialIntention(ctx context.Context, ev push.Event) {
	var intent push.InitialIntention
	if err := ev.Decode(&intent); err != nil {
		e.log.Warn(ctx, "undecodable initial_intention", "error", err)
		return
	}
	// Surfaced for the local user to decide; the party itself is untouched.
	e.emit(Notification{
		Kind:      NotifyJoinIntention,
		AccountID: intent.RequesterID,
		Who:       identity.Identity{AccountID: intent.RequesterID, DisplayName: intent.RequesterDN},
	})
}

func (e *Engine) onFriendsEvent(ctx context.Context, ev push.Event) {
	// Friend deltas are cheap to re-derive; refetch the summary instead of
	// patching the cache event by event.
	summary, err := e.api.FetchFriendsSummary(ctx, e.self.AccountID)
	if err != nil {
		e.log.Warn(ctx, "friends summary refresh failed", "error", err)
		return
	}
	e.friends.replace(summary)
	e.emit(Notification{Kind: NotifyFriendsChanged})
}
