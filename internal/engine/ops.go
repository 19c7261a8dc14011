package engine

import (
	"context"
	"fmt"

	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/party"
)

// High-level party operations. Local invariants (party present, leadership)
// are checked before any network call; domain failures arrive as the typed
// sentinels mapped by the backend client.

// Leave exits the current party and creates a fresh solo one. The backend
// also sends a MEMBER_LEFT for the local user; the recreate here covers
// callers that need the new party before the push channel catches up.
func (e *Engine) Leave(ctx context.Context) error {
	p := e.Party()
	if p == nil {
		return fmt.Errorf("engine: no active party: %w", common.ErrNoParty)
	}
	if err := e.api.RemoveMember(ctx, p.ID(), e.self.AccountID); err != nil {
		return err
	}
	e.setParty(nil)
	if err := e.recreateParty(ctx); err != nil {
		return err
	}
	e.emit(Notification{Kind: NotifyPartyRecreated, AccountID: e.self.AccountID})
	return nil
}

// Join leaves the current party and joins the given one, rebuilding the
// mirror from the authoritative snapshot.
func (e *Engine) Join(ctx context.Context, partyID string) error {
	if current := e.Party(); current != nil {
		if current.ID() == partyID {
			return fmt.Errorf("engine: joining own party: %w", common.ErrAlreadyInParty)
		}
		if err := e.api.RemoveMember(ctx, current.ID(), e.self.AccountID); err != nil {
			e.log.Warn(ctx, "leave before join failed", "error", err)
		}
		e.setParty(nil)
	}

	join := e.self
	join.Meta = map[string]string{}
	if err := e.api.JoinParty(ctx, partyID, join); err != nil {
		// Keep the invariant: there is always a party.
		if recreateErr := e.recreateParty(ctx); recreateErr != nil {
			e.log.Error(ctx, "party recreate after failed join", "error", recreateErr)
		}
		return err
	}

	snap, err := e.api.FetchParty(ctx, partyID)
	if err != nil {
		return fmt.Errorf("engine: fetch joined party: %w", err)
	}
	e.setParty(party.FromSnapshot(snap, e.self.AccountID, e.api, e.log))
	return nil
}

// Kick removes another member. Leader only; kicking yourself is a leave.
func (e *Engine) Kick(ctx context.Context, accountID string) error {
	p := e.Party()
	if p == nil {
		return fmt.Errorf("engine: no active party: %w", common.ErrNoParty)
	}
	if accountID == e.self.AccountID {
		return e.Leave(ctx)
	}
	if err := e.requireLeadership(ctx, p); err != nil {
		return err
	}
	return e.api.RemoveMember(ctx, p.ID(), accountID)
}

// Promote transfers leadership to another member. Leader only.
func (e *Engine) Promote(ctx context.Context, accountID string) error {
	p := e.Party()
	if p == nil {
		return fmt.Errorf("engine: no active party: %w", common.ErrNoParty)
	}
	if err := e.requireLeadership(ctx, p); err != nil {
		return err
	}
	var present bool
	_ = p.WithLock(ctx, func() error {
		present = p.Member(accountID) != nil
		return nil
	})
	if !present {
		return fmt.Errorf("engine: promote %s: %w", accountID, common.ErrNotFound)
	}
	return e.api.PromoteMember(ctx, p.ID(), accountID)
}

// Invite invites an account into the current party. Blocked accounts are
// rejected locally.
func (e *Engine) Invite(ctx context.Context, accountID string) error {
	p := e.Party()
	if p == nil {
		return fmt.Errorf("engine: no active party: %w", common.ErrNoParty)
	}
	if e.IsBlocked(accountID) {
		return fmt.Errorf("engine: invite %s: account is blocked: %w", accountID, common.ErrPermissionDenied)
	}
	return e.api.InviteToParty(ctx, p.ID(), accountID)
}

// ConfirmJoin admits a pending join request. Leader only.
func (e *Engine) ConfirmJoin(ctx context.Context, accountID string) error {
	return e.decideJoin(ctx, accountID, e.api.ConfirmMember)
}

// RejectJoin declines a pending join request. Leader only.
func (e *Engine) RejectJoin(ctx context.Context, accountID string) error {
	return e.decideJoin(ctx, accountID, e.api.RejectMember)
}

func (e *Engine) decideJoin(ctx context.Context, accountID string, decide func(context.Context, string, string) error) error {
	p := e.Party()
	if p == nil {
		return fmt.Errorf("engine: no active party: %w", common.ErrNoParty)
	}
	if err := e.requireLeadership(ctx, p); err != nil {
		return err
	}
	if err := decide(ctx, p.ID(), accountID); err != nil {
		return err
	}
	_ = p.WithLock(ctx, func() error {
		p.RemovePendingConfirmation(accountID)
		return nil
	})
	return nil
}

// AddFriend accepts an incoming friend request, or sends one.
func (e *Engine) AddFriend(ctx context.Context, accountID string) error {
	return e.api.AcceptFriendRequest(ctx, e.self.AccountID, accountID)
}

// RemoveFriend removes a friend or declines a pending request.
func (e *Engine) RemoveFriend(ctx context.Context, accountID string) error {
	return e.api.RemoveFriend(ctx, e.self.AccountID, accountID)
}

func (e *Engine) requireLeadership(ctx context.Context, p *party.Party) error {
	var leader bool
	_ = p.WithLock(ctx, func() error {
		leader = p.IsLocalLeader()
		return nil
	})
	if !leader {
		return fmt.Errorf("engine: leader-only operation: %w", common.ErrNotLeader)
	}
	return nil
}
