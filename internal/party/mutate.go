package party

import (
	"context"
	"fmt"

	"github.com/ddezhin/partykit/internal/common"
)

// Typed mutators. Each builds a wire-encoded delta through the key table and
// replicates it via the patch algorithm; none of them touches local state
// until the backend accepts the patch.

// SetCosmeticLoadout replaces the local member's cosmetic loadout.
func (p *Party) SetCosmeticLoadout(ctx context.Context, lo CosmeticLoadout) error {
	delta := NewDelta()
	if err := keyCosmeticLoadout.Set(delta.Update, lo); err != nil {
		return err
	}
	return p.SendMemberPatch(ctx, delta)
}

// SetEmote starts playing an emote in the lobby.
func (p *Party) SetEmote(ctx context.Context, emoteItemDef string) error {
	delta := NewDelta()
	if err := keyFrontendEmote.Set(delta.Update, FrontendEmote{EmoteItemDef: emoteItemDef, EmoteSection: -1}); err != nil {
		return err
	}
	return p.SendMemberPatch(ctx, delta)
}

// ClearEmote stops the currently playing emote.
func (p *Party) ClearEmote(ctx context.Context) error {
	return p.SendMemberPatch(ctx, Delta{Delete: []string{keyFrontendEmote.String()}})
}

// SetReadiness updates the local member's readiness, preserving the rest of
// the lobby-state document.
func (p *Party) SetReadiness(ctx context.Context, r Readiness) error {
	return p.sendMemberPatch(ctx, func(m *Member) (Delta, error) {
		ls, err := keyLobbyState.Get(m.Meta)
		if err != nil {
			return Delta{}, err
		}
		ls.GameReadiness = string(r)
		delta := NewDelta()
		if err := keyLobbyState.Set(delta.Update, ls); err != nil {
			return Delta{}, err
		}
		return delta, nil
	})
}

// SetMatchmakingState updates the local member's matchmaking state,
// preserving the rest of the lobby-state document.
func (p *Party) SetMatchmakingState(ctx context.Context, state string) error {
	return p.sendMemberPatch(ctx, func(m *Member) (Delta, error) {
		ls, err := keyLobbyState.Get(m.Meta)
		if err != nil {
			return Delta{}, err
		}
		ls.MatchmakingState = state
		delta := NewDelta()
		if err := keyLobbyState.Set(delta.Update, ls); err != nil {
			return Delta{}, err
		}
		return delta, nil
	})
}

// SetBanner replaces the local member's banner.
func (p *Party) SetBanner(ctx context.Context, b BannerInfo) error {
	delta := NewDelta()
	if err := keyBannerInfo.Set(delta.Update, b); err != nil {
		return err
	}
	return p.SendMemberPatch(ctx, delta)
}

// SetBattlePass replaces the local member's battle pass document.
func (p *Party) SetBattlePass(ctx context.Context, bp BattlePassInfo) error {
	delta := NewDelta()
	if err := keyBattlePassInfo.Set(delta.Update, bp); err != nil {
		return err
	}
	return p.SendMemberPatch(ctx, delta)
}

// SetMarker places or clears the local member's map marker.
func (p *Party) SetMarker(ctx context.Context, mk MapMarker) error {
	delta := NewDelta()
	if err := keyMapMarker.Set(delta.Update, mk); err != nil {
		return err
	}
	return p.SendMemberPatch(ctx, delta)
}

// SetHidden toggles the local member's visibility in the squad layout.
func (p *Party) SetHidden(ctx context.Context, hidden bool) error {
	delta := NewDelta()
	keyHideInSquad.Set(delta.Update, hidden)
	return p.SendMemberPatch(ctx, delta)
}

// SetLocation announces where in the frontend the local member is.
func (p *Party) SetLocation(ctx context.Context, location string) error {
	delta := NewDelta()
	keyLocation.Set(delta.Update, location)
	return p.SendMemberPatch(ctx, delta)
}

// SetPrivacy replicates the party privacy document. Leader only.
func (p *Party) SetPrivacy(ctx context.Context, ps PrivacySettings) error {
	return p.sendPartyPatch(ctx, func() (Delta, error) {
		if !p.IsLocalLeader() {
			return Delta{}, fmt.Errorf("set party privacy: %w", common.ErrNotLeader)
		}
		delta := NewDelta()
		if err := keyPrivacySettings.Set(delta.Update, ps); err != nil {
			return Delta{}, err
		}
		return delta, nil
	}, nil)
}

// SetSquadFill toggles backfilling open squad slots with strangers. Leader
// only.
func (p *Party) SetSquadFill(ctx context.Context, fill bool) error {
	return p.sendPartyPatch(ctx, func() (Delta, error) {
		if !p.IsLocalLeader() {
			return Delta{}, fmt.Errorf("set squad fill: %w", common.ErrNotLeader)
		}
		delta := NewDelta()
		keySquadFill.Set(delta.Update, fill)
		return delta, nil
	}, nil)
}

// SetCustomMatchKey replicates the custom match key. Leader only.
func (p *Party) SetCustomMatchKey(ctx context.Context, key string) error {
	return p.sendPartyPatch(ctx, func() (Delta, error) {
		if !p.IsLocalLeader() {
			return Delta{}, fmt.Errorf("set custom match key: %w", common.ErrNotLeader)
		}
		delta := NewDelta()
		keyCustomMatchKey.Set(delta.Update, key)
		return delta, nil
	}, nil)
}

// SetPartyState replicates the party lifecycle state string. Leader only.
func (p *Party) SetPartyState(ctx context.Context, state string) error {
	return p.sendPartyPatch(ctx, func() (Delta, error) {
		if !p.IsLocalLeader() {
			return Delta{}, fmt.Errorf("set party state: %w", common.ErrNotLeader)
		}
		delta := NewDelta()
		keyPartyState.Set(delta.Update, state)
		return delta, nil
	}, nil)
}

// ReplicateSquadAssignments recomputes the squad layout from current members
// and replicates it. Leader only; called after membership changes.
func (p *Party) ReplicateSquadAssignments(ctx context.Context) error {
	return p.sendPartyPatch(ctx, func() (Delta, error) {
		if !p.IsLocalLeader() {
			return Delta{}, fmt.Errorf("replicate squad assignments: %w", common.ErrNotLeader)
		}
		delta := NewDelta()
		raw := rawSquadAssignments{Assignments: p.SquadAssignments()}
		if err := keySquadAssignments.Set(delta.Update, raw); err != nil {
			return Delta{}, err
		}
		return delta, nil
	}, nil)
}

// SquadFill reads the replicated squad fill flag.
func (p *Party) SquadFill() bool { return keySquadFill.Get(p.meta) }

// PartyState reads the replicated lifecycle state.
func (p *Party) PartyState() string { return keyPartyState.Get(p.meta) }

// CustomMatchKey reads the replicated custom match key.
func (p *Party) CustomMatchKey() string { return keyCustomMatchKey.Get(p.meta) }

// Privacy reads the replicated privacy document.
func (p *Party) Privacy() PrivacySettings {
	ps, _ := keyPrivacySettings.Get(p.meta)
	return ps
}
