package party

import (
	"time"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/identity"
	"github.com/ddezhin/partykit/internal/schema"
	"github.com/ddezhin/partykit/internal/syncx"
)

// RoleCaptain marks the party leader; every other member has an empty role.
const RoleCaptain = "CAPTAIN"

// Readiness is a member's lobby readiness state.
type Readiness string

const (
	NotReady   Readiness = "NotReady"
	Ready      Readiness = "Ready"
	SittingOut Readiness = "SittingOut"
)

// Member mirrors one party member. Its meta is the replicated property bag;
// the derived accessors are pure reads over it. Members are owned by their
// Party's member map and must only be touched under the party lock.
type Member struct {
	identity.Identity
	Role     string
	JoinedAt time.Time
	Meta     schema.Schema
	Revision uint64

	// receivedFirstUpdate flips when the first state update for this member
	// arrives after the join handshake.
	receivedFirstUpdate bool

	// queue serializes outbound meta patches for this member.
	queue syncx.FIFOMutex
}

func memberFromSnapshot(snap backend.MemberSnapshot) *Member {
	return &Member{
		Identity: identity.Identity{AccountID: snap.AccountID, DisplayName: snap.DisplayName},
		Role:     snap.Role,
		JoinedAt: snap.JoinedAt,
		Meta:     schema.FromWire(snap.Meta),
		Revision: snap.Revision,
	}
}

func (m *Member) snapshot() backend.MemberSnapshot {
	return backend.MemberSnapshot{
		AccountID:   m.AccountID,
		DisplayName: m.DisplayName,
		Role:        m.Role,
		JoinedAt:    m.JoinedAt,
		Meta:        m.Meta.Clone(),
		Revision:    m.Revision,
	}
}

// IsLeader reports whether this member holds the captain role.
func (m *Member) IsLeader() bool { return m.Role == RoleCaptain }

// ReceivedFirstUpdate reports whether a state update has been applied since
// the member joined.
func (m *Member) ReceivedFirstUpdate() bool { return m.receivedFirstUpdate }

// Outfit returns the equipped character asset name.
func (m *Member) Outfit() string {
	lo, err := keyCosmeticLoadout.Get(m.Meta)
	if err != nil {
		return ""
	}
	return parseAssetName(lo.Character)
}

// Backpack returns the equipped backpack asset name.
func (m *Member) Backpack() string {
	lo, err := keyCosmeticLoadout.Get(m.Meta)
	if err != nil {
		return ""
	}
	return parseAssetName(lo.Backpack)
}

// Pickaxe returns the equipped pickaxe asset name.
func (m *Member) Pickaxe() string {
	lo, err := keyCosmeticLoadout.Get(m.Meta)
	if err != nil {
		return ""
	}
	return parseAssetName(lo.Pickaxe)
}

// Emote returns the asset name of the emote currently playing ("" when none).
func (m *Member) Emote() string {
	fe, err := keyFrontendEmote.Get(m.Meta)
	if err != nil {
		return ""
	}
	return parseAssetName(fe.EmoteItemDef)
}

// Banner returns the member's banner document.
func (m *Member) Banner() BannerInfo {
	b, _ := keyBannerInfo.Get(m.Meta)
	return b
}

// BattlePass returns the member's battle pass document.
func (m *Member) BattlePass() BattlePassInfo {
	bp, _ := keyBattlePassInfo.Get(m.Meta)
	return bp
}

// Readiness returns the member's lobby readiness; unset meta reads NotReady.
func (m *Member) Readiness() Readiness {
	ls, err := keyLobbyState.Get(m.Meta)
	if err != nil || ls.GameReadiness == "" {
		return NotReady
	}
	return Readiness(ls.GameReadiness)
}

// MatchState returns the member's matchmaking state ("" when idle).
func (m *Member) MatchState() string {
	ls, _ := keyLobbyState.Get(m.Meta)
	return ls.MatchmakingState
}

// Marker returns the member's map marker.
func (m *Member) Marker() MapMarker {
	mk, _ := keyMapMarker.Get(m.Meta)
	return mk
}

// Location returns where in the frontend the member currently is.
func (m *Member) Location() string {
	return keyLocation.Get(m.Meta)
}

// NumPlayersLeft returns the member's players-remaining counter from an
// ongoing match, if replicated.
func (m *Member) NumPlayersLeft() (uint64, bool) {
	return keyNumPlayersLeft.Get(m.Meta)
}

// IsHidden reports whether the member opted out of the visible squad layout.
func (m *Member) IsHidden() bool {
	return keyHideInSquad.Get(m.Meta)
}

// MemberChanges records which derived views a state update touched. It is
// computed by diffing the accessors before and after applying the delta, so
// consumers get granular notifications instead of raw key changes.
type MemberChanges struct {
	Outfit     bool
	Backpack   bool
	Pickaxe    bool
	Emote      bool
	Banner     bool
	BattlePass bool
	Readiness  bool
	MatchState bool
	Marker     bool
	Hidden     bool
}

// Any reports whether at least one derived view changed.
func (c MemberChanges) Any() bool {
	return c != MemberChanges{}
}

// applyUpdate folds a server-delivered delta into the member's meta and
// returns the derived-view diff. The incoming values are already wire-encoded
// strings, so they merge raw. Revision only moves forward.
func (m *Member) applyUpdate(revision uint64, update map[string]string, deleted []string) MemberChanges {
	before := m.derivedView()

	m.Meta.Merge(update)
	m.Meta.Remove(deleted)
	if revision > m.Revision {
		m.Revision = revision
	}
	m.receivedFirstUpdate = true

	after := m.derivedView()
	return MemberChanges{
		Outfit:     before.outfit != after.outfit,
		Backpack:   before.backpack != after.backpack,
		Pickaxe:    before.pickaxe != after.pickaxe,
		Emote:      before.emote != after.emote,
		Banner:     before.banner != after.banner,
		BattlePass: before.battlePass != after.battlePass,
		Readiness:  before.readiness != after.readiness,
		MatchState: before.matchState != after.matchState,
		Marker:     before.marker != after.marker,
		Hidden:     before.hidden != after.hidden,
	}
}

type derivedView struct {
	outfit, backpack, pickaxe, emote string
	banner                           BannerInfo
	battlePass                       BattlePassInfo
	readiness                        Readiness
	matchState                       string
	marker                           MapMarker
	hidden                           bool
}

func (m *Member) derivedView() derivedView {
	return derivedView{
		outfit:     m.Outfit(),
		backpack:   m.Backpack(),
		pickaxe:    m.Pickaxe(),
		emote:      m.Emote(),
		banner:     m.Banner(),
		battlePass: m.BattlePass(),
		readiness:  m.Readiness(),
		matchState: m.MatchState(),
		marker:     m.Marker(),
		hidden:     m.IsHidden(),
	}
}
