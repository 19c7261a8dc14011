package party

import (
	"strings"

	"github.com/ddezhin/partykit/internal/schema"
)

// Key tables for the two replicated namespaces. The suffix tag embedded in
// each literal is part of the wire contract; application code goes through
// these handles and never inspects tags by hand.

// Member meta keys.
var (
	keyCosmeticLoadout = schema.JSONKey[CosmeticLoadout]("Default:CosmeticLoadout_j")
	keyFrontendEmote   = schema.JSONKey[FrontendEmote]("Default:FrontendEmote_j")
	keyLobbyState      = schema.JSONKey[LobbyState]("Default:LobbyState_j")
	keyBannerInfo      = schema.JSONKey[BannerInfo]("Default:BannerInfo_j")
	keyBattlePassInfo  = schema.JSONKey[BattlePassInfo]("Default:BattlePassInfo_j")
	keyMapMarker       = schema.JSONKey[MapMarker]("Default:MapMarker_j")
	keyLocation        = schema.StringKey("Default:Location_s")
	keyNumPlayersLeft  = schema.UintKey("Default:NumPlayersLeft_U")
	keyHideInSquad     = schema.BoolKey("Default:HideInSquad_b")
)

// Party meta keys.
var (
	keyPrivacySettings  = schema.JSONKey[PrivacySettings]("Default:PrivacySettings_j")
	keySquadAssignments = schema.JSONKey[rawSquadAssignments]("Default:RawSquadAssignments_j")
	keySquadFill        = schema.BoolKey("Default:SquadFill_b")
	keyPartyState       = schema.StringKey("Default:PartyState_s")
	keyCustomMatchKey   = schema.StringKey("Default:CustomMatchKey_s")
)

// CosmeticLoadout is the j-encoded cosmetic document of one member. The Def
// fields hold full asset paths in the quoted package'/path/Name.Name'
// convention; the accessors on Member reduce them to plain asset names.
type CosmeticLoadout struct {
	Character string `json:"characterDef"`
	Backpack  string `json:"backpackDef"`
	Pickaxe   string `json:"pickaxeDef"`
	Contrail  string `json:"contrailDef"`
}

// FrontendEmote is the currently playing lobby emote.
type FrontendEmote struct {
	EmoteItemDef string `json:"emoteItemDef"`
	EmoteSection int    `json:"emoteSection"`
}

// LobbyState carries readiness and matchmaking state.
type LobbyState struct {
	GameReadiness    string `json:"gameReadiness"`
	ReadyInputType   string `json:"readyInputType"`
	MatchmakingState string `json:"matchmakingState"`
}

// BannerInfo is the member's profile banner.
type BannerInfo struct {
	BannerIconID  string `json:"bannerIconId"`
	BannerColorID string `json:"bannerColorId"`
	SeasonLevel   int    `json:"seasonLevel"`
}

// BattlePassInfo is the member's battle pass progression.
type BattlePassInfo struct {
	HasPurchased bool `json:"bHasPurchasedPass"`
	PassLevel    int  `json:"passLevel"`
}

// MapMarker is the member's ping on the lobby map.
type MapMarker struct {
	IsSet bool    `json:"bIsSet"`
	X     float64 `json:"locationX"`
	Y     float64 `json:"locationY"`
}

// PrivacySettings is the party-level privacy document.
type PrivacySettings struct {
	PartyType                string `json:"partyType"`
	InviteRestriction        string `json:"partyInviteRestriction"`
	OnlyLeaderFriendsCanJoin bool   `json:"bOnlyLeaderFriendsCanJoin"`
}

// rawSquadAssignments is the replicated form of the derived squad layout.
type rawSquadAssignments struct {
	Assignments []SquadAssignment `json:"rawSquadAssignments"`
}

// SquadAssignment places one visible member at an absolute squad slot.
type SquadAssignment struct {
	MemberID      string `json:"memberId"`
	AbsoluteIndex int    `json:"absoluteMemberIdx"`
}

// parseAssetName reduces a full asset path of the form
// Type'/Game/Path/To/Name.Name' to the bare asset name. The name is the
// substring after the final '.' inside the quotes. Values not following the
// convention come back unchanged.
func parseAssetName(path string) string {
	open := strings.IndexByte(path, '\'')
	end := strings.LastIndexByte(path, '\'')
	if open < 0 || end <= open {
		return path
	}
	inner := path[open+1 : end]
	if dot := strings.LastIndexByte(inner, '.'); dot >= 0 {
		return inner[dot+1:]
	}
	return inner
}
