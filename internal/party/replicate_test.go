package party

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/identity"
)

func testIdentity(id, name string) identity.Identity {
	return identity.Identity{AccountID: id, DisplayName: name}
}

// fakePatchAPI records patches and lets tests script responses.
type fakePatchAPI struct {
	mu          sync.Mutex
	partyCalls  []backend.PartyPatch
	memberCalls []backend.MemberMetaPatch
	partyFn     func(patch backend.PartyPatch) error
	memberFn    func(patch backend.MemberMetaPatch) error
}

func (f *fakePatchAPI) PatchParty(ctx context.Context, partyID string, patch backend.PartyPatch) error {
	f.mu.Lock()
	f.partyCalls = append(f.partyCalls, patch)
	f.mu.Unlock()
	if f.partyFn != nil {
		return f.partyFn(patch)
	}
	return nil
}

func (f *fakePatchAPI) PatchMemberMeta(ctx context.Context, partyID, accountID string, patch backend.MemberMetaPatch) error {
	f.mu.Lock()
	f.memberCalls = append(f.memberCalls, patch)
	f.mu.Unlock()
	if f.memberFn != nil {
		return f.memberFn(patch)
	}
	return nil
}

func (f *fakePatchAPI) recordedPartyCalls() []backend.PartyPatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.PartyPatch(nil), f.partyCalls...)
}

func (f *fakePatchAPI) recordedMemberCalls() []backend.MemberMetaPatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.MemberMetaPatch(nil), f.memberCalls...)
}

func staleRevisionError(current string) error {
	return &backend.APIError{
		Code:        backend.ErrCodeStaleRevision,
		Message:     "stale revision",
		MessageVars: []string{"expected", current},
		StatusCode:  409,
	}
}

func TestSendPatch_SuccessAdvancesRevisionByOne(t *testing.T) {
	api := &fakePatchAPI{}
	p := newTestParty(t, api)
	require.Equal(t, uint64(7), p.Revision())

	delta := NewDelta()
	keyPartyState.Set(delta.Update, "InGame")
	require.NoError(t, p.SendPatch(context.Background(), delta))

	assert.Equal(t, uint64(8), p.Revision())
	assert.Equal(t, "InGame", p.PartyState())

	calls := api.recordedPartyCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint64(7), calls[0].Revision)
	// Config is restated on every patch even when unchanged.
	assert.Equal(t, "OPEN", calls[0].Config.Joinability)
	assert.Equal(t, 16, calls[0].MaxNumberOfMembers)
}

func TestSendPatch_StaleRevisionResubmitsSameDelta(t *testing.T) {
	api := &fakePatchAPI{}
	api.partyFn = func(patch backend.PartyPatch) error {
		if patch.Revision != 41 {
			return staleRevisionError("41")
		}
		return nil
	}
	p := newTestParty(t, api)

	delta := NewDelta()
	keyPartyState.Set(delta.Update, "InGame")
	require.NoError(t, p.SendPatch(context.Background(), delta))

	calls := api.recordedPartyCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, uint64(7), calls[0].Revision)
	assert.Equal(t, uint64(41), calls[1].Revision)
	assert.Equal(t, calls[0].Meta, calls[1].Meta, "resubmission must carry the same delta")

	// After a corrected revision R, the successful patch leaves local at R+1.
	assert.Equal(t, uint64(42), p.Revision())
}

func TestSendPatch_ConflictRetriesBounded(t *testing.T) {
	api := &fakePatchAPI{}
	api.partyFn = func(backend.PartyPatch) error { return staleRevisionError("41") }
	p := newTestParty(t, api)

	err := p.SendPatch(context.Background(), NewDelta())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Len(t, api.recordedPartyCalls(), maxConflictRetries+1)

	// Local state is untouched after a terminal conflict.
	assert.Equal(t, "BattleRoyaleView", p.PartyState())
}

func TestSendPatch_PermissionDeniedNoRetry(t *testing.T) {
	api := &fakePatchAPI{}
	api.partyFn = func(backend.PartyPatch) error {
		return common.ErrPermissionDenied
	}
	p := newTestParty(t, api)

	err := p.SendPatch(context.Background(), NewDelta())
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.Len(t, api.recordedPartyCalls(), 1)
	assert.Equal(t, uint64(7), p.Revision())
}

func TestSendMemberPatch_Success(t *testing.T) {
	api := &fakePatchAPI{}
	p := newTestParty(t, api)

	require.NoError(t, p.SetLocation(context.Background(), "InGame"))

	m := p.Member("acc-local")
	assert.Equal(t, uint64(4), m.Revision)
	assert.Equal(t, "InGame", m.Location())

	calls := api.recordedMemberCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint64(3), calls[0].Revision)
	assert.Equal(t, "InGame", calls[0].Update["Default:Location_s"])
}

func TestSendMemberPatch_NoLocalMember(t *testing.T) {
	p := FromSnapshot(testSnapshot(), "acc-unknown", &fakePatchAPI{}, testLogger())

	err := p.SetLocation(context.Background(), "InGame")
	assert.Error(t, err)
}

func TestSendMemberPatch_FIFOOrder(t *testing.T) {
	api := &fakePatchAPI{}
	api.memberFn = func(backend.MemberMetaPatch) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}
	p := newTestParty(t, api)

	locations := []string{"A", "B", "C", "D"}
	var wg sync.WaitGroup
	for i, loc := range locations {
		wg.Add(1)
		go func(delay time.Duration, loc string) {
			defer wg.Done()
			time.Sleep(delay)
			assert.NoError(t, p.SetLocation(context.Background(), loc))
		}(time.Duration(i)*20*time.Millisecond, loc)
	}
	wg.Wait()

	calls := api.recordedMemberCalls()
	require.Len(t, calls, len(locations))
	for i, call := range calls {
		assert.Equal(t, locations[i], call.Update["Default:Location_s"], "call %d out of order", i)
		assert.Equal(t, uint64(3+i), call.Revision, "revisions must advance one per ordered patch")
	}
}

func TestSendPatch_NotificationAndPatchDoNotInterleave(t *testing.T) {
	api := &fakePatchAPI{}
	inFlight := make(chan struct{})
	blockPatch := make(chan struct{})
	var once sync.Once
	api.memberFn = func(backend.MemberMetaPatch) error {
		once.Do(func() {
			close(inFlight)
			<-blockPatch
		})
		return nil
	}
	p := newTestParty(t, api)

	patchDone := make(chan error, 1)
	go func() {
		patchDone <- p.SetLocation(context.Background(), "InGame")
	}()
	<-inFlight

	// A push notification for the same member arrives mid-patch; it must
	// wait for the party lock.
	notifDone := make(chan struct{})
	go func() {
		defer close(notifDone)
		_ = p.WithLock(context.Background(), func() error {
			p.ApplyMemberUpdate("acc-local", 9, map[string]string{"Default:NumPlayersLeft_U": "42"}, nil)
			return nil
		})
	}()

	select {
	case <-notifDone:
		t.Fatal("notification applied while a patch was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(blockPatch)
	require.NoError(t, <-patchDone)
	<-notifDone

	// Both effects are present: no lost update under the shared lock.
	m := p.Member("acc-local")
	assert.Equal(t, "InGame", m.Location())
	left, ok := m.NumPlayersLeft()
	require.True(t, ok)
	assert.Equal(t, uint64(42), left)
}

func TestUpdateConfig_CommitsWithRevision(t *testing.T) {
	api := &fakePatchAPI{}
	p := newTestParty(t, api)

	cfg := p.Config()
	cfg.Joinability = "INVITE_AND_FORMER"
	cfg.MaxSize = 4
	require.NoError(t, p.UpdateConfig(context.Background(), cfg))

	assert.Equal(t, "INVITE_AND_FORMER", p.Config().Joinability)
	assert.Equal(t, 4, p.Config().MaxSize)
	assert.Equal(t, uint64(8), p.Revision())

	calls := api.recordedPartyCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "INVITE_AND_FORMER", calls[0].Config.Joinability)
	assert.Equal(t, 4, calls[0].MaxNumberOfMembers)
}

func TestLeaderOnlyMutatorsRejectNonLeader(t *testing.T) {
	api := &fakePatchAPI{}
	p := newTestParty(t, api)
	p.SetLeader("acc-peer")

	ctx := context.Background()
	assert.ErrorIs(t, p.SetSquadFill(ctx, true), common.ErrNotLeader)
	assert.ErrorIs(t, p.SetPrivacy(ctx, PrivacySettings{PartyType: "Private"}), common.ErrNotLeader)
	assert.ErrorIs(t, p.SetCustomMatchKey(ctx, "scrims"), common.ErrNotLeader)
	assert.ErrorIs(t, p.ReplicateSquadAssignments(ctx), common.ErrNotLeader)
	assert.ErrorIs(t, p.UpdateConfig(ctx, p.Config()), common.ErrNotLeader)

	// No network call was attempted.
	assert.Empty(t, api.recordedPartyCalls())
}

func TestResendLocalMeta_SendsFullBag(t *testing.T) {
	api := &fakePatchAPI{}
	p := newTestParty(t, api)

	require.NoError(t, p.ResendLocalMeta(context.Background()))

	calls := api.recordedMemberCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Lobby", calls[0].Update["Default:Location_s"])
}

func TestReplicateSquadAssignments_WritesLayout(t *testing.T) {
	api := &fakePatchAPI{}
	p := newTestParty(t, api)

	require.NoError(t, p.ReplicateSquadAssignments(context.Background()))

	calls := api.recordedPartyCalls()
	require.Len(t, calls, 1)
	raw := calls[0].Meta.Update["Default:RawSquadAssignments_j"]
	assert.Contains(t, raw, `"memberId":"acc-local"`)
	assert.Contains(t, raw, `"absoluteMemberIdx":0`)
}
