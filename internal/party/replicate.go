package party

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/schema"
)

// maxConflictRetries bounds stale-revision resubmissions of one patch. A
// conflict is normally corrected by the very next attempt, so hitting the
// bound means the revision stream is persistently desynced and the caller
// gets a terminal conflict error instead of a hung loop.
const maxConflictRetries = 5

// Delta is one local mutation: wire-encoded values to merge plus keys to
// delete. A delta is applied locally only after the backend accepts it;
// revision and schema move together or not at all.
type Delta struct {
	Update schema.Schema
	Delete []string
}

// NewDelta returns an empty delta ready for typed writes.
func NewDelta() Delta {
	return Delta{Update: schema.New()}
}

// SendPatch replicates a party-level delta. Concurrent callers are ordered
// by the party's patch queue; the party lock is held across the exchange so
// push notifications cannot be applied mid-patch.
func (p *Party) SendPatch(ctx context.Context, delta Delta) error {
	return p.sendPartyPatch(ctx, func() (Delta, error) { return delta, nil }, nil)
}

// UpdateConfig replicates a configuration change. The whole config block is
// restated on the wire (the backend treats it as authoritative), and the
// local config is committed together with the revision on success. Leader
// only.
func (p *Party) UpdateConfig(ctx context.Context, cfg Config) error {
	return p.sendPartyPatch(ctx, func() (Delta, error) {
		if !p.IsLocalLeader() {
			return Delta{}, fmt.Errorf("update party config: %w", common.ErrNotLeader)
		}
		return NewDelta(), nil
	}, &cfg)
}

// sendPartyPatch runs the patch algorithm for the party aggregate. build is
// evaluated once, under the locks, so it sees current state and can enforce
// local invariants before any network call; the same delta is then
// resubmitted across conflict retries.
func (p *Party) sendPartyPatch(ctx context.Context, build func() (Delta, error), cfg *Config) error {
	releaseQueue, err := p.queue.Lock(ctx)
	if err != nil {
		return err
	}
	defer releaseQueue()

	releaseLock, err := p.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer releaseLock()

	delta, err := build()
	if err != nil {
		return err
	}

	next := p.config
	if cfg != nil {
		next = *cfg
	}

	for attempt := 0; ; attempt++ {
		patch := backend.PartyPatch{
			Config: backend.PartyPatchConfig{
				JoinConfirmation: next.JoinConfirmation,
				Joinability:      next.Joinability,
				MaxSize:          next.MaxSize,
				Discoverability:  next.Discoverability,
			},
			Meta: backend.MetaDelta{
				Delete: delta.Delete,
				Update: map[string]string(delta.Update),
			},
			PartyPrivacyType:   next.PrivacyType,
			PartyType:          next.Type,
			PartySubType:       next.SubType,
			MaxNumberOfMembers: next.MaxSize,
			InviteTTLSeconds:   int(next.InviteTTL / time.Second),
			Revision:           p.revision,
		}

		err := p.api.PatchParty(ctx, p.id, patch)
		if err == nil {
			// The server only reports a revision on conflict; track it
			// optimistically.
			p.revision++
			p.meta.Merge(delta.Update)
			p.meta.Remove(delta.Delete)
			p.config = next
			return nil
		}
		if retryErr := p.handleConflict(ctx, err, attempt, &p.revision); retryErr != nil {
			return retryErr
		}
	}
}

// SendMemberPatch replicates a delta to the local member's own meta. Only the
// local member originates patches to its own meta; remote members are
// mirrored exclusively from push notifications.
func (p *Party) SendMemberPatch(ctx context.Context, delta Delta) error {
	return p.sendMemberPatch(ctx, func(*Member) (Delta, error) { return delta, nil })
}

// ResendLocalMeta re-replicates the local member's entire meta. The backend
// does not retain member meta across the join handshake, so this runs right
// after the local user's own join notification.
func (p *Party) ResendLocalMeta(ctx context.Context) error {
	return p.sendMemberPatch(ctx, func(m *Member) (Delta, error) {
		return Delta{Update: m.Meta.Clone()}, nil
	})
}

// sendMemberPatch is sendPartyPatch's twin for the local member's meta.
func (p *Party) sendMemberPatch(ctx context.Context, build func(m *Member) (Delta, error)) error {
	m := p.LocalMember()
	if m == nil {
		return fmt.Errorf("party %s: local member not joined yet", p.id)
	}

	releaseQueue, err := m.queue.Lock(ctx)
	if err != nil {
		return err
	}
	defer releaseQueue()

	releaseLock, err := p.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer releaseLock()

	delta, err := build(m)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		patch := backend.MemberMetaPatch{
			Delete:   delta.Delete,
			Revision: m.Revision,
			Update:   map[string]string(delta.Update),
		}

		err := p.api.PatchMemberMeta(ctx, p.id, m.AccountID, patch)
		if err == nil {
			m.Revision++
			m.Meta.Merge(delta.Update)
			m.Meta.Remove(delta.Delete)
			return nil
		}
		if retryErr := p.handleConflict(ctx, err, attempt, &m.Revision); retryErr != nil {
			return retryErr
		}
	}
}

// handleConflict decides what a failed patch attempt means. A nil return
// means the revision was corrected and the caller should resubmit; any other
// error is final.
func (p *Party) handleConflict(ctx context.Context, err error, attempt int, revision *uint64) error {
	if !backend.IsCode(err, backend.ErrCodeStaleRevision) {
		// Change-forbidden and domain errors arrive already mapped to
		// sentinels by the transport; nothing to retry.
		return err
	}
	if attempt >= maxConflictRetries {
		return fmt.Errorf("patch conflict not converging after %d attempts: %w", attempt+1, common.ErrConflict)
	}
	corrected, ok := conflictRevision(err)
	if !ok {
		return fmt.Errorf("conflict response without a parsable revision: %w", common.ErrConflict)
	}
	p.log.Debug(ctx, "stale revision, resubmitting patch",
		"local_revision", *revision, "corrected_revision", corrected, "attempt", attempt+1)
	*revision = corrected
	return nil
}

// conflictRevision extracts the server's current revision from a
// stale-revision error. The structured error carries it in the message
// variables; the last numeric variable is the authoritative value.
func conflictRevision(err error) (uint64, bool) {
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	for i := len(apiErr.MessageVars) - 1; i >= 0; i-- {
		if rev, parseErr := strconv.ParseUint(apiErr.MessageVars[i], 10, 64); parseErr == nil {
			return rev, true
		}
	}
	return 0, false
}
