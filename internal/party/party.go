// Package party holds the local mirror of one multiplayer party: the
// aggregates, their derived read views, and the replication protocol that
// pushes local mutations to the backend.
//
// Concurrency model: a Party owns a FIFO party-wide lock shared by push
// notification application and explicit party-mutating calls, so the two can
// never interleave. Each aggregate additionally owns a FIFO patch queue that
// orders its outbound patches. Lock order is always queue first, party lock
// second. Aggregate fields must only be read or written while holding the
// party lock; [Party.WithLock] is the entry point.
package party

import (
	"context"
	"sort"
	"time"

	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/identity"
	"github.com/ddezhin/partykit/internal/logging"
	"github.com/ddezhin/partykit/internal/schema"
	"github.com/ddezhin/partykit/internal/syncx"
)

// Config is the engine-side form of a party's configuration. Wire naming is
// converted at the snapshot boundary.
type Config struct {
	Type             string
	SubType          string
	Joinability      string
	Discoverability  string
	MaxSize          int
	PrivacyType      string
	InviteTTL        time.Duration
	JoinConfirmation bool
}

func configFromWire(w backend.PartyConfig) Config {
	return Config{
		Type:             w.Type,
		SubType:          w.SubType,
		Joinability:      w.Joinability,
		Discoverability:  w.Discoverability,
		MaxSize:          w.MaxSize,
		PrivacyType:      w.PrivacyType,
		InviteTTL:        time.Duration(w.InviteTTLSeconds) * time.Second,
		JoinConfirmation: w.JoinConfirmation,
	}
}

// WireConfig converts a Config to its wire form.
func WireConfig(c Config) backend.PartyConfig { return c.wire() }

func (c Config) wire() backend.PartyConfig {
	return backend.PartyConfig{
		Type:             c.Type,
		SubType:          c.SubType,
		Joinability:      c.Joinability,
		Discoverability:  c.Discoverability,
		MaxSize:          c.MaxSize,
		PrivacyType:      c.PrivacyType,
		InviteTTLSeconds: int(c.InviteTTL / time.Second),
		JoinConfirmation: c.JoinConfirmation,
	}
}

// PendingConfirmation is an ephemeral join request awaiting the leader's
// decision. It is keyed by requester id inside the Party and removed on
// confirm, reject, or a member-left notification for that id.
type PendingConfirmation struct {
	Requester identity.Identity
	CreatedAt time.Time
}

// PatchAPI is the slice of the backend client the replication protocol uses.
type PatchAPI interface {
	PatchParty(ctx context.Context, partyID string, patch backend.PartyPatch) error
	PatchMemberMeta(ctx context.Context, partyID, accountID string, patch backend.MemberMetaPatch) error
}

// Party is the authoritative local mirror of one party.
type Party struct {
	id        string
	createdAt time.Time
	config    Config
	members   map[string]*Member
	meta      schema.Schema
	revision  uint64
	localID   string
	pending   map[string]PendingConfirmation

	api PatchAPI
	log logging.Logger

	// lock is the party-wide lock; queue orders party-level patches.
	lock  syncx.FIFOMutex
	queue syncx.FIFOMutex
}

// FromSnapshot builds the local mirror from an authoritative server snapshot.
// localID distinguishes the local user's own member, the only member allowed
// to originate patches to its own meta.
func FromSnapshot(snap *backend.PartySnapshot, localID string, api PatchAPI, log logging.Logger) *Party {
	p := &Party{
		id:        snap.ID,
		createdAt: snap.CreatedAt,
		config:    configFromWire(snap.Config),
		members:   make(map[string]*Member, len(snap.Members)),
		meta:      schema.FromWire(snap.Meta),
		revision:  snap.Revision,
		localID:   localID,
		pending:   make(map[string]PendingConfirmation),
		api:       api,
		log:       log.With("party_id", snap.ID),
	}
	for _, ms := range snap.Members {
		p.members[ms.AccountID] = memberFromSnapshot(ms)
	}
	return p
}

// Snapshot is the exact inverse of FromSnapshot.
func (p *Party) Snapshot() *backend.PartySnapshot {
	snap := &backend.PartySnapshot{
		ID:        p.id,
		CreatedAt: p.createdAt,
		Config:    p.config.wire(),
		Members:   make([]backend.MemberSnapshot, 0, len(p.members)),
		Meta:      p.meta.Clone(),
		Revision:  p.revision,
	}
	for _, m := range p.members {
		snap.Members = append(snap.Members, m.snapshot())
	}
	sort.Slice(snap.Members, func(i, j int) bool {
		return snap.Members[i].AccountID < snap.Members[j].AccountID
	})
	return snap
}

// WithLock runs fn holding the party-wide lock.
func (p *Party) WithLock(ctx context.Context, fn func() error) error {
	release, err := p.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// ID returns the party id.
func (p *Party) ID() string { return p.id }

// CreatedAt returns the party's creation time.
func (p *Party) CreatedAt() time.Time { return p.createdAt }

// Config returns the current configuration.
func (p *Party) Config() Config { return p.config }

// Revision returns the party-level revision counter.
func (p *Party) Revision() uint64 { return p.revision }

// Member returns the member with the given account id, or nil.
func (p *Party) Member(accountID string) *Member { return p.members[accountID] }

// LocalMember returns the local user's own member, or nil before the join
// handshake completes.
func (p *Party) LocalMember() *Member { return p.members[p.localID] }

// LocalID returns the local user's account id.
func (p *Party) LocalID() string { return p.localID }

// Members returns the members ordered by join time (ties broken by id).
func (p *Party) Members() []*Member {
	out := make([]*Member, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// Size returns the member count.
func (p *Party) Size() int { return len(p.members) }

// Leader returns the captain, or nil during a leadership handover.
func (p *Party) Leader() *Member {
	for _, m := range p.members {
		if m.IsLeader() {
			return m
		}
	}
	return nil
}

// IsLocalLeader reports whether the local user holds the captain role.
func (p *Party) IsLocalLeader() bool {
	m := p.LocalMember()
	return m != nil && m.IsLeader()
}

// AddMember inserts a member built from a join notification's snapshot,
// replacing any stale entry for the same id. It returns the new member.
func (p *Party) AddMember(snap backend.MemberSnapshot) *Member {
	m := memberFromSnapshot(snap)
	p.members[m.AccountID] = m
	delete(p.pending, m.AccountID)
	return m
}

// RemoveMember deletes the member and any pending confirmation for the id.
// It reports whether a member was actually present.
func (p *Party) RemoveMember(accountID string) bool {
	_, ok := p.members[accountID]
	delete(p.members, accountID)
	delete(p.pending, accountID)
	return ok
}

// SetLeader clears the previous captain's role and assigns it to the given
// member.
func (p *Party) SetLeader(accountID string) {
	for _, m := range p.members {
		if m.IsLeader() {
			m.Role = ""
		}
	}
	if m := p.members[accountID]; m != nil {
		m.Role = RoleCaptain
	}
}

// ApplyUpdate folds a party-level push delta into the mirror. Deltas carrying
// a revision at or below the local one are stale echoes of already-applied
// state and are dropped.
func (p *Party) ApplyUpdate(revision uint64, update map[string]string, deleted []string, cfg *Config) bool {
	if revision <= p.revision {
		p.log.Debug(context.Background(), "dropping stale party update",
			"incoming_revision", revision, "local_revision", p.revision)
		return false
	}
	p.revision = revision
	p.meta.Merge(update)
	p.meta.Remove(deleted)
	if cfg != nil {
		p.config = *cfg
	}
	return true
}

// ApplyMemberUpdate folds a member-level push delta into the given member and
// returns the granular derived-view diff computed before application.
func (p *Party) ApplyMemberUpdate(accountID string, revision uint64, update map[string]string, deleted []string) (MemberChanges, bool) {
	m := p.members[accountID]
	if m == nil {
		return MemberChanges{}, false
	}
	return m.applyUpdate(revision, update, deleted), true
}

// AddPendingConfirmation registers a join request awaiting decision.
func (p *Party) AddPendingConfirmation(requester identity.Identity) {
	p.pending[requester.AccountID] = PendingConfirmation{
		Requester: requester,
		CreatedAt: time.Now(),
	}
}

// RemovePendingConfirmation drops the request for the id, reporting whether
// one was registered.
func (p *Party) RemovePendingConfirmation(accountID string) bool {
	_, ok := p.pending[accountID]
	delete(p.pending, accountID)
	return ok
}

// PendingConfirmations lists requests awaiting decision, oldest first.
func (p *Party) PendingConfirmations() []PendingConfirmation {
	out := make([]PendingConfirmation, 0, len(p.pending))
	for _, pc := range p.pending {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SquadAssignments recomputes the visible squad layout: hidden members are
// excluded, and the local user takes index 0 whenever visible. Remaining
// members follow in join order.
func (p *Party) SquadAssignments() []SquadAssignment {
	out := make([]SquadAssignment, 0, len(p.members))
	next := 0

	if local := p.LocalMember(); local != nil && !local.IsHidden() {
		out = append(out, SquadAssignment{MemberID: local.AccountID, AbsoluteIndex: 0})
		next = 1
	}
	for _, m := range p.Members() {
		if m.AccountID == p.localID || m.IsHidden() {
			continue
		}
		out = append(out, SquadAssignment{MemberID: m.AccountID, AbsoluteIndex: next})
		next++
	}
	return out
}
