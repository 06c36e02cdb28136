package domain

import (
	"context"
	"time"
)

// ContentSource exposes the static content graph.
type ContentSource interface {
	// SchedulerCandidates returns every item in scope for goalID with its
	// static scores. Energy and DueAt are left at their zero values.
	SchedulerCandidates(ctx context.Context, goalID string) ([]CandidateNode, error)

	// PrerequisiteParents maps each item to the sources of the Dependency
	// edges that point at it. Items without parents may be absent.
	PrerequisiteParents(ctx context.Context, itemIDs []string) (map[string][]string, error)

	// EdgesFrom returns the outgoing edges of itemID.
	EdgesFrom(ctx context.Context, itemID string) ([]Edge, error)
}

// UserState is per-user mutable memory state.
type UserState interface {
	// MemoryRecord returns the record and whether it exists.
	MemoryRecord(ctx context.Context, userID, itemID string) (MemoryRecord, bool, error)
	SaveMemoryRecord(ctx context.Context, rec MemoryRecord) error
	// MemoryBasics returns energy and due time for the items that have records.
	MemoryBasics(ctx context.Context, userID string, itemIDs []string) (map[string]MemoryBasics, error)
	// UpdateEnergy sets the energy of one item, creating a bare record if needed.
	UpdateEnergy(ctx context.Context, userID, itemID string, energy float64) error
	// ApplyPropagation writes every update and appends event as one batch.
	// It returns the id assigned to the event.
	ApplyPropagation(ctx context.Context, userID string, updates []EnergyUpdate, event PropagationEvent) (int64, error)
	LogPropagation(ctx context.Context, event PropagationEvent) (int64, error)
	// ParentEnergies returns energies for the given items; missing items are absent.
	ParentEnergies(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error)
}

// BanditStore persists bandit arm posteriors.
type BanditStore interface {
	BanditArms(ctx context.Context, userID, goalGroup string) ([]BanditArm, error)
	// InitBanditArms inserts a (1,1) arm for every name that has no row yet.
	// Existing rows are left unchanged.
	InitBanditArms(ctx context.Context, userID, goalGroup string, profileNames []string) error
	SaveBanditArm(ctx context.Context, arm BanditArm) error
}

// SessionStore persists generated sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, s SessionRecord) error
	Session(ctx context.Context, id int64) (SessionRecord, error)
	// PendingSessions lists unrewarded sessions created at or before cutoff,
	// oldest first.
	PendingSessions(ctx context.Context, cutoff time.Time, limit int) ([]SessionRecord, error)
	MarkSessionRewarded(ctx context.Context, id int64, reward float64, at time.Time) error
}

// ReviewLog is the append-only log of processed reviews.
type ReviewLog interface {
	AppendReview(ctx context.Context, e ReviewEntry) error
	// Reviews returns entries for the user's items reviewed in [from, to].
	Reviews(ctx context.Context, userID string, itemIDs []string, from, to time.Time) ([]ReviewEntry, error)
}

// Repository groups every user-side store.
type Repository interface {
	UserState
	BanditStore
	SessionStore
	ReviewLog
}

// Transactor runs fn inside one atomic unit. If fn returns an error none of
// its writes are kept.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(tx Repository) error) error
}
