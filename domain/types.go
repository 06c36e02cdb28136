// Package domain holds the value types, error taxonomy and repository
// interfaces shared by the review processor, the propagation engine and the
// scheduler.
package domain

import (
	"math"
	"time"
)

// Energy bounds. Energy is a per-user mastery proxy for one item.
const (
	MinEnergy = 0.0
	MaxEnergy = 1.0
)

// ClampEnergy clamps e to [MinEnergy, MaxEnergy]. NaN clamps to MinEnergy.
func ClampEnergy(e float64) float64 {
	if math.IsNaN(e) {
		return MinEnergy
	}
	return math.Min(math.Max(e, MinEnergy), MaxEnergy)
}

// MemoryRecord is the per user × item memory state.
type MemoryRecord struct {
	UserID         string
	ItemID         string
	Stability      float64 // days
	Difficulty     float64
	Energy         float64
	LastReviewedAt time.Time
	DueAt          time.Time // zero when the item was never scheduled
	ReviewCount    int
}

// NewMemoryRecord returns the zero state used before an item's first review.
func NewMemoryRecord(userID, itemID string) MemoryRecord {
	return MemoryRecord{UserID: userID, ItemID: itemID}
}

// MemoryBasics is the slice of a MemoryRecord the scheduler needs.
type MemoryBasics struct {
	Energy float64
	DueAt  time.Time
}

// EnergyUpdate sets one item's energy for a user.
type EnergyUpdate struct {
	ItemID    string
	OldEnergy float64
	NewEnergy float64
}

// CandidateNode is an item eligible for scheduling. It is rebuilt for every
// scheduling request and never persisted.
type CandidateNode struct {
	ItemID            string
	Energy            float64
	DueAt             time.Time // zero means never reviewed
	FoundationalScore float64
	InfluenceScore    float64
	DifficultyScore   float64
	OrderKey          int64
}

// IsNew reports whether the candidate has no review history.
func (c CandidateNode) IsNew() bool {
	return c.DueAt.IsZero()
}

// PropagationDetail records one energy change applied during propagation.
type PropagationDetail struct {
	TargetItemID string
	EnergyChange float64
	Path         string
	Reason       string
}

// PropagationEvent is the audit record of one propagation run.
type PropagationEvent struct {
	ID           int64
	UserID       string
	SourceItemID string
	TriggeredAt  time.Time
	Details      []PropagationDetail
}

// BanditArm is the Beta posterior for one weighting profile.
type BanditArm struct {
	UserID      string
	GoalGroup   string
	ProfileName string
	Successes   float64
	Failures    float64
	UpdatedAt   time.Time
}

// SessionMode restricts which candidate classes a session may contain.
type SessionMode string

const (
	// ModeRevision only schedules items with review history.
	ModeRevision SessionMode = "revision"
	// ModeMixedLearning also introduces new items.
	ModeMixedLearning SessionMode = "mixed_learning"
)

// IsValid reports whether m is a known mode.
func (m SessionMode) IsValid() bool {
	return m == ModeRevision || m == ModeMixedLearning
}

// SessionRecord is a generated session, kept so its outcome can be scored later.
type SessionRecord struct {
	ID          int64
	UserID      string
	GoalID      string
	GoalGroup   string
	ProfileName string
	Mode        SessionMode
	Items       []string
	CreatedAt   time.Time
	RewardedAt  *time.Time
	Reward      *float64
}

// ReviewEntry is one row of the append-only review log.
type ReviewEntry struct {
	UserID       string
	ItemID       string
	Grade        Grade
	ReviewedAt   time.Time
	EnergyBefore float64
	EnergyAfter  float64
}
