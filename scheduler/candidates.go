// Package scheduler builds review sessions: it gathers candidates for a goal,
// picks a weighting profile with a Thompson-sampling bandit and composes a
// bounded, prerequisite-aware session.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// DefaultBatchSize bounds the ids sent to the store in one call.
const DefaultBatchSize = 500

// CandidateSet is the replayable input of the composer.
type CandidateSet struct {
	Candidates []domain.CandidateNode
	// ParentMap maps an item to its prerequisite parents.
	ParentMap map[string][]string
	// ParentEnergies holds an entry for every parent in ParentMap.
	ParentEnergies map[string]float64
}

// Aggregator merges static content scores with per-user memory state.
type Aggregator struct {
	content   domain.ContentSource
	state     domain.UserState
	batchSize int
	logger    zerolog.Logger
}

// NewAggregator creates an Aggregator. batchSize <= 0 selects DefaultBatchSize.
func NewAggregator(content domain.ContentSource, state domain.UserState, batchSize int, logger zerolog.Logger) *Aggregator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Aggregator{
		content:   content,
		state:     state,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// Candidates returns the schedulable items of goalID for userID at now. Items
// without a record are new and always included; items with a record are
// included once due. An unknown goal yields an empty set.
func (a *Aggregator) Candidates(ctx context.Context, goalID, userID string, now time.Time) (CandidateSet, error) {
	set := CandidateSet{
		ParentMap:      map[string][]string{},
		ParentEnergies: map[string]float64{},
	}

	nodes, err := a.content.SchedulerCandidates(ctx, goalID)
	if err != nil {
		return CandidateSet{}, domain.StorageError("scheduler.Candidates", err)
	}
	if len(nodes) == 0 {
		a.logger.Debug().Str("goal_id", goalID).Msg("No items in scope")
		return set, nil
	}

	ids := lo.Map(nodes, func(n domain.CandidateNode, _ int) string { return n.ItemID })
	basics := make(map[string]domain.MemoryBasics, len(ids))
	for _, chunk := range lo.Chunk(ids, a.batchSize) {
		part, err := a.state.MemoryBasics(ctx, userID, chunk)
		if err != nil {
			return CandidateSet{}, domain.StorageError("scheduler.Candidates", err)
		}
		for k, v := range part {
			basics[k] = v
		}
	}

	for _, n := range nodes {
		if b, ok := basics[n.ItemID]; ok {
			if b.DueAt.After(now) {
				continue
			}
			n.Energy = b.Energy
			n.DueAt = b.DueAt
		} else {
			n.Energy = 0
			n.DueAt = time.Time{}
		}
		set.Candidates = append(set.Candidates, n)
	}

	candidateIDs := lo.Map(set.Candidates, func(n domain.CandidateNode, _ int) string { return n.ItemID })
	for _, chunk := range lo.Chunk(candidateIDs, a.batchSize) {
		part, err := a.content.PrerequisiteParents(ctx, chunk)
		if err != nil {
			return CandidateSet{}, domain.StorageError("scheduler.Candidates", err)
		}
		for k, v := range part {
			if len(v) > 0 {
				set.ParentMap[k] = v
			}
		}
	}

	parents := lo.Uniq(lo.Flatten(lo.Values(set.ParentMap)))
	sort.Strings(parents)
	for _, p := range parents {
		set.ParentEnergies[p] = 0
	}
	for _, chunk := range lo.Chunk(parents, a.batchSize) {
		part, err := a.state.ParentEnergies(ctx, userID, chunk)
		if err != nil {
			return CandidateSet{}, domain.StorageError("scheduler.Candidates", err)
		}
		for k, v := range part {
			set.ParentEnergies[k] = v
		}
	}

	a.logger.Debug().
		Str("goal_id", goalID).
		Str("user_id", userID).
		Int("in_scope", len(nodes)).
		Int("candidates", len(set.Candidates)).
		Int("parents", len(parents)).
		Msg("Aggregated candidates")
	return set, nil
}
