// Package propagation spreads the energy change of one review across the
// knowledge graph with a bounded breadth-first walk.
package propagation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

const (
	DefaultMaxDepth   = 3
	DefaultThreshold  = 1e-5
	DefaultMaxUpdates = 20
)

// Config bounds a propagation run. Zero fields select the defaults.
type Config struct {
	MaxDepth   int     `yaml:"max_depth"`
	Threshold  float64 `yaml:"threshold"`
	MaxUpdates int     `yaml:"max_updates"`
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MaxUpdates <= 0 {
		c.MaxUpdates = DefaultMaxUpdates
	}
	return c
}

// Outcome is the result of one propagation run.
type Outcome struct {
	Updates []domain.EnergyUpdate
	Event   domain.PropagationEvent
}

// Engine walks Knowledge edges from a reviewed item.
type Engine struct {
	content domain.ContentSource
	cfg     Config
	logger  zerolog.Logger
}

// NewEngine creates an Engine reading edges from content.
func NewEngine(content domain.ContentSource, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		content: content,
		cfg:     cfg.withDefaults(),
		logger:  logger.With().Str("component", "propagation").Logger(),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type queueEntry struct {
	node  string
	delta float64
	depth int
	path  string
}

// Plan computes the updates a propagation of delta from source would apply
// without writing anything. Energies are read through state.
func (e *Engine) Plan(ctx context.Context, state domain.UserState, userID, source string, delta float64, now time.Time) (Outcome, error) {
	out := Outcome{
		Event: domain.PropagationEvent{
			UserID:       userID,
			SourceItemID: source,
			TriggeredAt:  now,
		},
	}

	visited := map[string]struct{}{source: {}}
	queue := []queueEntry{{node: source, delta: delta, depth: 0, path: source}}

	for len(queue) > 0 && len(out.Updates) < e.cfg.MaxUpdates {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= e.cfg.MaxDepth {
			continue
		}

		edges, err := e.content.EdgesFrom(ctx, cur.node)
		if err != nil {
			return Outcome{}, domain.StorageError("propagation.Plan", fmt.Errorf("edges from %s: %w", cur.node, err))
		}
		edges = lo.Filter(edges, func(ed domain.Edge, _ int) bool {
			_, seen := visited[ed.Target]
			return ed.Type == domain.EdgeKnowledge && !seen
		})
		if len(edges) == 0 {
			continue
		}

		targets := lo.Uniq(lo.Map(edges, func(ed domain.Edge, _ int) string { return ed.Target }))
		energies, err := state.MemoryBasics(ctx, userID, targets)
		if err != nil {
			return Outcome{}, domain.StorageError("propagation.Plan", err)
		}

		for _, ed := range edges {
			if len(out.Updates) >= e.cfg.MaxUpdates {
				break
			}
			if _, seen := visited[ed.Target]; seen {
				continue
			}
			weight := ed.Dist.Weight()
			propagated := cur.delta * weight
			if math.IsNaN(propagated) || math.Abs(propagated) < e.cfg.Threshold {
				continue
			}

			current := energies[ed.Target].Energy
			next := domain.ClampEnergy(current + propagated)
			path := cur.path + " -> " + ed.Target

			out.Updates = append(out.Updates, domain.EnergyUpdate{
				ItemID:    ed.Target,
				OldEnergy: current,
				NewEnergy: next,
			})
			out.Event.Details = append(out.Event.Details, domain.PropagationDetail{
				TargetItemID: ed.Target,
				EnergyChange: next - current,
				Path:         path,
				Reason:       describe(ed.Dist, cur.depth+1, propagated),
			})
			visited[ed.Target] = struct{}{}
			queue = append(queue, queueEntry{node: ed.Target, delta: propagated, depth: cur.depth + 1, path: path})
		}
	}

	return out, nil
}

// Propagate plans a run and applies it through state as one batch together
// with its audit event. Nothing is written when no neighbour was updated.
func (e *Engine) Propagate(ctx context.Context, state domain.UserState, userID, source string, delta float64, now time.Time) (Outcome, error) {
	out, err := e.Plan(ctx, state, userID, source, delta, now)
	if err != nil {
		return Outcome{}, err
	}
	if len(out.Updates) == 0 {
		e.logger.Debug().
			Str("user_id", userID).
			Str("source", source).
			Float64("delta", delta).
			Msg("No neighbours above threshold")
		return out, nil
	}

	id, err := state.ApplyPropagation(ctx, userID, out.Updates, out.Event)
	if err != nil {
		return Outcome{}, domain.StorageError("propagation.Propagate", err)
	}
	out.Event.ID = id

	e.logger.Debug().
		Str("user_id", userID).
		Str("source", source).
		Float64("delta", delta).
		Int("updated", len(out.Updates)).
		Int64("event_id", id).
		Msg("Propagated energy")
	return out, nil
}

func describe(d domain.Distribution, hop int, propagated float64) string {
	return fmt.Sprintf("hop %d: %s, delta %+.6f", hop, d, propagated)
}
