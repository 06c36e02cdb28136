// Package review applies a single graded review to a learner's memory state
// and spreads the resulting energy change through the knowledge graph.
package review

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
	"github.com/iqrahapp/iqrah-mobile-sub001/propagation"
	"github.com/iqrahapp/iqrah-mobile-sub001/srs"
)

const (
	DefaultTargetRetention = 0.9
	DefaultEpsilon         = 1e-4
)

// GradeDeltas is the base energy change for each grade before the
// (1 - energy) diminishing-returns factor is applied.
type GradeDeltas struct {
	Again float64 `yaml:"again"`
	Hard  float64 `yaml:"hard"`
	Good  float64 `yaml:"good"`
	Easy  float64 `yaml:"easy"`
}

// DefaultGradeDeltas returns the stock per-grade base deltas.
func DefaultGradeDeltas() GradeDeltas {
	return GradeDeltas{Again: -0.1, Hard: 0.05, Good: 0.1, Easy: 0.15}
}

// For returns the base delta of g.
func (d GradeDeltas) For(g domain.Grade) float64 {
	switch g {
	case domain.Again:
		return d.Again
	case domain.Hard:
		return d.Hard
	case domain.Good:
		return d.Good
	case domain.Easy:
		return d.Easy
	default:
		return 0
	}
}

// Config tunes the processor. Zero fields select the defaults.
type Config struct {
	TargetRetention float64     `yaml:"target_retention"`
	Epsilon         float64     `yaml:"epsilon"`
	GradeDeltas     GradeDeltas `yaml:"grade_deltas"`
}

func (c Config) withDefaults() Config {
	if c.TargetRetention <= 0 {
		c.TargetRetention = DefaultTargetRetention
	}
	if c.Epsilon <= 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.GradeDeltas == (GradeDeltas{}) {
		c.GradeDeltas = DefaultGradeDeltas()
	}
	return c
}

// Result describes one processed review.
type Result struct {
	Record      domain.MemoryRecord
	EnergyDelta float64
	// Propagation is nil when the delta was below epsilon.
	Propagation *propagation.Outcome
}

// Option customises a Processor.
type Option func(*Processor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// Processor applies reviews. The record write, the propagation batch and the
// review log entry of one call are committed together.
type Processor struct {
	tx     domain.Transactor
	model  srs.Model
	engine *propagation.Engine
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(tx domain.Transactor, model srs.Model, engine *propagation.Engine, cfg Config, logger zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		tx:     tx,
		model:  model,
		engine: engine,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "review").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

// ProcessReview applies grade to the user's record for itemID and returns the
// updated record.
func (p *Processor) ProcessReview(ctx context.Context, userID, itemID string, grade domain.Grade) (domain.MemoryRecord, error) {
	res, err := p.Process(ctx, userID, itemID, grade)
	if err != nil {
		return domain.MemoryRecord{}, err
	}
	return res.Record, nil
}

// Process is ProcessReview with the energy delta and propagation outcome.
func (p *Processor) Process(ctx context.Context, userID, itemID string, grade domain.Grade) (Result, error) {
	if !grade.IsValid() {
		return Result{}, domain.Validation("review.Process", fmt.Errorf("%w: %d", domain.ErrInvalidGrade, int(grade)))
	}
	now := p.now().UTC()

	var res Result
	err := p.tx.RunInTx(ctx, func(tx domain.Repository) error {
		rec, found, err := tx.MemoryRecord(ctx, userID, itemID)
		if err != nil {
			return domain.StorageError("review.Process", err)
		}
		if !found {
			rec = domain.NewMemoryRecord(userID, itemID)
		}

		var prior *srs.Memory
		elapsed := 0
		if rec.ReviewCount > 0 {
			prior = &srs.Memory{Stability: rec.Stability, Difficulty: rec.Difficulty}
			elapsed = elapsedDays(rec.LastReviewedAt, now)
		}
		states, err := p.model.NextStates(ctx, prior, p.cfg.TargetRetention, elapsed)
		if err != nil {
			return domain.Model("review.Process", err)
		}
		next, _ := states.For(grade)

		before := rec.Energy
		delta := p.cfg.GradeDeltas.For(grade) * (1 - before)

		rec.Stability = next.Stability
		rec.Difficulty = next.Difficulty
		rec.Energy = domain.ClampEnergy(before + delta)
		rec.LastReviewedAt = now
		rec.DueAt = now.Add(time.Duration(next.IntervalDays) * 24 * time.Hour)
		rec.ReviewCount++

		if err := tx.SaveMemoryRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.AppendReview(ctx, domain.ReviewEntry{
			UserID:       userID,
			ItemID:       itemID,
			Grade:        grade,
			ReviewedAt:   now,
			EnergyBefore: before,
			EnergyAfter:  rec.Energy,
		}); err != nil {
			return err
		}

		res = Result{Record: rec, EnergyDelta: delta}
		if math.Abs(delta) <= p.cfg.Epsilon {
			return nil
		}
		out, err := p.engine.Propagate(ctx, tx, userID, itemID, delta, now)
		if err != nil {
			return err
		}
		res.Propagation = &out
		return nil
	})
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("user_id", userID).
			Str("item_id", itemID).
			Stringer("grade", grade).
			Msg("Review failed")
		return Result{}, err
	}

	ev := p.logger.Info().
		Str("user_id", userID).
		Str("item_id", itemID).
		Stringer("grade", grade).
		Float64("energy", res.Record.Energy).
		Float64("delta", res.EnergyDelta).
		Time("due_at", res.Record.DueAt)
	if res.Propagation != nil {
		ev = ev.Int("propagated", len(res.Propagation.Updates))
	}
	ev.Msg("Processed review")
	return res, nil
}

// elapsedDays is the number of whole days between last and now.
func elapsedDays(last, now time.Time) int {
	if last.IsZero() {
		return 0
	}
	return int(math.Floor(now.Sub(last).Hours() / 24))
}
