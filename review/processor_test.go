package review

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
	"github.com/iqrahapp/iqrah-mobile-sub001/propagation"
	"github.com/iqrahapp/iqrah-mobile-sub001/srs"
	"github.com/iqrahapp/iqrah-mobile-sub001/store"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// fixedModel returns the same intervals for every call and records its inputs.
type fixedModel struct {
	calls  int
	prior  *srs.Memory
	elapse int
	err    error
}

func (m *fixedModel) NextStates(_ context.Context, prior *srs.Memory, _ float64, elapsedDays int) (srs.NextStates, error) {
	m.calls++
	m.prior = prior
	m.elapse = elapsedDays
	if m.err != nil {
		return srs.NextStates{}, m.err
	}
	return srs.NextStates{
		Again: srs.ItemState{Stability: 0.5, Difficulty: 7, IntervalDays: 1},
		Hard:  srs.ItemState{Stability: 2, Difficulty: 6, IntervalDays: 2},
		Good:  srs.ItemState{Stability: 4, Difficulty: 5, IntervalDays: 4},
		Easy:  srs.ItemState{Stability: 9, Difficulty: 4, IntervalDays: 9},
	}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newProcessor(m *store.Memory, model srs.Model, c *clock) *Processor {
	engine := propagation.NewEngine(m, propagation.Config{}, zerolog.Nop())
	return NewProcessor(m, model, engine, Config{}, zerolog.Nop(), WithClock(c.now))
}

func TestProcessReview_AgainOnHalfEnergy(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveMemoryRecord(ctx, domain.MemoryRecord{
		UserID: "u1", ItemID: "1:1", Stability: 3, Difficulty: 5, Energy: 0.5,
		LastReviewedAt: t0.Add(-72 * time.Hour), DueAt: t0, ReviewCount: 3,
	}))
	model := &fixedModel{}
	p := newProcessor(m, model, &clock{t0})

	res, err := p.Process(ctx, "u1", "1:1", domain.Again)
	require.NoError(t, err)

	assert.InDelta(t, -0.05, res.EnergyDelta, 1e-12)
	assert.InDelta(t, 0.45, res.Record.Energy, 1e-12)
	assert.Equal(t, t0.Add(24*time.Hour), res.Record.DueAt)
	assert.Equal(t, 4, res.Record.ReviewCount)
	assert.Equal(t, 0.5, res.Record.Stability)
	assert.Equal(t, 3, model.elapse)
	require.NotNil(t, model.prior)
	assert.Equal(t, 3.0, model.prior.Stability)

	stored, ok, err := m.MemoryRecord(ctx, "u1", "1:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Record, stored)

	reviews, err := m.Reviews(ctx, "u1", []string{"1:1"}, t0, t0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 0.5, reviews[0].EnergyBefore)
	assert.InDelta(t, 0.45, reviews[0].EnergyAfter, 1e-12)
}

func TestProcessReview_FirstReviewCreatesRecord(t *testing.T) {
	m := store.NewMemory()
	model := &fixedModel{}
	p := newProcessor(m, model, &clock{t0})

	rec, err := p.ProcessReview(context.Background(), "u1", "1:2", domain.Good)
	require.NoError(t, err)

	assert.Nil(t, model.prior, "first review has no prior memory")
	assert.Equal(t, 0, model.elapse)
	assert.InDelta(t, 0.1, rec.Energy, 1e-12)
	assert.Equal(t, 1, rec.ReviewCount)
	assert.Equal(t, t0, rec.LastReviewedAt)
	assert.Equal(t, t0.Add(4*24*time.Hour), rec.DueAt)
}

func TestProcessReview_PropagatesAboveEpsilon(t *testing.T) {
	m := store.NewMemory()
	m.AddEdge(domain.Edge{Source: "a", Target: "b", Type: domain.EdgeKnowledge, Dist: domain.Constant(0.5)})
	p := newProcessor(m, &fixedModel{}, &clock{t0})

	res, err := p.Process(context.Background(), "u1", "a", domain.Easy)
	require.NoError(t, err)
	require.NotNil(t, res.Propagation)
	require.Len(t, res.Propagation.Updates, 1)
	assert.InDelta(t, 0.075, res.Propagation.Updates[0].NewEnergy, 1e-12)

	events := m.PropagationEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].SourceItemID)
	assert.Equal(t, t0, events[0].TriggeredAt)

	// A propagated-to item stays new until it is reviewed itself.
	b, ok, err := m.MemoryRecord(context.Background(), "u1", "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, b.DueAt.IsZero())
	assert.Equal(t, 0, b.ReviewCount)
}

func TestProcessReview_SkipsPropagationBelowEpsilon(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	m.AddEdge(domain.Edge{Source: "a", Target: "b", Type: domain.EdgeKnowledge, Dist: domain.Constant(1)})
	require.NoError(t, m.SaveMemoryRecord(ctx, domain.MemoryRecord{UserID: "u1", ItemID: "a", Energy: 1, Stability: 10, Difficulty: 3, ReviewCount: 5, LastReviewedAt: t0}))
	p := newProcessor(m, &fixedModel{}, &clock{t0})

	res, err := p.Process(ctx, "u1", "a", domain.Good)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.EnergyDelta)
	assert.Nil(t, res.Propagation)
	assert.Empty(t, m.PropagationEvents())
}

func TestProcessReview_InvalidGrade(t *testing.T) {
	m := store.NewMemory()
	model := &fixedModel{}
	p := newProcessor(m, model, &clock{t0})

	_, err := p.ProcessReview(context.Background(), "u1", "a", domain.Grade(7))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.ErrorIs(t, err, domain.ErrInvalidGrade)
	assert.Zero(t, model.calls, "storage and model untouched")
}

func TestProcessReview_ModelErrorRollsBack(t *testing.T) {
	m := store.NewMemory()
	p := newProcessor(m, &fixedModel{err: errors.New("bad input")}, &clock{t0})

	_, err := p.ProcessReview(context.Background(), "u1", "a", domain.Good)
	require.Error(t, err)
	assert.True(t, domain.IsModel(err))

	_, ok, err := m.MemoryRecord(context.Background(), "u1", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessReview_PropagationFailureRollsBackReview(t *testing.T) {
	m := store.NewMemory()
	m.FailEdgesFrom = errors.New("edges unavailable")
	p := newProcessor(m, &fixedModel{}, &clock{t0})

	_, err := p.ProcessReview(context.Background(), "u1", "a", domain.Good)
	require.Error(t, err)
	assert.True(t, domain.IsRepository(err))

	_, ok, err := m.MemoryRecord(context.Background(), "u1", "a")
	require.NoError(t, err)
	assert.False(t, ok, "record write is part of the same unit")
	reviews, err := m.Reviews(context.Background(), "u1", []string{"a"}, t0, t0)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestProcessReview_EnergyStaysInBounds(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	items := []string{"a", "b", "c", "d", "e"}
	for i, src := range items {
		for j, dst := range items {
			if i != j {
				m.AddEdge(domain.Edge{Source: src, Target: dst, Type: domain.EdgeKnowledge, Dist: domain.Beta(float64(1+i), float64(1+j))})
			}
		}
	}
	fsrs, err := srs.NewFSRS(srs.FSRSConfig{})
	require.NoError(t, err)
	c := &clock{t0}
	p := newProcessor(m, fsrs, c)

	rng := rand.New(rand.NewPCG(7, 11))
	for range 300 {
		c.t = c.t.Add(time.Duration(rng.IntN(72)) * time.Hour)
		item := items[rng.IntN(len(items))]
		grade := domain.Grades[rng.IntN(len(domain.Grades))]
		_, err := p.ProcessReview(ctx, "u1", item, grade)
		require.NoError(t, err)
	}

	basics, err := m.MemoryBasics(ctx, "u1", items)
	require.NoError(t, err)
	for id, b := range basics {
		assert.GreaterOrEqual(t, b.Energy, domain.MinEnergy, id)
		assert.LessOrEqual(t, b.Energy, domain.MaxEnergy, id)
	}
}

func TestConfig_Defaults(t *testing.T) {
	p := NewProcessor(store.NewMemory(), &fixedModel{}, nil, Config{}, zerolog.Nop())
	cfg := p.Config()
	assert.Equal(t, DefaultTargetRetention, cfg.TargetRetention)
	assert.Equal(t, DefaultEpsilon, cfg.Epsilon)
	assert.Equal(t, DefaultGradeDeltas(), cfg.GradeDeltas)
}
