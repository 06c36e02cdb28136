package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
	"github.com/iqrahapp/iqrah-mobile-sub001/store"
)

func seeded(a, b uint64) BanditOption {
	return WithSource(rand.NewPCG(a, b))
}

func TestGoalGroup(t *testing.T) {
	assert.Equal(t, "surah", GoalGroup("surah:1"))
	assert.Equal(t, "juz", GoalGroup("juz:30:extra"))
	assert.Equal(t, "custom", GoalGroup("custom"))
}

func TestBandit_EnsureArmsIdempotent(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	b := NewBandit(m, zerolog.Nop(), seeded(1, 2))

	first, err := b.EnsureArms(ctx, "u1", "surah")
	require.NoError(t, err)
	require.Len(t, first, len(Presets()))
	for _, a := range first {
		assert.Equal(t, 1.0, a.Successes)
		assert.Equal(t, 1.0, a.Failures)
	}

	second, err := b.EnsureArms(ctx, "u1", "surah")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBandit_ChooseProfileSeededIsReproducible(t *testing.T) {
	ctx := context.Background()
	draw := func() []string {
		m := store.NewMemory()
		b := NewBandit(m, zerolog.Nop(), seeded(42, 7))
		var arms []string
		for range 10 {
			c, err := b.ChooseProfile(ctx, "u1", "surah")
			require.NoError(t, err)
			arms = append(arms, c.Arm)
		}
		return arms
	}
	assert.Equal(t, draw(), draw())
}

func TestBandit_ChooseProfileBlendsWithBalanced(t *testing.T) {
	b := NewBandit(store.NewMemory(), zerolog.Nop(), seeded(3, 4))
	c, err := b.ChooseProfile(context.Background(), "u1", "surah")
	require.NoError(t, err)

	chosen, ok := ProfileByName(c.Arm)
	require.True(t, ok)
	assert.Equal(t, Blend(chosen, Balanced(), DefaultBlendWeight), c.Profile)
	assert.Len(t, c.Samples, len(Presets()))
	for _, s := range c.Samples {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestBandit_RewardedArmDominates(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	b := NewBandit(m, zerolog.Nop(), seeded(9, 9))

	for range 200 {
		require.NoError(t, b.RecordReward(ctx, "u1", "surah", ProfileInfluence, 1))
		require.NoError(t, b.RecordReward(ctx, "u1", "surah", ProfileUrgencyFirst, 0))
	}

	wins := map[string]int{}
	for range 100 {
		c, err := b.ChooseProfile(ctx, "u1", "surah")
		require.NoError(t, err)
		wins[c.Arm]++
	}
	assert.Greater(t, wins[ProfileInfluence], 80)
	assert.Zero(t, wins[ProfileUrgencyFirst])
}

func TestBandit_RecordReward(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	b := NewBandit(m, zerolog.Nop(), seeded(1, 1))

	require.NoError(t, b.RecordReward(ctx, "u1", "juz", ProfileFoundation, 0.75))
	arms, err := m.BanditArms(ctx, "u1", "juz")
	require.NoError(t, err)
	for _, a := range arms {
		if a.ProfileName == ProfileFoundation {
			assert.InDelta(t, 1.75, a.Successes, 1e-12)
			assert.InDelta(t, 1.25, a.Failures, 1e-12)
		} else {
			assert.Equal(t, 1.0, a.Successes)
		}
	}

	err = b.RecordReward(ctx, "u1", "juz", ProfileFoundation, 1.5)
	assert.ErrorIs(t, err, domain.ErrInvalidReward)
	err = b.RecordReward(ctx, "u1", "juz", "yolo", 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidProfile)
}

type failingArms struct {
	*store.Memory
}

func (failingArms) InitBanditArms(context.Context, string, string, []string) error {
	return errors.New("write failed")
}

func TestBandit_InitFailureIsRepositoryError(t *testing.T) {
	b := NewBandit(failingArms{store.NewMemory()}, zerolog.Nop(), seeded(1, 1))
	_, err := b.ChooseProfile(context.Background(), "u1", "surah")
	require.Error(t, err)
	assert.True(t, domain.IsRepository(err))
}
