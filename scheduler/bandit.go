package scheduler

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// DefaultBlendWeight is the share of the sampled profile in the blended
// weights; the rest comes from the balanced profile.
const DefaultBlendWeight = 0.8

// minShape keeps Beta parameters strictly positive.
const minShape = 1e-6

// Choice is the outcome of one Thompson draw.
type Choice struct {
	// Arm is the sampled preset.
	Arm string
	// Profile is the sampled preset blended with the balanced profile.
	Profile Profile
	// Samples holds the draw of every arm.
	Samples map[string]float64
}

// Bandit keeps a Beta posterior per (user, goal group, profile) and picks a
// profile by Thompson sampling.
type Bandit struct {
	store    domain.BanditStore
	profiles []Profile
	safe     Profile
	blend    float64
	now      func() time.Time
	logger   zerolog.Logger

	mu  *sync.Mutex
	src rand.Source
}

// BanditOption customises a Bandit.
type BanditOption func(*Bandit)

// WithSource sets the random source used for sampling. Tests pass a seeded
// source to make draws reproducible.
func WithSource(src rand.Source) BanditOption {
	return func(b *Bandit) {
		if src != nil {
			b.src = src
		}
	}
}

// WithBlendWeight overrides DefaultBlendWeight.
func WithBlendWeight(alpha float64) BanditOption {
	return func(b *Bandit) {
		if alpha >= 0 && alpha <= 1 {
			b.blend = alpha
		}
	}
}

// WithBanditClock replaces time.Now for arm timestamps.
func WithBanditClock(now func() time.Time) BanditOption {
	return func(b *Bandit) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBandit creates a Bandit over the preset profiles.
func NewBandit(store domain.BanditStore, logger zerolog.Logger, opts ...BanditOption) *Bandit {
	b := &Bandit{
		store:    store,
		profiles: Presets(),
		safe:     Balanced(),
		blend:    DefaultBlendWeight,
		now:      time.Now,
		logger:   logger.With().Str("component", "bandit").Logger(),
		mu:       &sync.Mutex{},
		src:      rand.NewPCG(rand.Uint64(), rand.Uint64()),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithStore returns a copy of b that reads and writes arms through store,
// sharing b's random source. It is used to run bandit updates inside a
// transaction.
func (b *Bandit) WithStore(store domain.BanditStore) *Bandit {
	c := *b
	c.store = store
	return &c
}

// GoalGroup maps a goal id such as "surah:1" to its group ("surah").
func GoalGroup(goalID string) string {
	group, _, _ := strings.Cut(goalID, ":")
	return group
}

// EnsureArms loads the arms of (userID, goalGroup), first inserting a (1,1)
// arm for every profile that has none.
func (b *Bandit) EnsureArms(ctx context.Context, userID, goalGroup string) ([]domain.BanditArm, error) {
	arms, err := b.store.BanditArms(ctx, userID, goalGroup)
	if err != nil {
		return nil, domain.StorageError("bandit.EnsureArms", err)
	}
	have := lo.SliceToMap(arms, func(a domain.BanditArm) (string, struct{}) { return a.ProfileName, struct{}{} })
	missing := lo.Filter(PresetNames(), func(name string, _ int) bool {
		_, ok := have[name]
		return !ok
	})
	if len(missing) == 0 {
		return arms, nil
	}

	if err := b.store.InitBanditArms(ctx, userID, goalGroup, missing); err != nil {
		return nil, domain.StorageError("bandit.EnsureArms", err)
	}
	b.logger.Info().
		Str("user_id", userID).
		Str("goal_group", goalGroup).
		Strs("profiles", missing).
		Msg("Initialized bandit arms")

	arms, err = b.store.BanditArms(ctx, userID, goalGroup)
	if err != nil {
		return nil, domain.StorageError("bandit.EnsureArms", err)
	}
	return arms, nil
}

// ChooseProfile draws one sample per arm and returns the winner blended with
// the balanced profile. Ties go to the earlier profile.
func (b *Bandit) ChooseProfile(ctx context.Context, userID, goalGroup string) (Choice, error) {
	arms, err := b.EnsureArms(ctx, userID, goalGroup)
	if err != nil {
		return Choice{}, err
	}
	byName := lo.KeyBy(arms, func(a domain.BanditArm) string { return a.ProfileName })

	choice := Choice{Samples: make(map[string]float64, len(b.profiles))}
	best := math.Inf(-1)
	var winner Profile

	b.mu.Lock()
	for _, p := range b.profiles {
		arm, ok := byName[p.Name]
		if !ok {
			arm = domain.BanditArm{Successes: 1, Failures: 1}
		}
		s := b.sample(arm.Successes, arm.Failures)
		choice.Samples[p.Name] = s
		if s > best {
			best = s
			winner = p
		}
	}
	b.mu.Unlock()

	choice.Arm = winner.Name
	choice.Profile = Blend(winner, b.safe, b.blend)

	b.logger.Debug().
		Str("user_id", userID).
		Str("goal_group", goalGroup).
		Str("arm", choice.Arm).
		Float64("sample", best).
		Msg("Chose profile")
	return choice, nil
}

// sample must be called with mu held.
func (b *Bandit) sample(successes, failures float64) float64 {
	dist := distuv.Beta{
		Alpha: math.Max(successes, minShape),
		Beta:  math.Max(failures, minShape),
		Src:   b.src,
	}
	return dist.Rand()
}

// RecordReward folds a session outcome in [0,1] into the arm of profileName:
// successes grow by reward and failures by 1-reward.
func (b *Bandit) RecordReward(ctx context.Context, userID, goalGroup, profileName string, reward float64) error {
	if math.IsNaN(reward) || reward < 0 || reward > 1 {
		return domain.Validation("bandit.RecordReward", fmt.Errorf("%w: %v", domain.ErrInvalidReward, reward))
	}
	if _, ok := ProfileByName(profileName); !ok {
		return domain.Validation("bandit.RecordReward", fmt.Errorf("%w: unknown profile %q", domain.ErrInvalidProfile, profileName))
	}

	arms, err := b.EnsureArms(ctx, userID, goalGroup)
	if err != nil {
		return err
	}
	arm, ok := lo.Find(arms, func(a domain.BanditArm) bool { return a.ProfileName == profileName })
	if !ok {
		return domain.NotFound("bandit.RecordReward", fmt.Errorf("arm %s/%s/%s", userID, goalGroup, profileName))
	}

	arm.Successes += reward
	arm.Failures += 1 - reward
	arm.UpdatedAt = b.now().UTC()
	if err := b.store.SaveBanditArm(ctx, arm); err != nil {
		return domain.StorageError("bandit.RecordReward", err)
	}

	b.logger.Info().
		Str("user_id", userID).
		Str("goal_group", goalGroup).
		Str("profile", profileName).
		Float64("reward", reward).
		Float64("successes", arm.Successes).
		Float64("failures", arm.Failures).
		Msg("Recorded bandit reward")
	return nil
}
