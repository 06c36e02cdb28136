// Package runtime runs the background jobs of the scheduler: the reward
// sweeper that scores finished sessions and feeds the bandit.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
	"github.com/iqrahapp/iqrah-mobile-sub001/scheduler"
)

const (
	DefaultSweepSchedule = "@every 1h"
	DefaultOutcomeWindow = 24 * time.Hour
	DefaultSweepBatch    = 100
	DefaultMaxRetries    = 5
)

// SweeperConfig configures the reward sweeper.
type SweeperConfig struct {
	Disabled      bool          `yaml:"disabled,omitempty"`
	Schedule      string        `yaml:"schedule,omitempty"` // cron expression or Go duration
	OutcomeWindow time.Duration `yaml:"outcome_window,omitempty"`
	BatchSize     int           `yaml:"batch_size,omitempty"`
	MaxRetries    uint64        `yaml:"max_retries,omitempty"`
}

// DefaultSweeperConfig returns the stock sweeper settings.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:      DefaultSweepSchedule,
		OutcomeWindow: DefaultOutcomeWindow,
		BatchSize:     DefaultSweepBatch,
		MaxRetries:    DefaultMaxRetries,
	}
}

// Store is what the sweeper reads from and writes to.
type Store interface {
	domain.Repository
	domain.Transactor
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Scanned  int
	Rewarded int
	Failed   int
}

// RewardSweeper periodically scores sessions whose outcome window has passed
// and records the reward on the bandit arm that produced them.
type RewardSweeper struct {
	store      Store
	bandit     *scheduler.Bandit
	cfg        SweeperConfig
	schedule   cron.Schedule
	now        func() time.Time
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger
}

// SweeperOption customises a RewardSweeper.
type SweeperOption func(*RewardSweeper)

// WithSweeperClock replaces time.Now.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *RewardSweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBackOff replaces the exponential retry policy.
func WithBackOff(newBackOff func() backoff.BackOff) SweeperOption {
	return func(s *RewardSweeper) {
		if newBackOff != nil {
			s.newBackOff = newBackOff
		}
	}
}

// NewRewardSweeper creates a sweeper. Zero config fields select the defaults.
func NewRewardSweeper(store Store, bandit *scheduler.Bandit, cfg SweeperConfig, logger zerolog.Logger, opts ...SweeperOption) (*RewardSweeper, error) {
	if store == nil || bandit == nil {
		return nil, fmt.Errorf("store and bandit are required")
	}
	def := DefaultSweeperConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.OutcomeWindow <= 0 {
		cfg.OutcomeWindow = def.OutcomeWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	s := &RewardSweeper{
		store:    store,
		bandit:   bandit,
		cfg:      cfg,
		schedule: sched,
		now:      time.Now,
		logger:   logger.With().Str("component", "reward_sweeper").Logger(),
	}
	s.newBackOff = func() backoff.BackOff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.Multiplier = 2.0
		eb.MaxInterval = 5 * time.Second
		eb.MaxElapsedTime = time.Minute
		eb.RandomizationFactor = 0.2
		eb.Reset()
		return backoff.WithMaxRetries(eb, s.cfg.MaxRetries)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParseSchedule accepts a cron expression (5 or 6 fields, or a descriptor
// such as "@every 1h") or a Go duration string.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q as cron expression or duration: %w", spec, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive, got %s", d)
	}
	return cron.Every(d), nil
}

// Start runs one sweep immediately, then sweeps on the configured schedule
// until ctx is cancelled.
func (s *RewardSweeper) Start(ctx context.Context) {
	if s.cfg.Disabled {
		s.logger.Info().Msg("Reward sweeper disabled")
		return
	}
	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Dur("outcomeWindow", s.cfg.OutcomeWindow).
		Msg("Starting reward sweeper")

	s.runSweep(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runSweep(ctx) }))
	c.Start()

	<-ctx.Done()
	s.logger.Info().Msg("Reward sweeper stopping: context cancelled")
	<-c.Stop().Done()
}

func (s *RewardSweeper) runSweep(ctx context.Context) {
	stats, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Reward sweep failed")
		return
	}
	if stats.Scanned > 0 {
		s.logger.Info().
			Int("scanned", stats.Scanned).
			Int("rewarded", stats.Rewarded).
			Int("failed", stats.Failed).
			Msg("Reward sweep finished")
	}
}

// SweepOnce scores every pending session whose outcome window has closed.
// A session that fails is logged and left pending for the next sweep.
func (s *RewardSweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.OutcomeWindow)

	var pending []domain.SessionRecord
	err := s.retry(ctx, func() error {
		var err error
		pending, err = s.store.PendingSessions(ctx, cutoff, s.cfg.BatchSize)
		return err
	})
	if err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Scanned: len(pending)}
	for _, sess := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := s.retry(ctx, func() error { return s.rewardSession(ctx, sess, now) }); err != nil {
			stats.Failed++
			s.logger.Error().Err(err).Int64("session_id", sess.ID).Msg("Failed to reward session")
			continue
		}
		stats.Rewarded++
	}
	return stats, nil
}

func (s *RewardSweeper) rewardSession(ctx context.Context, sess domain.SessionRecord, now time.Time) error {
	windowEnd := sess.CreatedAt.Add(s.cfg.OutcomeWindow)
	reviews, err := s.store.Reviews(ctx, sess.UserID, sess.Items, sess.CreatedAt, windowEnd)
	if err != nil {
		return err
	}
	reward := SessionReward(sess.Items, reviews)

	return s.store.RunInTx(ctx, func(tx domain.Repository) error {
		if sess.ProfileName != "" && len(sess.Items) > 0 {
			if err := s.bandit.WithStore(tx).RecordReward(ctx, sess.UserID, sess.GoalGroup, sess.ProfileName, reward); err != nil {
				return err
			}
		}
		if err := tx.MarkSessionRewarded(ctx, sess.ID, reward, now); err != nil {
			return err
		}
		s.logger.Debug().
			Int64("session_id", sess.ID).
			Str("profile", sess.ProfileName).
			Float64("reward", reward).
			Msg("Rewarded session")
		return nil
	})
}

// retry retries op while it fails with a retryable repository error.
func (s *RewardSweeper) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Transient store error, retrying")
		}
		return err
	}, backoff.WithContext(s.newBackOff(), ctx))
}

// gradeScore maps a review grade to its contribution to the session reward.
func gradeScore(g domain.Grade) float64 {
	switch g {
	case domain.Hard:
		return 0.5
	case domain.Good, domain.Easy:
		return 1
	default:
		return 0
	}
}

// SessionReward is the mean score over the planned items, using each item's
// first review in the window. Unreviewed items score 0.
func SessionReward(items []string, reviews []domain.ReviewEntry) float64 {
	if len(items) == 0 {
		return 0
	}
	sorted := append([]domain.ReviewEntry(nil), reviews...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ReviewedAt.Before(sorted[j].ReviewedAt) })
	first := make(map[string]domain.Grade, len(items))
	for _, r := range sorted {
		if _, ok := first[r.ItemID]; !ok {
			first[r.ItemID] = r.Grade
		}
	}
	total := lo.SumBy(items, func(id string) float64 { return gradeScore(first[id]) })
	return total / float64(len(items))
}
