package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// DefaultSessionSize is used when a request does not set one.
const DefaultSessionSize = 20

// Config configures the scheduling service.
type Config struct {
	BatchSize     int              `yaml:"batch_size"`
	SessionSize   int              `yaml:"session_size"`
	DisableBandit bool             `yaml:"disable_bandit"`
	BlendWeight   float64          `yaml:"blend_weight"`
	NodeID        int64            `yaml:"node_id"`
	Composer      ComposerConfig   `yaml:"composer"`
	Mix           SessionMixConfig `yaml:"mix"`
}

// DefaultConfig returns the stock scheduler configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		SessionSize: DefaultSessionSize,
		BlendWeight: DefaultBlendWeight,
		NodeID:      1,
		Composer:    DefaultComposerConfig(),
		Mix:         DefaultMixConfig(),
	}
}

// SessionRequest asks for the next session of a user for a goal.
type SessionRequest struct {
	UserID string
	GoalID string
	// Size <= 0 selects the configured session size.
	Size int
	Mode domain.SessionMode
	// Profile, when set, bypasses the bandit.
	Profile *Profile
}

// Service runs aggregator, bandit and composer and records each session.
type Service struct {
	agg      *Aggregator
	bandit   *Bandit
	composer *Composer
	sessions domain.SessionStore
	ids      *snowflake.Node
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceClock replaces time.Now.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Service. bandit may be nil, in which case the balanced
// profile is used unless a request names one.
func NewService(agg *Aggregator, bandit *Bandit, composer *Composer, sessions domain.SessionStore, cfg Config, logger zerolog.Logger, opts ...ServiceOption) (*Service, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session id generator: %w", err)
	}
	if cfg.SessionSize <= 0 {
		cfg.SessionSize = DefaultSessionSize
	}
	s := &Service{
		agg:      agg,
		bandit:   bandit,
		composer: composer,
		sessions: sessions,
		ids:      node,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NextSession composes and persists the next session for req.
func (s *Service) NextSession(ctx context.Context, req SessionRequest) (domain.SessionRecord, error) {
	if req.Mode == "" {
		req.Mode = domain.ModeMixedLearning
	}
	if !req.Mode.IsValid() {
		return domain.SessionRecord{}, domain.Validation("scheduler.NextSession", fmt.Errorf("unknown session mode %q", req.Mode))
	}
	size := req.Size
	if size <= 0 {
		size = s.cfg.SessionSize
	}
	now := s.now().UTC()
	group := GoalGroup(req.GoalID)

	set, err := s.agg.Candidates(ctx, req.GoalID, req.UserID, now)
	if err != nil {
		return domain.SessionRecord{}, err
	}

	profile := Balanced()
	arm := ""
	switch {
	case req.Profile != nil:
		profile = *req.Profile
	case s.bandit != nil && !s.cfg.DisableBandit:
		choice, err := s.bandit.ChooseProfile(ctx, req.UserID, group)
		if err != nil {
			return domain.SessionRecord{}, err
		}
		profile = choice.Profile
		arm = choice.Arm
	}

	items, err := s.composer.GenerateSession(SessionInput{
		Set:     set,
		Profile: profile,
		Size:    size,
		Now:     now,
		Mode:    req.Mode,
		Mix:     s.cfg.Mix,
	})
	if err != nil {
		return domain.SessionRecord{}, err
	}

	rec := domain.SessionRecord{
		ID:          s.ids.Generate().Int64(),
		UserID:      req.UserID,
		GoalID:      req.GoalID,
		GoalGroup:   group,
		ProfileName: arm,
		Mode:        req.Mode,
		Items:       items,
		CreatedAt:   now,
	}
	if err := s.sessions.SaveSession(ctx, rec); err != nil {
		return domain.SessionRecord{}, domain.StorageError("scheduler.NextSession", err)
	}

	s.logger.Info().
		Int64("session_id", rec.ID).
		Str("user_id", req.UserID).
		Str("goal_id", req.GoalID).
		Str("profile", profile.Name).
		Str("mode", string(req.Mode)).
		Int("items", len(items)).
		Msg("Generated session")
	return rec, nil
}
