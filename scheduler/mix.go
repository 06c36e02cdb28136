package scheduler

import (
	"errors"
	"fmt"
	"math"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// DifficultyMix holds target fractions for the easy, medium and hard buckets.
// All zero disables bucket balancing.
type DifficultyMix struct {
	Easy   float64 `yaml:"easy"`
	Medium float64 `yaml:"medium"`
	Hard   float64 `yaml:"hard"`
}

func (d DifficultyMix) total() float64 {
	return d.Easy + d.Medium + d.Hard
}

// SessionMixConfig controls how many new items a session may introduce and
// how picks spread across difficulty buckets.
type SessionMixConfig struct {
	PctNew           float64       `yaml:"pct_new"`
	MinNewPerSession int           `yaml:"min_new_per_session"`
	NewItemsLimit    int           `yaml:"new_items_limit"`
	Difficulty       DifficultyMix `yaml:"difficulty"`
}

// DefaultMixConfig returns the stock mix.
func DefaultMixConfig() SessionMixConfig {
	return SessionMixConfig{
		PctNew:           0.2,
		MinNewPerSession: 2,
		NewItemsLimit:    10,
		Difficulty:       DifficultyMix{Easy: 0.3, Medium: 0.5, Hard: 0.2},
	}
}

// Validate checks ranges.
func (c SessionMixConfig) Validate() error {
	var errs []error
	if c.PctNew < 0 || c.PctNew > 1 || math.IsNaN(c.PctNew) {
		errs = append(errs, fmt.Errorf("pct_new must be in [0,1], got %v", c.PctNew))
	}
	if c.MinNewPerSession < 0 {
		errs = append(errs, fmt.Errorf("min_new_per_session must be >= 0, got %d", c.MinNewPerSession))
	}
	if c.NewItemsLimit < 0 {
		errs = append(errs, fmt.Errorf("new_items_limit must be >= 0, got %d", c.NewItemsLimit))
	}
	d := c.Difficulty
	if d.Easy < 0 || d.Medium < 0 || d.Hard < 0 {
		errs = append(errs, fmt.Errorf("difficulty fractions must be >= 0, got %+v", d))
	}
	return domain.Validation("SessionMixConfig.Validate", errors.Join(errs...))
}

// IntroBudget is the number of new items a session of size would like to
// introduce before the hard limit applies.
func (c SessionMixConfig) IntroBudget(size int) int {
	return max(c.MinNewPerSession, int(math.Floor(c.PctNew*float64(size))))
}

// IntroCap is the hard ceiling on new items for a session.
func (c SessionMixConfig) IntroCap(size int, mode domain.SessionMode) int {
	if mode == domain.ModeRevision {
		return 0
	}
	return min(c.IntroBudget(size), c.NewItemsLimit)
}
