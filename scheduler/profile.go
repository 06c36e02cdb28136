package scheduler

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// Preset profile names, in enumeration order.
const (
	ProfileBalanced       = "balanced"
	ProfileUrgencyFirst   = "urgency_first"
	ProfileReadinessFirst = "readiness_first"
	ProfileFoundation     = "foundation_first"
	ProfileInfluence      = "influence_first"
)

// Profile weights the four scoring factors of the composer.
type Profile struct {
	Name       string  `yaml:"name"`
	Urgency    float64 `yaml:"urgency"`
	Readiness  float64 `yaml:"readiness"`
	Foundation float64 `yaml:"foundation"`
	Influence  float64 `yaml:"influence"`
}

var presets = []Profile{
	{Name: ProfileBalanced, Urgency: 1, Readiness: 1, Foundation: 1, Influence: 1},
	{Name: ProfileUrgencyFirst, Urgency: 2, Readiness: 0.75, Foundation: 0.5, Influence: 0.5},
	{Name: ProfileReadinessFirst, Urgency: 0.75, Readiness: 2, Foundation: 0.5, Influence: 0.5},
	{Name: ProfileFoundation, Urgency: 0.5, Readiness: 0.75, Foundation: 2, Influence: 0.5},
	{Name: ProfileInfluence, Urgency: 0.5, Readiness: 0.75, Foundation: 0.5, Influence: 2},
}

// Presets returns the preset profiles in enumeration order.
func Presets() []Profile {
	return append([]Profile(nil), presets...)
}

// PresetNames returns the preset names in enumeration order.
func PresetNames() []string {
	return lo.Map(presets, func(p Profile, _ int) string { return p.Name })
}

// Balanced returns the safe default profile.
func Balanced() Profile {
	return presets[0]
}

// ProfileByName looks up a preset.
func ProfileByName(name string) (Profile, bool) {
	return lo.Find(presets, func(p Profile) bool { return p.Name == name })
}

// Validate rejects negative, NaN or infinite weights.
func (p Profile) Validate() error {
	for _, w := range []float64{p.Urgency, p.Readiness, p.Foundation, p.Influence} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return domain.Validation("Profile.Validate", fmt.Errorf("%w: %s has weight %v", domain.ErrInvalidProfile, p.Name, w))
		}
	}
	return nil
}

// Blend returns alpha*chosen + (1-alpha)*safe elementwise, keeping chosen's name.
func Blend(chosen, safe Profile, alpha float64) Profile {
	mix := func(a, b float64) float64 { return alpha*a + (1-alpha)*b }
	return Profile{
		Name:       chosen.Name,
		Urgency:    mix(chosen.Urgency, safe.Urgency),
		Readiness:  mix(chosen.Readiness, safe.Readiness),
		Foundation: mix(chosen.Foundation, safe.Foundation),
		Influence:  mix(chosen.Influence, safe.Influence),
	}
}
