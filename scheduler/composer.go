package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// Class is the composer's classification of a candidate.
type Class int

const (
	ClassNew Class = iota
	ClassDue
	ClassStruggling
)

func (c Class) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassDue:
		return "due"
	case ClassStruggling:
		return "struggling"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Difficulty bucket bounds on CandidateNode.DifficultyScore.
const (
	easyBelow   = 1.0 / 3
	mediumBelow = 2.0 / 3
)

type bucket int

const (
	bucketEasy bucket = iota
	bucketMedium
	bucketHard
)

func bucketOf(difficulty float64) bucket {
	switch {
	case difficulty < easyBelow:
		return bucketEasy
	case difficulty < mediumBelow:
		return bucketMedium
	default:
		return bucketHard
	}
}

// ComposerConfig holds the thresholds used for classification and scoring.
type ComposerConfig struct {
	// MasteryThreshold is the parent energy at which a prerequisite counts as satisfied.
	MasteryThreshold float64 `yaml:"mastery_threshold"`
	// StruggleEnergy is the energy at or below which an overdue item is struggling.
	StruggleEnergy float64 `yaml:"struggle_energy"`
	// StrugglingBoost is added to the urgency of struggling items.
	StrugglingBoost float64 `yaml:"struggling_boost"`
	// StrugglingReserve is the share of the review budget held for struggling items.
	StrugglingReserve float64 `yaml:"struggling_reserve"`
}

// DefaultComposerConfig returns the stock thresholds.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		MasteryThreshold:  0.3,
		StruggleEnergy:    0.1,
		StrugglingBoost:   1,
		StrugglingReserve: 0.25,
	}
}

// Validate checks ranges.
func (c ComposerConfig) Validate() error {
	var errs []error
	if c.MasteryThreshold < 0 || c.MasteryThreshold > 1 {
		errs = append(errs, fmt.Errorf("mastery_threshold must be in [0,1], got %v", c.MasteryThreshold))
	}
	if c.StruggleEnergy < 0 || c.StruggleEnergy > 1 {
		errs = append(errs, fmt.Errorf("struggle_energy must be in [0,1], got %v", c.StruggleEnergy))
	}
	if c.StrugglingBoost < 0 {
		errs = append(errs, fmt.Errorf("struggling_boost must be >= 0, got %v", c.StrugglingBoost))
	}
	if c.StrugglingReserve < 0 || c.StrugglingReserve > 1 {
		errs = append(errs, fmt.Errorf("struggling_reserve must be in [0,1], got %v", c.StrugglingReserve))
	}
	return domain.Validation("ComposerConfig.Validate", errors.Join(errs...))
}

// SessionInput is everything GenerateSession depends on.
type SessionInput struct {
	Set     CandidateSet
	Profile Profile
	Size    int
	Now     time.Time
	Mode    domain.SessionMode
	Mix     SessionMixConfig
}

// PlannedItem is one selected item with the reason it was picked.
type PlannedItem struct {
	ItemID string
	Class  Class
	Score  float64
}

// Composer selects a bounded session from a candidate set.
type Composer struct {
	cfg    ComposerConfig
	logger zerolog.Logger
}

// NewComposer creates a Composer.
func NewComposer(cfg ComposerConfig, logger zerolog.Logger) *Composer {
	return &Composer{
		cfg:    cfg,
		logger: logger.With().Str("component", "composer").Logger(),
	}
}

// GenerateSession returns the ordered item ids of a session. The result is a
// pure function of in.
func (c *Composer) GenerateSession(in SessionInput) ([]string, error) {
	plan, err := c.Compose(in)
	if err != nil {
		return nil, err
	}
	return lo.Map(plan, func(p PlannedItem, _ int) string { return p.ItemID }), nil
}

type scored struct {
	node   domain.CandidateNode
	class  Class
	score  float64
	bucket bucket
}

// Compose is GenerateSession with the class and score of every pick.
func (c *Composer) Compose(in SessionInput) ([]PlannedItem, error) {
	if !in.Mode.IsValid() {
		return nil, domain.Validation("composer.Compose", fmt.Errorf("unknown session mode %q", in.Mode))
	}
	if err := in.Profile.Validate(); err != nil {
		return nil, err
	}
	if err := in.Mix.Validate(); err != nil {
		return nil, err
	}
	if in.Size <= 0 || len(in.Set.Candidates) == 0 {
		return nil, nil
	}

	var fresh, struggling, due []scored
	for _, n := range in.Set.Candidates {
		s, ok := c.classify(n, in)
		if !ok {
			continue
		}
		switch s.class {
		case ClassNew:
			fresh = append(fresh, s)
		case ClassStruggling:
			struggling = append(struggling, s)
		default:
			due = append(due, s)
		}
	}
	byPriority(fresh)
	byPriority(struggling)
	byPriority(due)

	introCap := in.Mix.IntroCap(in.Size, in.Mode)
	introBudget := min(introCap, in.Size)
	dueBudget := in.Size - introBudget

	newPicked := pick(fresh, introBudget, in.Mix.Difficulty)
	// Unused intro slots go to the review pool, never the other way round.
	reviewBudget := dueBudget + (introBudget - len(newPicked))

	reserve := 0
	if len(struggling) > 0 && reviewBudget > 0 {
		reserve = max(1, int(math.Floor(c.cfg.StrugglingReserve*float64(reviewBudget))))
		reserve = min(reserve, len(struggling), reviewBudget)
	}
	reviewPicked := append([]scored(nil), struggling[:reserve]...)
	rest := append(append([]scored(nil), struggling[reserve:]...), due...)
	byPriority(rest)
	reviewPicked = append(reviewPicked, pick(rest, reviewBudget-reserve, in.Mix.Difficulty)...)
	byPriority(reviewPicked)

	plan := interleave(reviewPicked, newPicked)

	c.logger.Debug().
		Str("profile", in.Profile.Name).
		Str("mode", string(in.Mode)).
		Int("size", in.Size).
		Int("new_pool", len(fresh)).
		Int("due_pool", len(due)).
		Int("struggling_pool", len(struggling)).
		Int("intro_cap", introCap).
		Int("new_picked", len(newPicked)).
		Int("review_picked", len(reviewPicked)).
		Msg("Composed session")
	return plan, nil
}

// classify scores n. ok is false for items with history that are not yet due.
func (c *Composer) classify(n domain.CandidateNode, in SessionInput) (scored, bool) {
	s := scored{node: n, class: ClassNew, bucket: bucketOf(n.DifficultyScore)}
	urgency := 0.0
	if !n.IsNew() {
		if n.DueAt.After(in.Now) {
			return scored{}, false
		}
		overdue := in.Now.Sub(n.DueAt).Hours() / 24
		urgency = math.Log1p(overdue)
		s.class = ClassDue
		if overdue > 0 && n.Energy <= c.cfg.StruggleEnergy {
			s.class = ClassStruggling
			urgency += c.cfg.StrugglingBoost
		}
	}

	p := in.Profile
	s.score = p.Urgency*urgency +
		p.Readiness*c.readiness(n.ItemID, in.Set) +
		p.Foundation*n.FoundationalScore +
		p.Influence*n.InfluenceScore
	if math.IsNaN(s.score) {
		s.score = math.Inf(-1)
	}
	return s, true
}

// readiness is the satisfied share of an item's prerequisites, 1 when it has none.
func (c *Composer) readiness(itemID string, set CandidateSet) float64 {
	parents := set.ParentMap[itemID]
	if len(parents) == 0 {
		return 1
	}
	unsatisfied := lo.CountBy(parents, func(p string) bool {
		return set.ParentEnergies[p] < c.cfg.MasteryThreshold
	})
	return 1 - float64(unsatisfied)/float64(len(parents))
}

// byPriority sorts by score descending, then canonical order.
func byPriority(s []scored) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.node.OrderKey != b.node.OrderKey {
			return a.node.OrderKey < b.node.OrderKey
		}
		return a.node.ItemID < b.node.ItemID
	})
}

// pick takes budget items from a priority-sorted pool. When the pool is larger
// than the budget, each difficulty bucket first gets its quota of the budget;
// slots a thin bucket cannot fill go to the best remaining items.
func pick(pool []scored, budget int, mix DifficultyMix) []scored {
	if budget <= 0 || len(pool) == 0 {
		return nil
	}
	if len(pool) <= budget {
		return append([]scored(nil), pool...)
	}
	total := mix.total()
	if total <= 0 {
		return append([]scored(nil), pool[:budget]...)
	}

	quotas := map[bucket]int{
		bucketEasy:   int(math.Floor(float64(budget) * mix.Easy / total)),
		bucketMedium: int(math.Floor(float64(budget) * mix.Medium / total)),
		bucketHard:   int(math.Floor(float64(budget) * mix.Hard / total)),
	}
	taken := make([]bool, len(pool))
	out := make([]scored, 0, budget)
	for i, s := range pool {
		if quotas[s.bucket] > 0 {
			quotas[s.bucket]--
			taken[i] = true
			out = append(out, s)
		}
	}
	for i, s := range pool {
		if len(out) >= budget {
			break
		}
		if !taken[i] {
			out = append(out, s)
		}
	}
	byPriority(out)
	return out
}

// interleave spreads new items evenly through the review items.
func interleave(review, fresh []scored) []PlannedItem {
	n := len(review) + len(fresh)
	slots := make(map[int]struct{}, len(fresh))
	for i := range fresh {
		slots[(i+1)*n/(len(fresh)+1)] = struct{}{}
	}

	out := make([]PlannedItem, 0, n)
	ri, ni := 0, 0
	for pos := range n {
		var s scored
		if _, ok := slots[pos]; ok && ni < len(fresh) {
			s = fresh[ni]
			ni++
		} else if ri < len(review) {
			s = review[ri]
			ri++
		} else {
			s = fresh[ni]
			ni++
		}
		out = append(out, PlannedItem{ItemID: s.node.ItemID, Class: s.class, Score: s.score})
	}
	return out
}
