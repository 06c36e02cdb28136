package srs

import (
	"context"
	"fmt"
	"math"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// DefaultParameters are the FSRS-6 default weights.
var DefaultParameters = [21]float64{
	0.212, 1.2931, 2.3065, 8.2956, // initial stability per grade
	6.4133, 0.8334, 3.0194, 0.001, // difficulty
	1.8722, 0.1666, 0.796, 1.4835, // recall stability
	0.0614, 0.2629, 1.6483, 0.6014, // forget stability, hard penalty
	1.8729, 0.5425, 0.0912, 0.0658, // easy bonus, short-term
	0.1542, // decay
}

var (
	lowerBounds = [21]float64{
		0.001, 0.001, 0.001, 0.001,
		1.0, 0.001, 0.001, 0.001,
		0.0, 0.0, 0.001, 0.001,
		0.001, 0.001, 0.0, 0.0,
		1.0, 0.0, 0.0, 0.0,
		0.1,
	}
	upperBounds = [21]float64{
		100.0, 100.0, 100.0, 100.0,
		10.0, 4.0, 4.0, 0.75,
		4.5, 0.8, 3.5, 5.0,
		0.25, 0.9, 4.0, 1.0,
		6.0, 2.0, 2.0, 0.8,
		0.8,
	}
)

// DefaultMaximumInterval caps scheduled intervals at 100 years.
const DefaultMaximumInterval = 36500

// FSRSConfig configures an FSRS model. Zero values select defaults.
type FSRSConfig struct {
	Parameters      [21]float64 `yaml:"parameters,omitempty"`
	MaximumInterval int         `yaml:"maximum_interval,omitempty"`
}

// FSRS implements Model with the FSRS-6 memory equations.
type FSRS struct {
	w      [21]float64
	decay  float64
	factor float64
	maxIvl int
}

// NewFSRS validates cfg and returns a model.
func NewFSRS(cfg FSRSConfig) (*FSRS, error) {
	p := cfg.Parameters
	if p == [21]float64{} {
		p = DefaultParameters
	}
	for i := range p {
		if p[i] < lowerBounds[i] || p[i] > upperBounds[i] {
			return nil, domain.Model("NewFSRS",
				fmt.Errorf("w[%d] = %f outside [%f, %f]", i, p[i], lowerBounds[i], upperBounds[i]))
		}
	}
	maxIvl := cfg.MaximumInterval
	if maxIvl == 0 {
		maxIvl = DefaultMaximumInterval
	}
	if maxIvl < 1 {
		return nil, domain.Model("NewFSRS", fmt.Errorf("maximum interval %d must be positive", maxIvl))
	}
	decay := -p[20]
	return &FSRS{
		w:      p,
		decay:  decay,
		factor: math.Pow(0.9, 1.0/decay) - 1.0,
		maxIvl: maxIvl,
	}, nil
}

// NextStates implements Model.
func (f *FSRS) NextStates(_ context.Context, prior *Memory, targetRetention float64, elapsedDays int) (NextStates, error) {
	if elapsedDays < 0 {
		return NextStates{}, domain.Model("NextStates", fmt.Errorf("negative elapsed days %d", elapsedDays))
	}
	if !(targetRetention > 0 && targetRetention < 1) {
		return NextStates{}, domain.Model("NextStates", fmt.Errorf("target retention %f outside (0, 1)", targetRetention))
	}
	if prior != nil && !(prior.Stability > 0) {
		return NextStates{}, domain.Model("NextStates", fmt.Errorf("prior stability %f must be positive", prior.Stability))
	}

	var out NextStates
	for _, g := range domain.Grades {
		var s, d float64
		if prior == nil {
			s = f.initStability(g)
			d = f.initDifficulty(g, true)
		} else {
			pd := clampD(prior.Difficulty)
			d = f.nextDifficulty(pd, g)
			if elapsedDays == 0 {
				s = f.shortTermStability(prior.Stability, g)
			} else {
				r := f.retrievability(float64(elapsedDays), prior.Stability)
				s = f.nextStability(pd, prior.Stability, r, g)
			}
		}
		st := ItemState{Stability: s, Difficulty: d, IntervalDays: f.nextInterval(s, targetRetention)}
		switch g {
		case domain.Again:
			out.Again = st
		case domain.Hard:
			out.Hard = st
		case domain.Good:
			out.Good = st
		case domain.Easy:
			out.Easy = st
		}
	}
	f.orderIntervals(&out)
	return out, nil
}

// orderIntervals keeps hard ≤ good < easy so better grades never come back sooner.
func (f *FSRS) orderIntervals(n *NextStates) {
	if n.Hard.IntervalDays > n.Good.IntervalDays {
		n.Hard.IntervalDays = n.Good.IntervalDays
	}
	if n.Good.IntervalDays <= n.Hard.IntervalDays && n.Good.IntervalDays < f.maxIvl {
		n.Good.IntervalDays = n.Hard.IntervalDays + 1
	}
	if n.Easy.IntervalDays <= n.Good.IntervalDays && n.Easy.IntervalDays < f.maxIvl {
		n.Easy.IntervalDays = n.Good.IntervalDays + 1
	}
}

// retrievability is R(t, S) = (1 + factor·t/S)^decay.
func (f *FSRS) retrievability(elapsedDays, stability float64) float64 {
	return math.Pow(1+f.factor*elapsedDays/stability, f.decay)
}

func (f *FSRS) initStability(g domain.Grade) float64 {
	return clampS(f.w[g-1])
}

// initDifficulty is D0(G) = w4 − e^(w5·(G−1)) + 1.
func (f *FSRS) initDifficulty(g domain.Grade, clamp bool) float64 {
	d := f.w[4] - math.Exp(f.w[5]*float64(g-1)) + 1
	if clamp {
		return clampD(d)
	}
	return d
}

func (f *FSRS) nextInterval(stability, retention float64) int {
	ivl := stability / f.factor * (math.Pow(retention, 1.0/f.decay) - 1)
	rounded := int(math.Round(ivl))
	if rounded < 1 {
		rounded = 1
	}
	if rounded > f.maxIvl {
		rounded = f.maxIvl
	}
	return rounded
}

func (f *FSRS) shortTermStability(stability float64, g domain.Grade) float64 {
	inc := math.Exp(f.w[17]*(float64(g)-3+f.w[18])) * math.Pow(stability, -f.w[19])
	if g == domain.Good || g == domain.Easy {
		inc = math.Max(inc, 1.0)
	}
	return clampS(stability * inc)
}

// nextDifficulty applies linear damping then mean reversion towards D0(Easy).
func (f *FSRS) nextDifficulty(d float64, g domain.Grade) float64 {
	delta := -f.w[6] * (float64(g) - 3)
	damped := d + (10-d)*delta/9
	return clampD(f.w[7]*f.initDifficulty(domain.Easy, false) + (1-f.w[7])*damped)
}

func (f *FSRS) nextStability(d, s, r float64, g domain.Grade) float64 {
	if g == domain.Again {
		long := f.w[11] * math.Pow(d, -f.w[12]) * (math.Pow(s+1, f.w[13]) - 1) * math.Exp((1-r)*f.w[14])
		short := s / math.Exp(f.w[17]*f.w[18])
		return clampS(math.Min(long, short))
	}
	hardPenalty, easyBonus := 1.0, 1.0
	if g == domain.Hard {
		hardPenalty = f.w[15]
	}
	if g == domain.Easy {
		easyBonus = f.w[16]
	}
	return clampS(s * (1 + math.Exp(f.w[8])*(11-d)*math.Pow(s, -f.w[9])*
		(math.Exp((1-r)*f.w[10])-1)*hardPenalty*easyBonus))
}

func clampS(s float64) float64 {
	return math.Max(s, 0.001)
}

func clampD(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}
