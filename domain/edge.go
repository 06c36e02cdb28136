package domain

import (
	"fmt"
	"math"
)

// EdgeType distinguishes prerequisite ordering from energy-carrying edges.
type EdgeType int

const (
	// EdgeDependency orders prerequisites. Source is the prerequisite of Target.
	// It never carries energy.
	EdgeDependency EdgeType = iota
	// EdgeKnowledge is eligible for energy propagation.
	EdgeKnowledge
)

func (t EdgeType) String() string {
	switch t {
	case EdgeDependency:
		return "dependency"
	case EdgeKnowledge:
		return "knowledge"
	default:
		return fmt.Sprintf("EdgeType(%d)", int(t))
	}
}

// DistributionKind selects how Distribution parameters are interpreted.
type DistributionKind int

const (
	DistConstant DistributionKind = iota // P1 = weight
	DistNormal                           // P1 = mean, P2 = stddev
	DistBeta                             // P1 = alpha, P2 = beta
)

// Distribution describes how strongly an edge attenuates propagated energy.
type Distribution struct {
	Kind DistributionKind
	P1   float64
	P2   float64
}

// Constant returns a fixed-weight distribution.
func Constant(weight float64) Distribution {
	return Distribution{Kind: DistConstant, P1: weight}
}

// Normal returns a normal distribution descriptor.
func Normal(mean, stddev float64) Distribution {
	return Distribution{Kind: DistNormal, P1: mean, P2: stddev}
}

// Beta returns a beta distribution descriptor.
func Beta(alpha, beta float64) Distribution {
	return Distribution{Kind: DistBeta, P1: alpha, P2: beta}
}

// Weight returns the attenuation factor: the constant weight, the normal mean
// clamped to [0,1], or the beta mean alpha/(alpha+beta) clamped to [0,1].
func (d Distribution) Weight() float64 {
	switch d.Kind {
	case DistConstant:
		return d.P1
	case DistNormal:
		return clampUnit(d.P1)
	case DistBeta:
		if d.P1+d.P2 == 0 {
			return 0
		}
		return clampUnit(d.P1 / (d.P1 + d.P2))
	default:
		return 0
	}
}

// String describes the distribution and its effective weight.
func (d Distribution) String() string {
	switch d.Kind {
	case DistConstant:
		return fmt.Sprintf("Constant(%.4f)", d.P1)
	case DistNormal:
		return fmt.Sprintf("Normal(mean=%.4f, sd=%.4f) -> %.4f", d.P1, d.P2, d.Weight())
	case DistBeta:
		return fmt.Sprintf("Beta(a=%.4f, b=%.4f) -> %.4f", d.P1, d.P2, d.Weight())
	default:
		return fmt.Sprintf("Distribution(%d)", int(d.Kind))
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

// Edge is a directed edge of the content graph.
type Edge struct {
	Source string
	Target string
	Type   EdgeType
	Dist   Distribution
}
