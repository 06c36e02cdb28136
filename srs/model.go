// Package srs defines the spaced-repetition model contract consumed by the
// review processor, together with an FSRS-6 implementation of it.
package srs

import (
	"context"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// Memory is the prior memory state handed to a Model.
type Memory struct {
	Stability  float64
	Difficulty float64
}

// ItemState is one candidate outcome of a review.
type ItemState struct {
	Stability    float64
	Difficulty   float64
	IntervalDays int
}

// NextStates holds the outcome for each possible grade.
type NextStates struct {
	Again ItemState
	Hard  ItemState
	Good  ItemState
	Easy  ItemState
}

// For returns the state matching g. ok is false for an invalid grade.
func (n NextStates) For(g domain.Grade) (ItemState, bool) {
	switch g {
	case domain.Again:
		return n.Again, true
	case domain.Hard:
		return n.Hard, true
	case domain.Good:
		return n.Good, true
	case domain.Easy:
		return n.Easy, true
	default:
		return ItemState{}, false
	}
}

// Model predicts the next memory state for every grade. prior is nil for an
// item's first review. Implementations must be pure.
type Model interface {
	NextStates(ctx context.Context, prior *Memory, targetRetention float64, elapsedDays int) (NextStates, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, prior *Memory, targetRetention float64, elapsedDays int) (NextStates, error)

// NextStates calls f.
func (f ModelFunc) NextStates(ctx context.Context, prior *Memory, targetRetention float64, elapsedDays int) (NextStates, error) {
	return f(ctx, prior, targetRetention, elapsedDays)
}
