// Package catalog reads content bundles (items, goals and graph edges) from
// YAML and loads them into a content store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// Item is one schedulable unit with its static scores.
type Item struct {
	ID           string  `yaml:"id"`
	Foundational float64 `yaml:"foundational,omitempty"`
	Influence    float64 `yaml:"influence,omitempty"`
	Difficulty   float64 `yaml:"difficulty,omitempty"`
	Order        int64   `yaml:"order,omitempty"`
}

// Dist is the YAML form of domain.Distribution.
type Dist struct {
	Kind string  `yaml:"kind"` // constant, normal, beta
	P1   float64 `yaml:"p1"`
	P2   float64 `yaml:"p2,omitempty"`
}

// Edge is a directed graph edge. Type is "dependency" or "knowledge".
type Edge struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Type   string `yaml:"type"`
	Dist   *Dist  `yaml:"dist,omitempty"`
}

// Bundle is a complete content file.
type Bundle struct {
	Items []Item              `yaml:"items"`
	Goals map[string][]string `yaml:"goals"`
	Edges []Edge              `yaml:"edges,omitempty"`
}

// Sink receives imported content.
type Sink interface {
	UpsertItem(ctx context.Context, item domain.CandidateNode) error
	AddGoalItems(ctx context.Context, goalID string, itemIDs ...string) error
	UpsertEdge(ctx context.Context, e domain.Edge) error
}

// Stats counts what an import wrote.
type Stats struct {
	Items int
	Goals int
	Edges int
}

// Read decodes and validates a bundle.
func Read(r io.Reader) (*Bundle, error) {
	var b Bundle
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to parse content bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks ids, score ranges, goal members and edges. Edge endpoints
// must be declared items; each (source, target, type) appears once.
func (b *Bundle) Validate() error {
	var errs []error
	known := make(map[string]bool, len(b.Items))
	for i, it := range b.Items {
		if it.ID == "" {
			errs = append(errs, fmt.Errorf("items[%d]: id is required", i))
			continue
		}
		if known[it.ID] {
			errs = append(errs, fmt.Errorf("items[%d]: duplicate id %q", i, it.ID))
		}
		known[it.ID] = true
		for name, v := range map[string]float64{"foundational": it.Foundational, "influence": it.Influence, "difficulty": it.Difficulty} {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("items[%d] %s: %s must be in [0,1], got %v", i, it.ID, name, v))
			}
		}
	}
	for goal, ids := range b.Goals {
		for _, id := range ids {
			if !known[id] {
				errs = append(errs, fmt.Errorf("goal %q: unknown item %q", goal, id))
			}
		}
	}
	type edgeKey struct {
		source, target string
		typ            domain.EdgeType
	}
	seen := make(map[edgeKey]bool, len(b.Edges))
	for i, e := range b.Edges {
		de, err := e.toDomain()
		if err != nil {
			errs = append(errs, fmt.Errorf("edges[%d]: %w", i, err))
			continue
		}
		for _, id := range []string{de.Source, de.Target} {
			if !known[id] {
				errs = append(errs, fmt.Errorf("edges[%d]: unknown item %q", i, id))
			}
		}
		key := edgeKey{de.Source, de.Target, de.Type}
		if seen[key] {
			errs = append(errs, fmt.Errorf("edges[%d]: duplicate %s edge %s->%s", i, de.Type, de.Source, de.Target))
		}
		seen[key] = true
	}
	if err := errors.Join(errs...); err != nil {
		return domain.Validation("catalog.Validate", err)
	}
	return nil
}

func (e Edge) toDomain() (domain.Edge, error) {
	if e.Source == "" || e.Target == "" {
		return domain.Edge{}, errors.New("source and target are required")
	}
	if e.Source == e.Target {
		return domain.Edge{}, fmt.Errorf("self edge on %q", e.Source)
	}
	out := domain.Edge{Source: e.Source, Target: e.Target}
	switch strings.ToLower(e.Type) {
	case "dependency", "":
		out.Type = domain.EdgeDependency
		return out, nil
	case "knowledge":
		out.Type = domain.EdgeKnowledge
	default:
		return domain.Edge{}, fmt.Errorf("unknown edge type %q", e.Type)
	}
	if e.Dist == nil {
		return domain.Edge{}, fmt.Errorf("knowledge edge %s->%s needs a dist", e.Source, e.Target)
	}
	switch strings.ToLower(e.Dist.Kind) {
	case "constant":
		out.Dist = domain.Constant(e.Dist.P1)
	case "normal":
		out.Dist = domain.Normal(e.Dist.P1, e.Dist.P2)
	case "beta":
		if e.Dist.P1 <= 0 || e.Dist.P2 <= 0 {
			return domain.Edge{}, fmt.Errorf("beta parameters must be positive, got %v, %v", e.Dist.P1, e.Dist.P2)
		}
		out.Dist = domain.Beta(e.Dist.P1, e.Dist.P2)
	default:
		return domain.Edge{}, fmt.Errorf("unknown dist kind %q", e.Dist.Kind)
	}
	return out, nil
}

// Import writes b into sink: items first, then goal membership, then edges.
func Import(ctx context.Context, sink Sink, b *Bundle, logger zerolog.Logger) (Stats, error) {
	logger = logger.With().Str("component", "catalog").Logger()
	var st Stats

	for _, it := range b.Items {
		node := domain.CandidateNode{
			ItemID:            it.ID,
			FoundationalScore: it.Foundational,
			InfluenceScore:    it.Influence,
			DifficultyScore:   it.Difficulty,
			OrderKey:          it.Order,
		}
		if err := sink.UpsertItem(ctx, node); err != nil {
			return st, fmt.Errorf("import item %s: %w", it.ID, err)
		}
		st.Items++
	}

	for _, goal := range lo.Keys(b.Goals) {
		if err := sink.AddGoalItems(ctx, goal, b.Goals[goal]...); err != nil {
			return st, fmt.Errorf("import goal %s: %w", goal, err)
		}
		st.Goals++
	}

	for _, e := range b.Edges {
		de, err := e.toDomain()
		if err != nil {
			return st, domain.Validation("catalog.Import", err)
		}
		if err := sink.UpsertEdge(ctx, de); err != nil {
			return st, fmt.Errorf("import edge %s->%s: %w", e.Source, e.Target, err)
		}
		st.Edges++
	}

	logger.Info().
		Int("items", st.Items).
		Int("goals", st.Goals).
		Int("edges", st.Edges).
		Msg("Imported content bundle")
	return st, nil
}
