package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// UpsertItem inserts or replaces an item's static scores.
func (r *queries) UpsertItem(ctx context.Context, item domain.CandidateNode) error {
	_, err := r.exec(ctx, "UpsertItem", r.sb.Insert("items").
		Columns("id", "foundational_score", "influence_score", "difficulty_score", "order_key").
		Values(item.ItemID, item.FoundationalScore, item.InfluenceScore, item.DifficultyScore, item.OrderKey).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			foundational_score = excluded.foundational_score,
			influence_score = excluded.influence_score,
			difficulty_score = excluded.difficulty_score,
			order_key = excluded.order_key`))
	return err
}

// AddGoalItems puts items in scope for goalID.
func (r *queries) AddGoalItems(ctx context.Context, goalID string, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	for _, chunk := range lo.Chunk(lo.Uniq(itemIDs), r.batchSize) {
		b := r.sb.Insert("goal_items").Columns("goal_id", "item_id")
		for _, id := range chunk {
			b = b.Values(goalID, id)
		}
		if _, err := r.exec(ctx, "AddGoalItems", b.Suffix("ON CONFLICT(goal_id, item_id) DO NOTHING")); err != nil {
			return err
		}
	}
	return nil
}

// UpsertEdge inserts or replaces the edge of type e.Type between e.Source and
// e.Target. A dependency and a knowledge edge on the same pair coexist.
func (r *queries) UpsertEdge(ctx context.Context, e domain.Edge) error {
	_, err := r.exec(ctx, "UpsertEdge", r.sb.Insert("edges").
		Columns("source_id", "target_id", "edge_type", "dist_kind", "p1", "p2").
		Values(e.Source, e.Target, int(e.Type), int(e.Dist.Kind), e.Dist.P1, e.Dist.P2).
		Suffix(`ON CONFLICT(source_id, target_id, edge_type) DO UPDATE SET
			dist_kind = excluded.dist_kind,
			p1 = excluded.p1,
			p2 = excluded.p2`))
	return err
}

// SchedulerCandidates implements domain.ContentSource.
func (r *queries) SchedulerCandidates(ctx context.Context, goalID string) ([]domain.CandidateNode, error) {
	rows, err := r.query(ctx, "SchedulerCandidates", r.sb.
		Select("i.id", "i.foundational_score", "i.influence_score", "i.difficulty_score", "i.order_key").
		From("goal_items g").
		Join("items i ON i.id = g.item_id").
		Where(sq.Eq{"g.goal_id": goalID}).
		OrderBy("i.order_key", "i.id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only

	var out []domain.CandidateNode
	for rows.Next() {
		var c domain.CandidateNode
		if err := rows.Scan(&c.ItemID, &c.FoundationalScore, &c.InfluenceScore, &c.DifficultyScore, &c.OrderKey); err != nil {
			return nil, classify("SchedulerCandidates.scan", err)
		}
		out = append(out, c)
	}
	return out, classify("SchedulerCandidates.rows", rows.Err())
}

// PrerequisiteParents implements domain.ContentSource.
func (r *queries) PrerequisiteParents(ctx context.Context, itemIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, chunk := range lo.Chunk(lo.Uniq(itemIDs), r.batchSize) {
		rows, err := r.query(ctx, "PrerequisiteParents", r.sb.
			Select("target_id", "source_id").
			From("edges").
			Where(sq.Eq{"edge_type": int(domain.EdgeDependency), "target_id": chunk}).
			OrderBy("target_id", "source_id"))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var child, parent string
			if err := rows.Scan(&child, &parent); err != nil {
				_ = rows.Close()
				return nil, classify("PrerequisiteParents.scan", err)
			}
			out[child] = append(out[child], parent)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, classify("PrerequisiteParents.rows", err)
		}
	}
	return out, nil
}

// EdgesFrom implements domain.ContentSource.
func (r *queries) EdgesFrom(ctx context.Context, itemID string) ([]domain.Edge, error) {
	rows, err := r.query(ctx, "EdgesFrom", r.sb.
		Select("source_id", "target_id", "edge_type", "dist_kind", "p1", "p2").
		From("edges").
		Where(sq.Eq{"source_id": itemID}).
		OrderBy("target_id", "edge_type"))
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only

	var out []domain.Edge
	for rows.Next() {
		var (
			e              domain.Edge
			edgeType, kind int
		)
		if err := rows.Scan(&e.Source, &e.Target, &edgeType, &kind, &e.Dist.P1, &e.Dist.P2); err != nil {
			return nil, classify("EdgesFrom.scan", err)
		}
		e.Type = domain.EdgeType(edgeType)
		e.Dist.Kind = domain.DistributionKind(kind)
		out = append(out, e)
	}
	return out, classify("EdgesFrom.rows", rows.Err())
}
