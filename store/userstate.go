package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

func validEnergy(op string, e float64) error {
	if e < domain.MinEnergy || e > domain.MaxEnergy {
		return domain.Validation(op, fmt.Errorf("%w: %f", domain.ErrInvalidEnergy, e))
	}
	return nil
}

// MemoryRecord implements domain.UserState.
func (r *queries) MemoryRecord(ctx context.Context, userID, itemID string) (domain.MemoryRecord, bool, error) {
	row, err := r.queryRow(ctx, "MemoryRecord", r.sb.
		Select("stability", "difficulty", "energy", "last_reviewed_at", "due_at", "review_count").
		From("memory_records").
		Where(sq.Eq{"user_id": userID, "item_id": itemID}))
	if err != nil {
		return domain.MemoryRecord{}, false, err
	}

	rec := domain.NewMemoryRecord(userID, itemID)
	var lastMs, dueMs int64
	err = row.Scan(&rec.Stability, &rec.Difficulty, &rec.Energy, &lastMs, &dueMs, &rec.ReviewCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MemoryRecord{}, false, nil
	}
	if err != nil {
		return domain.MemoryRecord{}, false, classify("MemoryRecord", err)
	}
	rec.LastReviewedAt = fromMillis(lastMs)
	rec.DueAt = fromMillis(dueMs)
	return rec, true, nil
}

// SaveMemoryRecord implements domain.UserState.
func (r *queries) SaveMemoryRecord(ctx context.Context, rec domain.MemoryRecord) error {
	if err := validEnergy("SaveMemoryRecord", rec.Energy); err != nil {
		return err
	}
	_, err := r.exec(ctx, "SaveMemoryRecord", r.sb.Insert("memory_records").
		Columns("user_id", "item_id", "stability", "difficulty", "energy", "last_reviewed_at", "due_at", "review_count").
		Values(rec.UserID, rec.ItemID, rec.Stability, rec.Difficulty, rec.Energy,
			toMillis(rec.LastReviewedAt), toMillis(rec.DueAt), rec.ReviewCount).
		Suffix(`ON CONFLICT(user_id, item_id) DO UPDATE SET
			stability = excluded.stability,
			difficulty = excluded.difficulty,
			energy = excluded.energy,
			last_reviewed_at = excluded.last_reviewed_at,
			due_at = excluded.due_at,
			review_count = excluded.review_count`))
	return err
}

// MemoryBasics implements domain.UserState. Ids are fetched in batches.
func (r *queries) MemoryBasics(ctx context.Context, userID string, itemIDs []string) (map[string]domain.MemoryBasics, error) {
	out := make(map[string]domain.MemoryBasics, len(itemIDs))
	for _, chunk := range lo.Chunk(lo.Uniq(itemIDs), r.batchSize) {
		rows, err := r.query(ctx, "MemoryBasics", r.sb.
			Select("item_id", "energy", "due_at").
			From("memory_records").
			Where(sq.Eq{"user_id": userID, "item_id": chunk}))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				id    string
				b     domain.MemoryBasics
				dueMs int64
			)
			if err := rows.Scan(&id, &b.Energy, &dueMs); err != nil {
				_ = rows.Close()
				return nil, classify("MemoryBasics.scan", err)
			}
			b.DueAt = fromMillis(dueMs)
			out[id] = b
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, classify("MemoryBasics.rows", err)
		}
	}
	return out, nil
}

// ParentEnergies implements domain.UserState.
func (r *queries) ParentEnergies(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error) {
	basics, err := r.MemoryBasics(ctx, userID, itemIDs)
	if err != nil {
		return nil, err
	}
	return lo.MapValues(basics, func(b domain.MemoryBasics, _ string) float64 { return b.Energy }), nil
}

// UpdateEnergy implements domain.UserState.
func (r *queries) UpdateEnergy(ctx context.Context, userID, itemID string, energy float64) error {
	if err := validEnergy("UpdateEnergy", energy); err != nil {
		return err
	}
	_, err := r.exec(ctx, "UpdateEnergy", r.sb.Insert("memory_records").
		Columns("user_id", "item_id", "energy").
		Values(userID, itemID, energy).
		Suffix("ON CONFLICT(user_id, item_id) DO UPDATE SET energy = excluded.energy"))
	return err
}

// ApplyPropagation implements domain.UserState. Store overrides it to open a
// transaction; here it runs on whatever q is.
func (r *queries) ApplyPropagation(ctx context.Context, userID string, updates []domain.EnergyUpdate, event domain.PropagationEvent) (int64, error) {
	for _, u := range updates {
		if err := r.UpdateEnergy(ctx, userID, u.ItemID, u.NewEnergy); err != nil {
			return 0, err
		}
	}
	return r.LogPropagation(ctx, event)
}

// LogPropagation implements domain.UserState.
func (r *queries) LogPropagation(ctx context.Context, event domain.PropagationEvent) (int64, error) {
	row, err := r.queryRow(ctx, "LogPropagation", r.sb.Insert("propagation_events").
		Columns("user_id", "source_item_id", "triggered_at").
		Values(event.UserID, event.SourceItemID, toMillis(event.TriggeredAt)).
		Suffix("RETURNING id"))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, classify("LogPropagation", err)
	}

	for _, chunk := range lo.Chunk(event.Details, r.batchSize) {
		b := r.sb.Insert("propagation_details").
			Columns("event_id", "target_item_id", "energy_change", "path", "reason")
		for _, d := range chunk {
			b = b.Values(id, d.TargetItemID, d.EnergyChange, d.Path, d.Reason)
		}
		if _, err := r.exec(ctx, "LogPropagation.details", b); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// PropagationEvent loads one logged event with its details.
func (r *queries) PropagationEvent(ctx context.Context, id int64) (domain.PropagationEvent, error) {
	row, err := r.queryRow(ctx, "PropagationEvent", r.sb.
		Select("user_id", "source_item_id", "triggered_at").
		From("propagation_events").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.PropagationEvent{}, err
	}
	ev := domain.PropagationEvent{ID: id}
	var ms int64
	err = row.Scan(&ev.UserID, &ev.SourceItemID, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PropagationEvent{}, domain.NotFound("PropagationEvent", fmt.Errorf("event %d", id))
	}
	if err != nil {
		return domain.PropagationEvent{}, classify("PropagationEvent", err)
	}
	ev.TriggeredAt = fromMillis(ms)

	rows, err := r.query(ctx, "PropagationEvent.details", r.sb.
		Select("target_item_id", "energy_change", "path", "reason").
		From("propagation_details").
		Where(sq.Eq{"event_id": id}).
		OrderBy("id"))
	if err != nil {
		return domain.PropagationEvent{}, err
	}
	defer rows.Close() //nolint:errcheck // Read-only
	for rows.Next() {
		var d domain.PropagationDetail
		if err := rows.Scan(&d.TargetItemID, &d.EnergyChange, &d.Path, &d.Reason); err != nil {
			return domain.PropagationEvent{}, classify("PropagationEvent.scan", err)
		}
		ev.Details = append(ev.Details, d)
	}
	return ev, classify("PropagationEvent.rows", rows.Err())
}
