package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

var sessionColumns = []string{
	"id", "user_id", "goal_id", "goal_group", "profile_name", "mode", "items",
	"created_at", "rewarded_at", "reward",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.SessionRecord, error) {
	var (
		s          domain.SessionRecord
		mode       string
		items      string
		createdMs  int64
		rewardedMs sql.NullInt64
		reward     sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.GoalID, &s.GoalGroup, &s.ProfileName, &mode, &items,
		&createdMs, &rewardedMs, &reward); err != nil {
		return domain.SessionRecord{}, err
	}
	if err := json.Unmarshal([]byte(items), &s.Items); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("decode items of session %d: %w", s.ID, err)
	}
	s.Mode = domain.SessionMode(mode)
	s.CreatedAt = fromMillis(createdMs)
	if rewardedMs.Valid {
		at := fromMillis(rewardedMs.Int64)
		s.RewardedAt = &at
	}
	if reward.Valid {
		r := reward.Float64
		s.Reward = &r
	}
	return s, nil
}

// SaveSession implements domain.SessionStore.
func (r *queries) SaveSession(ctx context.Context, s domain.SessionRecord) error {
	items, err := json.Marshal(s.Items)
	if err != nil {
		return domain.Validation("SaveSession", err)
	}
	var (
		rewardedAt sql.NullInt64
		reward     sql.NullFloat64
	)
	if s.RewardedAt != nil {
		rewardedAt = sql.NullInt64{Int64: toMillis(*s.RewardedAt), Valid: true}
	}
	if s.Reward != nil {
		reward = sql.NullFloat64{Float64: *s.Reward, Valid: true}
	}
	_, err = r.exec(ctx, "SaveSession", r.sb.Insert("sessions").
		Columns(sessionColumns...).
		Values(s.ID, s.UserID, s.GoalID, s.GoalGroup, s.ProfileName, string(s.Mode), string(items),
			toMillis(s.CreatedAt), rewardedAt, reward))
	return err
}

// Session implements domain.SessionStore.
func (r *queries) Session(ctx context.Context, id int64) (domain.SessionRecord, error) {
	row, err := r.queryRow(ctx, "Session", r.sb.
		Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.SessionRecord{}, err
	}
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionRecord{}, domain.NotFound("Session", fmt.Errorf("session %d", id))
	}
	if err != nil {
		return domain.SessionRecord{}, classify("Session", err)
	}
	return s, nil
}

// PendingSessions implements domain.SessionStore.
func (r *queries) PendingSessions(ctx context.Context, cutoff time.Time, limit int) ([]domain.SessionRecord, error) {
	b := r.sb.
		Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"rewarded_at": nil}).
		Where(sq.LtOrEq{"created_at": toMillis(cutoff)}).
		OrderBy("created_at", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := r.query(ctx, "PendingSessions", b)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only

	var out []domain.SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, classify("PendingSessions.scan", err)
		}
		out = append(out, s)
	}
	return out, classify("PendingSessions.rows", rows.Err())
}

// MarkSessionRewarded implements domain.SessionStore.
func (r *queries) MarkSessionRewarded(ctx context.Context, id int64, reward float64, at time.Time) error {
	res, err := r.exec(ctx, "MarkSessionRewarded", r.sb.Update("sessions").
		Set("rewarded_at", toMillis(at)).
		Set("reward", reward).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("MarkSessionRewarded", err)
	}
	if n == 0 {
		return domain.NotFound("MarkSessionRewarded", fmt.Errorf("session %d", id))
	}
	return nil
}
