package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// BanditArms implements domain.BanditStore.
func (r *queries) BanditArms(ctx context.Context, userID, goalGroup string) ([]domain.BanditArm, error) {
	rows, err := r.query(ctx, "BanditArms", r.sb.
		Select("profile_name", "successes", "failures", "updated_at").
		From("bandit_arms").
		Where(sq.Eq{"user_id": userID, "goal_group": goalGroup}).
		OrderBy("profile_name"))
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only

	var out []domain.BanditArm
	for rows.Next() {
		arm := domain.BanditArm{UserID: userID, GoalGroup: goalGroup}
		var ms int64
		if err := rows.Scan(&arm.ProfileName, &arm.Successes, &arm.Failures, &ms); err != nil {
			return nil, classify("BanditArms.scan", err)
		}
		arm.UpdatedAt = fromMillis(ms)
		out = append(out, arm)
	}
	return out, classify("BanditArms.rows", rows.Err())
}

// InitBanditArms implements domain.BanditStore with a single multi-row insert,
// so either every missing arm is written or none is.
func (r *queries) InitBanditArms(ctx context.Context, userID, goalGroup string, profileNames []string) error {
	names := lo.Uniq(profileNames)
	if len(names) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	b := r.sb.Insert("bandit_arms").
		Columns("user_id", "goal_group", "profile_name", "successes", "failures", "updated_at")
	for _, name := range names {
		b = b.Values(userID, goalGroup, name, 1.0, 1.0, now)
	}
	_, err := r.exec(ctx, "InitBanditArms", b.Suffix("ON CONFLICT(user_id, goal_group, profile_name) DO NOTHING"))
	return err
}

// SaveBanditArm implements domain.BanditStore.
func (r *queries) SaveBanditArm(ctx context.Context, arm domain.BanditArm) error {
	updated := arm.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.exec(ctx, "SaveBanditArm", r.sb.Insert("bandit_arms").
		Columns("user_id", "goal_group", "profile_name", "successes", "failures", "updated_at").
		Values(arm.UserID, arm.GoalGroup, arm.ProfileName, arm.Successes, arm.Failures, toMillis(updated)).
		Suffix(`ON CONFLICT(user_id, goal_group, profile_name) DO UPDATE SET
			successes = excluded.successes,
			failures = excluded.failures,
			updated_at = excluded.updated_at`))
	return err
}
