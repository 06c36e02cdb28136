package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// AppendReview implements domain.ReviewLog.
func (r *queries) AppendReview(ctx context.Context, e domain.ReviewEntry) error {
	_, err := r.exec(ctx, "AppendReview", r.sb.Insert("review_log").
		Columns("user_id", "item_id", "grade", "reviewed_at", "energy_before", "energy_after").
		Values(e.UserID, e.ItemID, int(e.Grade), toMillis(e.ReviewedAt), e.EnergyBefore, e.EnergyAfter))
	return err
}

// Reviews implements domain.ReviewLog.
func (r *queries) Reviews(ctx context.Context, userID string, itemIDs []string, from, to time.Time) ([]domain.ReviewEntry, error) {
	var out []domain.ReviewEntry
	for _, chunk := range lo.Chunk(lo.Uniq(itemIDs), r.batchSize) {
		rows, err := r.query(ctx, "Reviews", r.sb.
			Select("item_id", "grade", "reviewed_at", "energy_before", "energy_after").
			From("review_log").
			Where(sq.Eq{"user_id": userID, "item_id": chunk}).
			Where(sq.GtOrEq{"reviewed_at": toMillis(from)}).
			Where(sq.LtOrEq{"reviewed_at": toMillis(to)}).
			OrderBy("reviewed_at", "id"))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			e := domain.ReviewEntry{UserID: userID}
			var (
				grade int
				ms    int64
			)
			if err := rows.Scan(&e.ItemID, &grade, &ms, &e.EnergyBefore, &e.EnergyAfter); err != nil {
				_ = rows.Close()
				return nil, classify("Reviews.scan", err)
			}
			e.Grade = domain.Grade(grade)
			e.ReviewedAt = fromMillis(ms)
			out = append(out, e)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, classify("Reviews.rows", err)
		}
	}
	return out, nil
}
