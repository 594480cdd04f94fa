package db

import (
	"context"
	"fmt"

	"github.com/verus-network/vrscx/pkg/db/models"
)

// RebuildRollups fully recomputes the address's per-day aggregates from
// the activity table. Recomputation (not incremental maintenance) keeps
// the rollup safe to regenerate at any time, including concurrently.
func (db *DB) RebuildRollups(ctx context.Context, address string) error {
	query := fmt.Sprintf(`
		INSERT INTO "%s"."daily_rollup" (address, day, count, total_amount, rebuilt_at)
		SELECT
			address,
			toDate(block_time) AS day,
			count() AS count,
			sum(amount) AS total_amount,
			now64(3) AS rebuilt_at
		FROM "%s"."activity" FINAL
		WHERE address = ?
		GROUP BY address, day
	`, db.Name, db.Name)
	return db.Exec(ctx, query, address)
}

// Rollups returns the address's daily aggregates in day order.
func (db *DB) Rollups(ctx context.Context, address string) ([]*models.DailyRollup, error) {
	query := fmt.Sprintf(`
		SELECT address, day, count, total_amount
		FROM "%s"."daily_rollup" FINAL
		WHERE address = ?
		ORDER BY day
	`, db.Name)

	var rows []models.DailyRollup
	if err := db.Db.Select(ctx, &rows, query, address); err != nil {
		return nil, err
	}
	out := make([]*models.DailyRollup, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}
