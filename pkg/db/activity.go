package db

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/verus-network/vrscx/pkg/db/models"
)

// InsertActivity appends monetary events. Inserting an existing
// (txid, vout) again is harmless: the ReplacingMergeTree key collapses
// duplicates, and every read goes through FINAL, so re-indexing an
// address an unbounded number of times never double-counts.
func (db *DB) InsertActivity(ctx context.Context, records []*models.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO "%s"."activity" (txid, vout, address, height, block_hash, block_time, amount, classifier) VALUES`,
		db.Name,
	)
	batch, err := db.Db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, r := range records {
		err = batch.Append(
			r.TxID,
			r.Vout,
			r.Address,
			r.Height,
			r.BlockHash,
			r.BlockTime,
			r.Amount,
			r.Classifier,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// ActivityCount returns the number of distinct monetary events for an
// address.
func (db *DB) ActivityCount(ctx context.Context, address string) (uint64, error) {
	query := fmt.Sprintf(`
		SELECT count() AS n
		FROM "%s"."activity" FINAL
		WHERE address = ?
	`, db.Name)

	var rows []struct {
		N uint64 `ch:"n"`
	}
	if err := db.Db.Select(ctx, &rows, query, address); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].N, nil
}

// IndexedAddresses lists every address that has at least one persisted
// monetary event; used for scheduled rollup refreshes.
func (db *DB) IndexedAddresses(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT address
		FROM "%s"."activity"
		ORDER BY address
	`, db.Name)

	var rows []struct {
		Address string `ch:"address"`
	}
	if err := db.Db.Select(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i := range rows {
		out[i] = rows[i].Address
	}
	return out, nil
}
