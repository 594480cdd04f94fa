package db

import (
	"context"
	"fmt"
)

// InitializeDB creates the database and tables if they do not exist.
//
// Engines:
//   - identities / address_balance use ReplacingMergeTree versioned by
//     the refresh timestamp: later resolutions replace the row.
//   - activity uses ReplacingMergeTree keyed (txid, vout): re-indexing
//     the same address any number of times converges to one row per
//     monetary event, which substitutes for locking across overlapping
//     indexing runs.
//   - daily_rollup is versioned by rebuilt_at; every rebuild fully
//     recomputes the address's days and supersedes prior rows.
func (db *DB) InitializeDB(ctx context.Context) error {
	if err := db.Exec(ctx, fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS "%s"`, db.Name)); err != nil {
		return fmt.Errorf("create database %s: %w", db.Name, err)
	}

	tables := []struct {
		name  string
		query string
	}{
		{"identities", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s"."identities" (
				address        String,
				base_name      String,
				friendly_name  String,
				addresses      Array(String),
				created_height Int64,
				refreshed_at   DateTime64(3)
			) ENGINE = ReplacingMergeTree(refreshed_at)
			ORDER BY address
		`, db.Name)},
		{"activity", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s"."activity" (
				txid       String,
				vout       Int32,
				address    String,
				height     Int64,
				block_hash String,
				block_time DateTime64(3),
				amount     UInt64,
				classifier LowCardinality(String)
			) ENGINE = ReplacingMergeTree
			ORDER BY (txid, vout)
		`, db.Name)},
		{"daily_rollup", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s"."daily_rollup" (
				address      String,
				day          Date,
				count        UInt64,
				total_amount UInt64,
				rebuilt_at   DateTime64(3)
			) ENGINE = ReplacingMergeTree(rebuilt_at)
			ORDER BY (address, day)
		`, db.Name)},
		{"address_balance", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s"."address_balance" (
				address   String,
				balance   Int64,
				received  Int64,
				sent      Int64,
				cached_at DateTime64(3)
			) ENGINE = ReplacingMergeTree(cached_at)
			ORDER BY address
		`, db.Name)},
	}

	for _, t := range tables {
		if err := db.Exec(ctx, t.query); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
	}
	return nil
}

// Exec runs a statement without results.
func (db *DB) Exec(ctx context.Context, query string, args ...any) error {
	return db.Db.Exec(ctx, query, args...)
}
