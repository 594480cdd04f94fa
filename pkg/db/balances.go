package db

import (
	"context"
	"fmt"
	"time"

	"github.com/verus-network/vrscx/pkg/db/models"
)

// UpsertBalance writes a balance snapshot; the newest cached_at wins.
func (db *DB) UpsertBalance(ctx context.Context, snap *models.BalanceSnapshot) error {
	if snap.CachedAt.IsZero() {
		snap.CachedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO "%s"."address_balance" (address, balance, received, sent, cached_at)
		VALUES (?, ?, ?, ?, ?)
	`, db.Name)
	return db.Exec(ctx, query,
		snap.Address,
		snap.Balance,
		snap.Received,
		snap.Sent,
		snap.CachedAt,
	)
}

// Balance returns the snapshot for one address if it is younger than
// maxAge; (nil, nil) otherwise — a stale snapshot is treated as absent.
func (db *DB) Balance(ctx context.Context, address string, maxAge time.Duration) (*models.BalanceSnapshot, error) {
	out, err := db.Balances(ctx, []string{address}, maxAge)
	if err != nil {
		return nil, err
	}
	return out[address], nil
}

// Balances returns the currently-fresh snapshots for the address set in
// one query, leaving the caller to live-fetch only the gaps.
func (db *DB) Balances(ctx context.Context, addresses []string, maxAge time.Duration) (map[string]*models.BalanceSnapshot, error) {
	out := make(map[string]*models.BalanceSnapshot, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	query := fmt.Sprintf(`
		SELECT address, balance, received, sent, cached_at
		FROM "%s"."address_balance" FINAL
		WHERE address IN (?) AND cached_at >= ?
	`, db.Name)

	var rows []models.BalanceSnapshot
	if err := db.Db.Select(ctx, &rows, query, addresses, cutoff); err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].Address] = &rows[i]
	}
	return out, nil
}
