// Package db is the persistent store for the explorer backend:
// identities, per-address activity, daily rollups, and balance
// snapshots, all on ClickHouse. ReplacingMergeTree merge keys provide
// the idempotent-upsert semantics the indexer relies on instead of
// locks.
package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/db/clickhouse"
	"github.com/verus-network/vrscx/pkg/db/models"
	"github.com/verus-network/vrscx/pkg/utils"
)

// Store captures the persistence operations used by the indexer, the
// cache layer, and the read API.
type Store interface {
	UpsertIdentity(ctx context.Context, id *models.Identity) error
	GetIdentity(ctx context.Context, nameOrAddress string) (*models.Identity, error)

	InsertActivity(ctx context.Context, records []*models.ActivityRecord) error
	ActivityCount(ctx context.Context, address string) (uint64, error)
	IndexedAddresses(ctx context.Context) ([]string, error)

	RebuildRollups(ctx context.Context, address string) error
	Rollups(ctx context.Context, address string) ([]*models.DailyRollup, error)

	UpsertBalance(ctx context.Context, snap *models.BalanceSnapshot) error
	Balance(ctx context.Context, address string, maxAge time.Duration) (*models.BalanceSnapshot, error)
	Balances(ctx context.Context, addresses []string, maxAge time.Duration) (map[string]*models.BalanceSnapshot, error)

	Close() error
}

// DB implements Store on a single ClickHouse database.
type DB struct {
	clickhouse.Client
	Name string
}

var _ Store = (*DB)(nil)

// New connects and makes sure the schema exists.
func New(ctx context.Context, logger *zap.Logger) (*DB, error) {
	name := clickhouse.SanitizeName(utils.Env("EXPLORER_DB", "vrscx"))
	client, err := clickhouse.New(ctx, logger.With(zap.String("db", name)))
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client, Name: name}
	if err := db.InitializeDB(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.Client.Close()
}
