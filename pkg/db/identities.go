package db

import (
	"context"
	"fmt"
	"time"

	"github.com/verus-network/vrscx/pkg/db/models"
)

// UpsertIdentity persists an identity resolution. The canonical address
// is the merge key; a later refresh supersedes the stored row.
func (db *DB) UpsertIdentity(ctx context.Context, id *models.Identity) error {
	if id.RefreshedAt.IsZero() {
		id.RefreshedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO "%s"."identities"
			(address, base_name, friendly_name, addresses, created_height, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, db.Name)
	return db.Exec(ctx, query,
		id.Address,
		id.BaseName,
		id.FriendlyName,
		id.Addresses,
		id.CreatedHeight,
		id.RefreshedAt,
	)
}

// GetIdentity looks up by canonical address, base name, or any
// associated address. Returns (nil, nil) when absent.
func (db *DB) GetIdentity(ctx context.Context, nameOrAddress string) (*models.Identity, error) {
	query := fmt.Sprintf(`
		SELECT address, base_name, friendly_name, addresses, created_height, refreshed_at
		FROM "%s"."identities" FINAL
		WHERE address = ? OR base_name = ? OR has(addresses, ?)
		ORDER BY refreshed_at DESC
		LIMIT 1
	`, db.Name)

	var rows []models.Identity
	if err := db.Db.Select(ctx, &rows, query, nameOrAddress, nameOrAddress, nameOrAddress); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
