// Package models holds the persisted row types shared by the store,
// the indexer, and the read API.
package models

import "time"

// Classifier tags for activity rows.
const (
	ClassifierReward  = "coinbase-reward"
	ClassifierRegular = "regular"
)

// Identity is a resolved on-chain identity. The canonical address is
// the immutable key; later resolutions update the row in place.
type Identity struct {
	Address       string    `ch:"address" json:"address"`
	BaseName      string    `ch:"base_name" json:"baseName"`
	FriendlyName  string    `ch:"friendly_name" json:"friendlyName"`
	Addresses     []string  `ch:"addresses" json:"addresses"`
	CreatedHeight int64     `ch:"created_height" json:"createdHeight"`
	RefreshedAt   time.Time `ch:"refreshed_at" json:"refreshedAt"`
}

// ActivityRecord is one monetary event paying an address, keyed by
// (txid, vout). Write-once: re-inserting an existing key is a no-op
// after merges, which is the sole concurrency control for overlapping
// indexing runs.
type ActivityRecord struct {
	TxID       string    `ch:"txid" json:"txid"`
	Vout       int32     `ch:"vout" json:"vout"`
	Address    string    `ch:"address" json:"address"`
	Height     int64     `ch:"height" json:"height"`
	BlockHash  string    `ch:"block_hash" json:"blockHash"`
	BlockTime  time.Time `ch:"block_time" json:"blockTime"`
	Amount     uint64    `ch:"amount" json:"amount"` // smallest units
	Classifier string    `ch:"classifier" json:"classifier"`
}

// DailyRollup is the per-day aggregate derived from activity rows.
// Always rebuilt by recomputation, never incrementally maintained.
type DailyRollup struct {
	Address     string    `ch:"address" json:"address"`
	Day         time.Time `ch:"day" json:"day"`
	Count       uint64    `ch:"count" json:"count"`
	TotalAmount uint64    `ch:"total_amount" json:"totalAmount"`
}

// BalanceSnapshot is a cached live balance; valid only within the
// staleness window measured from CachedAt.
type BalanceSnapshot struct {
	Address  string    `ch:"address" json:"address"`
	Balance  int64     `ch:"balance" json:"balance"`
	Received int64     `ch:"received" json:"received"`
	Sent     int64     `ch:"sent" json:"sent"`
	CachedAt time.Time `ch:"cached_at" json:"cachedAt"`
}
