// Package cache is the read path over the persistent store: serve
// fresh records immediately, fall back to the gateway on a miss, and
// hand history work to the indexer without ever blocking on it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/db"
	"github.com/verus-network/vrscx/pkg/db/models"
	"github.com/verus-network/vrscx/pkg/indexer"
	"github.com/verus-network/vrscx/pkg/rpc"
)

// BalanceStaleness is the window inside which a stored snapshot is
// still served; older snapshots are treated as absent.
const BalanceStaleness = 5 * time.Minute

var (
	// ErrNotFound: the daemon answered and the record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable: neither the store nor a live fetch could serve
	// the lookup; transport detail is deliberately not leaked.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// ChainRPC captures the gateway calls the cache layer uses for live
// fills.
type ChainRPC interface {
	GetAddressBalance(ctx context.Context, addresses []string) (*rpc.AddressBalance, error)
	Batch(ctx context.Context, calls []rpc.BatchCall) []rpc.BatchResult
}

// Resolver performs a live identity resolution.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*models.Identity, error)
}

// Enqueuer schedules background history indexing.
type Enqueuer interface {
	Enqueue(address string) bool
}

type Cache struct {
	logger   *zap.Logger
	store    db.Store
	chain    ChainRPC
	resolver Resolver
	enqueuer Enqueuer
}

func New(logger *zap.Logger, store db.Store, chain ChainRPC, resolver Resolver, enqueuer Enqueuer) *Cache {
	return &Cache{
		logger:   logger,
		store:    store,
		chain:    chain,
		resolver: resolver,
		enqueuer: enqueuer,
	}
}

// GetIdentity reads from the store only; (nil, nil) means absent.
// Identities are not time-windowed.
func (c *Cache) GetIdentity(ctx context.Context, nameOrAddress string) (*models.Identity, error) {
	return c.store.GetIdentity(ctx, nameOrAddress)
}

// PutIdentity persists the identity and triggers background indexing of
// its canonical address. The caller is never blocked on the indexing.
func (c *Cache) PutIdentity(ctx context.Context, id *models.Identity) error {
	if err := c.store.UpsertIdentity(ctx, id); err != nil {
		return err
	}
	c.enqueuer.Enqueue(id.Address)
	return nil
}

// LookupIdentity is the full read path: store hit returns immediately
// (with an opportunistic background refresh of its history); a miss
// does a live resolution, persists it, and answers from that.
func (c *Cache) LookupIdentity(ctx context.Context, nameOrAddress string) (*models.Identity, error) {
	id, err := c.store.GetIdentity(ctx, nameOrAddress)
	if err != nil {
		c.logger.Warn("identity store read failed", zap.String("key", nameOrAddress), zap.Error(err))
	}
	if id == nil {
		// Users type bare names; stored base names carry the canonical
		// "@" terminator.
		if canonical := indexer.NormalizeName(nameOrAddress); canonical != nameOrAddress {
			id, err = c.store.GetIdentity(ctx, canonical)
			if err != nil {
				c.logger.Warn("identity store read failed", zap.String("key", canonical), zap.Error(err))
			}
		}
	}
	if id != nil {
		c.enqueuer.Enqueue(id.Address)
		return id, nil
	}

	live, rerr := c.resolver.Resolve(ctx, nameOrAddress)
	if rerr != nil || live == nil {
		var gerr *rpc.Error
		if errors.As(rerr, &gerr) && gerr.Kind == rpc.KindPermanent {
			return nil, ErrNotFound
		}
		return nil, ErrUnavailable
	}
	if perr := c.PutIdentity(ctx, live); perr != nil {
		// The caller still gets the live answer; persistence catches up
		// on the next lookup.
		c.logger.Warn("identity persist failed", zap.String("address", live.Address), zap.Error(perr))
	}
	return live, nil
}

// GetBalance reads the stored snapshot if it is inside the staleness
// window; (nil, nil) means absent.
func (c *Cache) GetBalance(ctx context.Context, address string) (*models.BalanceSnapshot, error) {
	return c.store.Balance(ctx, address, BalanceStaleness)
}

// PutBalance stores a fresh snapshot.
func (c *Cache) PutBalance(ctx context.Context, snap *models.BalanceSnapshot) error {
	return c.store.UpsertBalance(ctx, snap)
}

// FetchBalance serves cache-first and live-fills on a miss.
func (c *Cache) FetchBalance(ctx context.Context, address string) (*models.BalanceSnapshot, error) {
	snap, err := c.store.Balance(ctx, address, BalanceStaleness)
	if err != nil {
		c.logger.Warn("balance store read failed", zap.String("address", address), zap.Error(err))
	}
	if snap != nil {
		return snap, nil
	}

	live, lerr := c.chain.GetAddressBalance(ctx, []string{address})
	if live == nil {
		return nil, ErrUnavailable
	}
	if lerr != nil {
		// Fallback result; do not cache it as truth.
		return nil, ErrUnavailable
	}

	snap = snapshotFrom(address, live)
	if perr := c.PutBalance(ctx, snap); perr != nil {
		c.logger.Warn("balance persist failed", zap.String("address", address), zap.Error(perr))
	}
	return snap, nil
}

// GetBalances serves a batched read: one store query keyed by the full
// address set returns all currently-fresh entries, then the gaps are
// live-fetched in a single gateway batch round trip.
func (c *Cache) GetBalances(ctx context.Context, addresses []string) (map[string]*models.BalanceSnapshot, error) {
	out, err := c.store.Balances(ctx, addresses, BalanceStaleness)
	if err != nil {
		c.logger.Warn("balances store read failed", zap.Int("addresses", len(addresses)), zap.Error(err))
		out = map[string]*models.BalanceSnapshot{}
	}

	var gaps []string
	for _, addr := range addresses {
		if _, ok := out[addr]; !ok {
			gaps = append(gaps, addr)
		}
	}
	if len(gaps) == 0 {
		return out, nil
	}

	calls := make([]rpc.BatchCall, len(gaps))
	for i, addr := range gaps {
		calls[i] = rpc.BatchCall{
			Method: "getaddressbalance",
			Params: []any{rpc.AddressesArg{Addresses: []string{addr}}},
		}
	}
	results := c.chain.Batch(ctx, calls)
	for i, res := range results {
		if res.Err != nil {
			c.logger.Debug("balance batch entry failed", zap.String("address", gaps[i]), zap.Error(res.Err))
			continue
		}
		var live rpc.AddressBalance
		if uerr := json.Unmarshal(res.Result, &live); uerr != nil {
			continue
		}
		snap := snapshotFrom(gaps[i], &live)
		if perr := c.PutBalance(ctx, snap); perr != nil {
			c.logger.Warn("balance persist failed", zap.String("address", gaps[i]), zap.Error(perr))
		}
		out[gaps[i]] = snap
	}
	return out, nil
}

func snapshotFrom(address string, live *rpc.AddressBalance) *models.BalanceSnapshot {
	return &models.BalanceSnapshot{
		Address:  address,
		Balance:  live.Balance,
		Received: live.Received,
		Sent:     live.Received - live.Balance,
		CachedAt: time.Now().UTC(),
	}
}
