// Package indexer resolves identities and walks per-address transaction
// history in the background, turning raw daemon data into persisted
// monetary events and daily rollups. Indexing is always asynchronous
// relative to the read path that triggers it.
package indexer

import (
	"context"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/db"
	"github.com/verus-network/vrscx/pkg/db/models"
	"github.com/verus-network/vrscx/pkg/redis"
	"github.com/verus-network/vrscx/pkg/rpc"
)

// ChainRPC captures the gateway calls the indexer uses.
type ChainRPC interface {
	GetIdentity(ctx context.Context, name string) (*rpc.IdentityResult, error)
	GetAddressTxIDs(ctx context.Context, addresses []string) ([]string, error)
	GetAddressDeltas(ctx context.Context, addresses []string) ([]rpc.AddressDelta, error)
	GetRawTransaction(ctx context.Context, txid string) (*rpc.RawTransaction, error)
	GetBlock(ctx context.Context, hash string) (*rpc.Block, error)
}

// EventSink publishes advisory events; nil disables publishing.
type EventSink interface {
	Publish(ctx context.Context, channel string, message any)
}

// Opts configures the background worker pool.
type Opts struct {
	Workers      int
	QueueSize    int
	RunTimeout   time.Duration
	RewardPolicy RewardPolicy
}

// Service is the address activity indexer.
type Service struct {
	logger *zap.Logger
	chain  ChainRPC
	store  db.Store
	events EventSink

	pool         pond.Pool
	inflight     *xsync.Map[string, struct{}]
	queueCap     int
	runTimeout   time.Duration
	rewardPolicy RewardPolicy
}

// New builds the service with a bounded worker pool. Duplicate indexing
// requests for an address already queued or running are coalesced.
func New(logger *zap.Logger, chain ChainRPC, store db.Store, events EventSink, opts Opts) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.RunTimeout <= 0 {
		// A full history walk on a busy address can take minutes.
		opts.RunTimeout = 30 * time.Minute
	}
	if opts.RewardPolicy == nil {
		opts.RewardPolicy = SmallestOutputReward
	}
	return &Service{
		logger:       logger,
		chain:        chain,
		store:        store,
		events:       events,
		pool:         pond.NewPool(opts.Workers, pond.WithQueueSize(opts.QueueSize)),
		inflight:     xsync.NewMap[string, struct{}](),
		queueCap:     opts.QueueSize,
		runTimeout:   opts.RunTimeout,
		rewardPolicy: opts.RewardPolicy,
	}
}

// Close drains the pool; pending runs finish, new submissions stop.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

// NormalizeName converts a human-entered identity name to the daemon's
// canonical form.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	if !strings.HasSuffix(name, "@") {
		name += "@"
	}
	return name
}

// Resolve normalizes a human-entered name, looks it up, and best-effort
// recovers the identity's creation height (0 when unavailable).
func (s *Service) Resolve(ctx context.Context, name string) (*models.Identity, error) {
	canonical := NormalizeName(name)
	res, err := s.chain.GetIdentity(ctx, canonical)
	if err != nil && res == nil {
		return nil, err
	}

	addresses := make([]string, 0, len(res.Identity.PrimaryAddresses)+1)
	addresses = append(addresses, res.Identity.PrimaryAddresses...)
	if res.Identity.IdentityAddress != "" && !contains(addresses, res.Identity.IdentityAddress) {
		addresses = append(addresses, res.Identity.IdentityAddress)
	}

	friendly := res.Identity.FriendlyName
	if friendly == "" {
		friendly = strings.TrimSuffix(canonical, "@")
	}

	return &models.Identity{
		Address:       res.Identity.IdentityAddress,
		BaseName:      canonical,
		FriendlyName:  friendly,
		Addresses:     addresses,
		CreatedHeight: s.creationHeight(ctx, res),
		RefreshedAt:   time.Now().UTC(),
	}, nil
}

// creationHeight recovers the block height the identity appeared at,
// via the oldest delta when the daemon does not report it. Known
// best-effort gap: 0 when that lookup fails too.
func (s *Service) creationHeight(ctx context.Context, res *rpc.IdentityResult) int64 {
	if res.BlockHeight > 0 {
		return res.BlockHeight
	}
	if res.Identity.IdentityAddress == "" {
		return 0
	}
	deltas, err := s.chain.GetAddressDeltas(ctx, []string{res.Identity.IdentityAddress})
	if err != nil || len(deltas) == 0 {
		return 0
	}
	return deltas[0].Height
}

// Enqueue schedules a background indexing run for the address and
// returns immediately. Returns false when the request was coalesced
// with one already in flight or rejected by backpressure.
func (s *Service) Enqueue(address string) bool {
	if address == "" {
		return false
	}
	if _, loaded := s.inflight.LoadOrStore(address, struct{}{}); loaded {
		s.logger.Debug("indexing already in flight, coalescing", zap.String("address", address))
		return false
	}
	if s.inflight.Size() > s.queueCap {
		s.inflight.Delete(address)
		s.logger.Warn("indexing queue saturated, rejecting", zap.String("address", address))
		return false
	}

	s.pool.Submit(func() {
		defer s.inflight.Delete(address)

		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()

		if err := s.IndexAddress(ctx, address); err != nil {
			s.logger.Warn("indexing run failed", zap.String("address", address), zap.Error(err))
		}
	})
	return true
}

// IndexAddress walks the address's entire transaction history and
// persists its monetary events, then rebuilds the daily rollups from
// scratch. Safe to run any number of times, including concurrently for
// the same address: the store's keyed upsert makes the final state
// order-independent.
func (s *Service) IndexAddress(ctx context.Context, address string) error {
	started := time.Now()

	txids, err := s.chain.GetAddressTxIDs(ctx, []string{address})
	if err != nil && len(txids) == 0 {
		return err
	}

	records := make([]*models.ActivityRecord, 0, len(txids))
	skipped := 0
	for _, txid := range txids {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, perr := s.processTransaction(ctx, address, txid)
		if perr != nil {
			// Partial history is more useful than none: log and move on.
			s.logger.Warn("skipping transaction",
				zap.String("address", address),
				zap.String("txid", txid),
				zap.Error(perr))
			skipped++
			continue
		}
		records = append(records, recs...)

		if len(records) >= 500 {
			if ierr := s.store.InsertActivity(ctx, records); ierr != nil {
				return ierr
			}
			records = records[:0]
		}
	}
	if ierr := s.store.InsertActivity(ctx, records); ierr != nil {
		return ierr
	}

	if rerr := s.store.RebuildRollups(ctx, address); rerr != nil {
		return rerr
	}

	s.logger.Info("indexed address",
		zap.String("address", address),
		zap.Int("transactions", len(txids)),
		zap.Int("skipped", skipped),
		zap.Duration("took", time.Since(started)))

	if s.events != nil {
		s.events.Publish(ctx, redis.ChannelIndexComplete, map[string]any{
			"address":      address,
			"transactions": len(txids),
			"skipped":      skipped,
			"tookMs":       time.Since(started).Milliseconds(),
		})
	}
	return nil
}

// processTransaction classifies one transaction's outputs for the
// target address.
func (s *Service) processTransaction(ctx context.Context, address, txid string) ([]*models.ActivityRecord, error) {
	tx, err := s.chain.GetRawTransaction(ctx, txid)
	if err != nil || tx == nil {
		if err == nil {
			return nil, nil
		}
		return nil, err
	}

	outs := tx.OutputsPaying(address)
	if len(outs) == 0 {
		return nil, nil
	}

	var block *rpc.Block
	if tx.BlockHash != "" {
		// Block fetch failures degrade to the tx's own metadata rather
		// than dropping the events.
		if b, berr := s.chain.GetBlock(ctx, tx.BlockHash); berr == nil {
			block = b
		} else {
			s.logger.Debug("block fetch failed, using tx metadata",
				zap.String("txid", txid), zap.Error(berr))
		}
	}

	height := tx.Height
	blockTime := tx.BlockTime
	if blockTime == 0 {
		blockTime = tx.Time
	}
	if block != nil {
		if block.Height > 0 {
			height = block.Height
		}
		if block.Time > 0 {
			blockTime = block.Time
		}
	}

	isReward := tx.IsCoinbase() || block.IsStakeReward(tx.TxID)

	var records []*models.ActivityRecord
	if isReward {
		if out, ok := s.rewardPolicy(outs); ok {
			records = append(records, s.record(address, tx, out, height, blockTime, models.ClassifierReward))
		}
	} else {
		for _, out := range outs {
			records = append(records, s.record(address, tx, out, height, blockTime, models.ClassifierRegular))
		}
	}
	return records, nil
}

func (s *Service) record(address string, tx *rpc.RawTransaction, out rpc.Vout, height, blockTime int64, classifier string) *models.ActivityRecord {
	return &models.ActivityRecord{
		TxID:       tx.TxID,
		Vout:       int32(out.N),
		Address:    address,
		Height:     height,
		BlockHash:  tx.BlockHash,
		BlockTime:  time.Unix(blockTime, 0).UTC(),
		Amount:     NormalizeAmount(out.Value),
		Classifier: classifier,
	}
}

// Rollups reads the address's daily aggregates.
func (s *Service) Rollups(ctx context.Context, address string) ([]*models.DailyRollup, error) {
	return s.store.Rollups(ctx, address)
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
