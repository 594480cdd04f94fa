// Package mempool timestamps when transactions are first observed in
// the daemon's mempool, for propagation-latency analytics. Purely
// advisory: the map is bounded with LRU eviction and losing entries is
// tolerable.
package mempool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/redis"
)

// MempoolRPC captures the single gateway call the tracker uses.
type MempoolRPC interface {
	GetRawMempool(ctx context.Context) ([]string, error)
}

// EventSink publishes advisory events; nil disables publishing.
type EventSink interface {
	Publish(ctx context.Context, channel string, message any)
}

const DefaultCapacity = 10000

type entry struct {
	txid string
	at   time.Time
}

// Tracker records txid -> first-observed wall-clock time.
type Tracker struct {
	logger *zap.Logger
	chain  MempoolRPC
	events EventSink
	cap    int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently touched
}

func New(logger *zap.Logger, chain MempoolRPC, events EventSink, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		logger:  logger,
		chain:   chain,
		events:  events,
		cap:     capacity,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Poll fetches the current mempool and timestamps transactions not seen
// before. Gateway failures surface as an empty list and simply mean no
// new observations this tick.
func (t *Tracker) Poll(ctx context.Context) {
	txids, err := t.chain.GetRawMempool(ctx)
	if err != nil {
		t.logger.Debug("mempool poll degraded", zap.Error(err))
	}

	now := time.Now().UTC()
	fresh := 0
	for _, txid := range txids {
		if t.observe(txid, now) {
			fresh++
			if t.events != nil {
				t.events.Publish(ctx, redis.ChannelMempoolSeen, map[string]any{
					"txid":    txid,
					"seenAt":  now.Format(time.RFC3339Nano),
					"poolLen": len(txids),
				})
			}
		}
	}
	if fresh > 0 {
		t.logger.Debug("mempool poll", zap.Int("pool", len(txids)), zap.Int("new", fresh))
	}
}

// observe records the first sighting; reports whether txid was new.
func (t *Tracker) observe(txid string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.entries[txid]; ok {
		t.order.MoveToFront(el)
		return false
	}
	t.entries[txid] = t.order.PushFront(&entry{txid: txid, at: now})
	for len(t.entries) > t.cap {
		oldest := t.order.Back()
		if oldest == nil {
			break
		}
		t.order.Remove(oldest)
		delete(t.entries, oldest.Value.(*entry).txid)
	}
	return true
}

// FirstSeen returns when the transaction was first observed, if it is
// still tracked.
func (t *Tracker) FirstSeen(txid string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.entries[txid]
	if !ok {
		return time.Time{}, false
	}
	t.order.MoveToFront(el)
	return el.Value.(*entry).at, true
}

// Len returns the number of tracked transactions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
