// Package ratelimit implements the shared call budget for the chain
// daemon. The daemon is effectively single-threaded, so the budget is
// global across every RPC method rather than per-feature: three rolling
// windows (second, minute, hour) plus a token bucket that allows short
// bursts above the steady per-second rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config holds the four budget constraints. A grant must satisfy all of
// them at once.
type Config struct {
	PerSecond int
	PerMinute int
	PerHour   int
	// Burst is the token bucket capacity; the bucket refills one token
	// per RefillEvery.
	Burst       int
	RefillEvery time.Duration
}

// DefaultConfig returns the budget used against a local verusd.
func DefaultConfig() Config {
	return Config{
		PerSecond:   10,
		PerMinute:   300,
		PerHour:     6000,
		Burst:       20,
		RefillEvery: time.Second,
	}
}

// Limiter enforces Config over concurrent callers. Quota is consumed
// atomically with the grant decision; there is no check-then-consume
// window.
type Limiter struct {
	cfg Config

	mu     sync.Mutex
	grants []time.Time // grant timestamps, pruned past one hour
	tokens float64
	last   time.Time // last bucket refill

	now func() time.Time // test hook
}

func New(cfg Config) *Limiter {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = DefaultConfig().PerSecond
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultConfig().PerMinute
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = DefaultConfig().PerHour
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.RefillEvery <= 0 {
		cfg.RefillEvery = time.Second
	}
	l := &Limiter{
		cfg:    cfg,
		tokens: float64(cfg.Burst),
		now:    time.Now,
	}
	l.last = l.now()
	return l
}

// Acquire blocks until weight units of budget are granted or ctx is
// done. A weight below one is treated as one.
func (l *Limiter) Acquire(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := l.tryAcquire(weight)
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire grants atomically or reports how long the caller must wait
// before the longest violated constraint can be satisfied.
func (l *Limiter) tryAcquire(weight int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refill(now)
	l.prune(now)

	wait := time.Duration(0)
	if w := l.windowWait(now, time.Second, l.cfg.PerSecond, weight); w > wait {
		wait = w
	}
	if w := l.windowWait(now, time.Minute, l.cfg.PerMinute, weight); w > wait {
		wait = w
	}
	if w := l.windowWait(now, time.Hour, l.cfg.PerHour, weight); w > wait {
		wait = w
	}
	if l.tokens < float64(weight) {
		if w := time.Duration((float64(weight) - l.tokens) * float64(l.cfg.RefillEvery)); w > wait {
			wait = w
		}
	}
	if wait > 0 {
		// Re-check no earlier than the constraint can possibly clear.
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		return false, wait
	}

	l.tokens -= float64(weight)
	for i := 0; i < weight; i++ {
		l.grants = append(l.grants, now)
	}
	return true, 0
}

// windowWait returns how long until `weight` more grants fit inside the
// rolling window, or zero if they already do.
func (l *Limiter) windowWait(now time.Time, window time.Duration, limit, weight int) time.Duration {
	cutoff := now.Add(-window)
	// grants is append-only in time order; find the first entry inside
	// the window.
	first := len(l.grants)
	for i, t := range l.grants {
		if t.After(cutoff) {
			first = i
			break
		}
	}
	inWindow := len(l.grants) - first
	if inWindow+weight <= limit {
		return 0
	}
	// The (inWindow+weight-limit)-th oldest in-window grant must age out.
	idx := first + (inWindow + weight - limit) - 1
	if idx >= len(l.grants) {
		idx = len(l.grants) - 1
	}
	return l.grants[idx].Add(window).Sub(now)
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last)
	if elapsed <= 0 {
		return
	}
	l.tokens += float64(elapsed) / float64(l.cfg.RefillEvery)
	if max := float64(l.cfg.Burst); l.tokens > max {
		l.tokens = max
	}
	l.last = now
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}
