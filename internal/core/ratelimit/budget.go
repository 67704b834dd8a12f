package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mkondo/cryptoexec/internal/telemetry"
)

// Class separates the exchange's read and write call budgets.
type Class int

const (
	ClassRead Class = iota
	ClassWrite
)

func (c Class) String() string {
	if c == ClassWrite {
		return "write"
	}
	return "read"
}

// Config sizes the sliding windows. Defaults match the exchange's
// published private-API limits.
type Config struct {
	ReadLimit  int
	WriteLimit int
	Window     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:  10,
		WriteLimit: 6,
		Window:     time.Second,
	}
}

// Budget tracks API calls per class within a trailing window and answers
// whether a call may go out now, and if not, how long until it may.
//
// Invariant: after pruning, a window never holds more than its limit of
// timestamps at the moment a call is granted.
type Budget struct {
	mu    sync.Mutex
	cfg   Config
	calls map[Class][]time.Time
	now   func() time.Time
}

func NewBudget(cfg Config) *Budget {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &Budget{
		cfg:   cfg,
		calls: make(map[Class][]time.Time),
		now:   time.Now,
	}
}

func (b *Budget) limit(c Class) int {
	if c == ClassWrite {
		return b.cfg.WriteLimit
	}
	return b.cfg.ReadLimit
}

// prune drops timestamps older than the window. Caller holds b.mu.
func (b *Budget) prune(c Class, now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	window := b.calls[c]
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.calls[c] = append(window[:0:0], window[i:]...)
	}
}

// Acquire records a call of class c if the window has room and returns 0.
// Otherwise nothing is recorded and it returns the wait until the oldest
// in-window call expires.
func (b *Budget) Acquire(c Class) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(c, now)

	window := b.calls[c]
	if len(window) < b.limit(c) {
		b.calls[c] = append(window, now)
		return 0
	}

	wait := window[0].Add(b.cfg.Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Delay reports how long until a call of class c would be granted, without
// consuming budget. Zero means a call may go out now.
func (b *Budget) Delay(c Class) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(c, now)

	window := b.calls[c]
	if len(window) < b.limit(c) {
		return 0
	}
	wait := window[0].Add(b.cfg.Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Wait blocks until a call of class c is granted and recorded, or until
// ctx is cancelled. Only the execution worker should block here; callers
// on the submit path use Acquire/Delay and stay non-blocking.
func (b *Budget) Wait(ctx context.Context, c Class) error {
	start := b.now()
	for {
		wait := b.Acquire(c)
		if wait == 0 {
			if waited := b.now().Sub(start); waited > 0 {
				telemetry.Metrics.RateBudgetWait.Record(waited)
			}
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

// Remaining reports how many calls of class c are still available in the
// current window.
func (b *Budget) Remaining(c Class) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(c, b.now())
	left := b.limit(c) - len(b.calls[c])
	if left < 0 {
		left = 0
	}
	return left
}
