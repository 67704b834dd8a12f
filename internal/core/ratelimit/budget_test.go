package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBudget(cfg Config) (*Budget, *fakeClock) {
	b := NewBudget(cfg)
	clock := &fakeClock{t: time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC)}
	b.now = clock.now
	return b, clock
}

func TestAcquireWithinLimit(t *testing.T) {
	b, clock := newTestBudget(Config{ReadLimit: 10, WriteLimit: 6, Window: time.Second})

	for i := 0; i < 6; i++ {
		require.Zero(t, b.Acquire(ClassWrite), "write %d should be granted", i+1)
		clock.advance(10 * time.Millisecond)
	}
	assert.Equal(t, 0, b.Remaining(ClassWrite))
}

func TestSeventhWriteWithinWindowMustWait(t *testing.T) {
	b, clock := newTestBudget(Config{ReadLimit: 10, WriteLimit: 6, Window: time.Second})

	// 6 writes inside 200ms exhaust the window.
	for i := 0; i < 6; i++ {
		require.Zero(t, b.Acquire(ClassWrite))
		clock.advance(200 * time.Millisecond / 6)
	}

	wait := b.Acquire(ClassWrite)
	assert.Positive(t, wait)
	// The oldest write leaves the window one second after it happened.
	assert.LessOrEqual(t, wait, time.Second)

	// Nothing was consumed by the denied acquire.
	assert.Equal(t, 0, b.Remaining(ClassWrite))
}

func TestWindowPrunesOldCalls(t *testing.T) {
	b, clock := newTestBudget(Config{ReadLimit: 2, WriteLimit: 2, Window: time.Second})

	require.Zero(t, b.Acquire(ClassRead))
	require.Zero(t, b.Acquire(ClassRead))
	require.Positive(t, b.Acquire(ClassRead))

	clock.advance(1100 * time.Millisecond)

	assert.Equal(t, 2, b.Remaining(ClassRead))
	assert.Zero(t, b.Acquire(ClassRead))
}

func TestClassesAreIndependent(t *testing.T) {
	b, _ := newTestBudget(Config{ReadLimit: 1, WriteLimit: 1, Window: time.Second})

	require.Zero(t, b.Acquire(ClassRead))
	assert.Zero(t, b.Acquire(ClassWrite), "write budget must not be consumed by reads")
	assert.Positive(t, b.Acquire(ClassRead))
}

func TestDelayDoesNotConsume(t *testing.T) {
	b, _ := newTestBudget(Config{ReadLimit: 10, WriteLimit: 1, Window: time.Second})

	require.Zero(t, b.Delay(ClassWrite))
	require.Zero(t, b.Acquire(ClassWrite))
	assert.Positive(t, b.Delay(ClassWrite))
	assert.Positive(t, b.Delay(ClassWrite))
}

func TestWaitHonorsContext(t *testing.T) {
	b := NewBudget(Config{ReadLimit: 1, WriteLimit: 1, Window: time.Minute})
	require.Zero(t, b.Acquire(ClassWrite))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx, ClassWrite)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
