package admission

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkondo/cryptoexec/internal/config"
	"github.com/mkondo/cryptoexec/internal/core/fees"
)

func testLimits() config.AdmissionLimits {
	return config.AdmissionLimits{
		MaxOrdersPerInstrument: 30,
		QueueCapacity:          200,
		MaxRetries:             3,
		CleanupIntervalMinutes: 5,
		RetentionHours:         24,
	}
}

func submitN(t *testing.T, q *Queue, instrument string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ok, msg, id := q.Submit(SubmitRequest{
			Instrument: instrument,
			Side:       "BUY",
			Kind:       fees.KindMaker,
			Amount:     0.01,
			Price:      5_000_000,
			Priority:   PriorityNormal,
		})
		require.True(t, ok, "submit %d: %s", i, msg)
		ids = append(ids, id)
	}
	return ids
}

func TestPerInstrumentCeiling(t *testing.T) {
	q := NewQueue(testLimits(), nil)

	submitN(t, q, "BTC_JPY", 30)

	ok, msg, id := q.Submit(SubmitRequest{Instrument: "BTC_JPY", Side: "BUY", Amount: 0.01})
	assert.False(t, ok)
	assert.Equal(t, "instrument order limit reached", msg)
	assert.Empty(t, id)

	// Other instruments are unaffected.
	ok, _, _ = q.Submit(SubmitRequest{Instrument: "ETH_JPY", Side: "BUY", Amount: 0.1})
	assert.True(t, ok)
}

func TestSubmittedOrdersCountAgainstCeiling(t *testing.T) {
	q := NewQueue(testLimits(), nil)
	submitN(t, q, "BTC_JPY", 30)

	// Dispatching half of them must not free any admission slots:
	// SUBMITTED still holds an exchange-side position.
	for i := 0; i < 15; i++ {
		r := q.pop()
		require.NotNil(t, r)
		q.markSubmitted(r, fmt.Sprintf("EX-%d", i))
	}

	ok, msg, _ := q.Submit(SubmitRequest{Instrument: "BTC_JPY", Side: "BUY", Amount: 0.01})
	assert.False(t, ok)
	assert.Equal(t, "instrument order limit reached", msg)

	// A fill releases exactly one slot.
	require.NotNil(t, q.MarkFilled("EX-0"))
	ok, _, _ = q.Submit(SubmitRequest{Instrument: "BTC_JPY", Side: "BUY", Amount: 0.01})
	assert.True(t, ok)
}

func TestQueueCapacityRejectsWithoutMutation(t *testing.T) {
	lim := testLimits()
	lim.QueueCapacity = 3
	lim.MaxOrdersPerInstrument = 100
	q := NewQueue(lim, nil)

	submitN(t, q, "BTC_JPY", 3)
	before := q.Statistics()

	ok, msg, _ := q.Submit(SubmitRequest{Instrument: "BTC_JPY", Side: "SELL", Amount: 0.01})
	assert.False(t, ok)
	assert.Equal(t, "queue at capacity", msg)

	after := q.Statistics()
	assert.Equal(t, before.Queued, after.Queued)
	assert.Equal(t, 3, q.Snapshot().Size)
}

func TestDispatchOrderPriorityThenNewestFirst(t *testing.T) {
	q := NewQueue(testLimits(), nil)

	submit := func(inst string, p Priority) string {
		ok, _, id := q.Submit(SubmitRequest{Instrument: inst, Side: "BUY", Amount: 1, Priority: p})
		require.True(t, ok)
		return id
	}

	lowOld := submit("A", PriorityLow)
	normOld := submit("B", PriorityNormal)
	normNew := submit("C", PriorityNormal)
	urgent := submit("D", PriorityUrgent)

	var got []string
	for {
		r := q.pop()
		if r == nil {
			break
		}
		got = append(got, r.ID)
		q.markSubmitted(r, "EX-"+r.ID)
	}

	// Highest tier first, then most recent within a tier.
	assert.Equal(t, []string{urgent, normNew, normOld, lowOld}, got)
}

func TestRetryRequeuesAtTailThenRejects(t *testing.T) {
	lim := testLimits()
	lim.MaxRetries = 2
	q := NewQueue(lim, nil)

	ids := submitN(t, q, "BTC_JPY", 2)
	first, second := ids[0], ids[1]

	// Newest first: second pops, fails, and requeues below first.
	r := q.pop()
	require.Equal(t, second, r.ID)
	q.failDispatch(r, "timeout")

	r = q.pop()
	assert.Equal(t, first, r.ID, "retried request must requeue at the tail")
	q.unpop(r)
	require.True(t, q.removeQueued(first))

	// Exhaust the retries on the failing request.
	for i := 0; i < 2; i++ {
		r = q.pop()
		require.Equal(t, second, r.ID)
		q.failDispatch(r, "timeout")
	}

	got := q.Get(second)
	require.NotNil(t, got)
	assert.Equal(t, StateRejected, got.State)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "timeout", got.Err)
	assert.Equal(t, int64(1), q.Statistics().Rejected)
}

func TestCancelQueuedRequest(t *testing.T) {
	q := NewQueue(testLimits(), nil)
	ids := submitN(t, q, "BTC_JPY", 1)

	assert.True(t, q.removeQueued(ids[0]))
	assert.False(t, q.removeQueued(ids[0]), "second cancel must fail")

	got := q.Get(ids[0])
	require.NotNil(t, got)
	assert.Equal(t, StateCancelled, got.State)

	// The slot is free again.
	submitN(t, q, "BTC_JPY", 30)
}

func TestCancelRefusedWhileDispatchInFlight(t *testing.T) {
	q := NewQueue(testLimits(), nil)
	ids := submitN(t, q, "BTC_JPY", 1)

	r := q.pop()
	require.Equal(t, ids[0], r.ID)

	assert.False(t, q.removeQueued(ids[0]))

	q.unpop(r)
	assert.True(t, q.removeQueued(ids[0]))
}

func TestMarkFilledIgnoresUnknownExchangeID(t *testing.T) {
	q := NewQueue(testLimits(), nil)
	assert.Nil(t, q.MarkFilled("NOT-OURS-1"))
}

func TestCancelledAtExchange(t *testing.T) {
	q := NewQueue(testLimits(), nil)
	ids := submitN(t, q, "BTC_JPY", 1)

	r := q.pop()
	q.markSubmitted(r, "EX-77")

	got := q.CancelledAtExchange("EX-77")
	require.NotNil(t, got)
	assert.Equal(t, StateCancelled, got.State)

	status := q.Get(ids[0])
	require.NotNil(t, status)
	assert.Equal(t, StateCancelled, status.State)
}

func TestCleanupExpiresStaleRequests(t *testing.T) {
	q := NewQueue(testLimits(), nil)

	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	staleIDs := submitN(t, q, "BTC_JPY", 2)
	r := q.pop()
	q.markSubmitted(r, "EX-1")

	clock = clock.Add(25 * time.Hour)
	freshIDs := submitN(t, q, "BTC_JPY", 1)

	expired := q.Cleanup()
	assert.Equal(t, 2, expired)

	for _, id := range staleIDs {
		got := q.Get(id)
		require.NotNil(t, got)
		assert.Equal(t, StateExpired, got.State)
	}
	fresh := q.Get(freshIDs[0])
	require.NotNil(t, fresh)
	assert.Equal(t, StatePending, fresh.State)

	// A second sweep past the retention window drops the history too.
	clock = clock.Add(25 * time.Hour)
	q.Cleanup()
	assert.Nil(t, q.Get(staleIDs[0]))
}

func TestStatsSuccessRate(t *testing.T) {
	assert.Zero(t, Stats{}.SuccessRate())
	assert.InDelta(t, 0.75, Stats{Submitted: 3, Rejected: 1}.SuccessRate(), 1e-9)
}
