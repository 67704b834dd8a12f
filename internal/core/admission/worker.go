package admission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mkondo/cryptoexec/internal/adapters/exchange_http"
	"github.com/mkondo/cryptoexec/internal/core/fees"
	"github.com/mkondo/cryptoexec/internal/core/ratelimit"
	"github.com/mkondo/cryptoexec/internal/telemetry"
)

// Worker is the single background loop that drains the queue. One call
// is in flight at a time, so exchange writes are sequential by
// construction; the rate budget bounds how often they go out.
type Worker struct {
	queue  *Queue
	budget *ratelimit.Budget
	exch   Exchange

	// idleWait paces the loop when the queue is empty; saturatedWait
	// when the head's instrument has no free exchange-side slot.
	idleWait      time.Duration
	saturatedWait time.Duration

	running atomic.Bool
}

func NewWorker(queue *Queue, budget *ratelimit.Budget, exch Exchange) *Worker {
	return &Worker{
		queue:         queue,
		budget:        budget,
		exch:          exch,
		idleWait:      50 * time.Millisecond,
		saturatedWait: 250 * time.Millisecond,
	}
}

// Run drains the queue until ctx is cancelled. Safe to call once;
// subsequent calls return immediately.
func (w *Worker) Run(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}
	defer w.running.Store(false)

	cleanup := time.NewTicker(w.queue.lim.CleanupInterval())
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			if n := w.queue.Cleanup(); n > 0 {
				telemetry.Infof("admission: expired %d stale requests", n)
			}
		default:
		}

		w.step(ctx)
	}
}

// step dispatches at most one request.
func (w *Worker) step(ctx context.Context) {
	r := w.queue.pop()
	if r == nil {
		sleepCtx(ctx, w.idleWait)
		return
	}

	// A saturated instrument keeps its position: the request goes back
	// untouched and the loop pauses briefly.
	if w.queue.openSaturated(r.Instrument) {
		w.queue.unpop(r)
		sleepCtx(ctx, w.saturatedWait)
		return
	}

	if err := w.budget.Wait(ctx, ratelimit.ClassWrite); err != nil {
		w.queue.unpop(r)
		return
	}

	start := time.Now()
	resp, err := w.exch.CreateOrder(ctx, toExchangeRequest(r))
	telemetry.Metrics.DispatchLatency.Record(time.Since(start))

	if err != nil {
		telemetry.Warnf("admission: dispatch failed id=%s attempt=%d: %v", r.ID, r.RetryCount+1, err)
		w.queue.failDispatch(r, err.Error())
		return
	}

	w.queue.markSubmitted(r, resp.ID)
	telemetry.Infof("admission: submitted id=%s instrument=%s side=%s -> %s",
		r.ID, r.Instrument, r.Side, resp.ID)
}

// Cancel implements the cancel contract: queued requests are removed in
// place, submitted ones are cancelled at the exchange under the write
// budget. Cancels are not auto-retried.
func (w *Worker) Cancel(ctx context.Context, id string) (bool, string) {
	r := w.queue.Get(id)
	if r == nil {
		return false, "unknown order"
	}

	switch r.State {
	case StatePending:
		if w.queue.removeQueued(id) {
			return true, "cancelled before dispatch"
		}
		return false, "dispatch in progress, retry shortly"

	case StateSubmitted:
		if wait := w.budget.Acquire(ratelimit.ClassWrite); wait > 0 {
			return false, fmt.Sprintf("write budget exhausted, retry in %s", wait.Round(time.Millisecond))
		}
		start := time.Now()
		err := w.exch.CancelOrder(ctx, r.ExchangeID, r.Instrument)
		telemetry.Metrics.CancelLatency.Record(time.Since(start))
		if err != nil {
			return false, fmt.Sprintf("exchange cancel failed: %v", err)
		}
		w.queue.markCancelled(id)
		return true, "cancelled at exchange"

	default:
		return false, fmt.Sprintf("order already %s", r.State)
	}
}

func toExchangeRequest(r *Request) exchange_http.CreateOrderRequest {
	req := exchange_http.CreateOrderRequest{
		Instrument: r.Instrument,
		Side:       r.Side,
		Amount:     r.Amount,
	}
	if r.Kind == fees.KindTaker {
		req.Type = "MARKET"
	} else {
		req.Type = "LIMIT"
		req.Price = r.Price
	}
	return req
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
