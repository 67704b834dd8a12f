package admission

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkondo/cryptoexec/internal/config"
	"github.com/mkondo/cryptoexec/internal/core/fees"
	"github.com/mkondo/cryptoexec/internal/events"
	"github.com/mkondo/cryptoexec/internal/telemetry"
)

// SubmitRequest is the caller's side of Submit.
type SubmitRequest struct {
	Instrument string
	Side       string
	Kind       fees.Kind
	Amount     float64
	Price      float64
	Priority   Priority
}

// Queue holds pending order requests, enforces global capacity and the
// per-instrument open-order ceiling, and orders requests for dispatch.
//
// Dispatch order is priority tier descending, most-recently-submitted
// first within a tier. Retries are requeued at the tail of their tier.
//
// Both the submit path and the worker mutate the per-instrument counters,
// so every counter lives under the same lock as the queue itself.
type Queue struct {
	mu  sync.Mutex
	lim config.AdmissionLimits

	pending []*Request
	byID    map[string]*Request
	byExch  map[string]string // exchange ID → request ID

	// pendingCount counts PENDING, open counts SUBMITTED. Admission
	// checks their sum against the instrument ceiling.
	pendingCount map[string]int
	open         map[string]int

	history map[string]*Request

	headSeq int64
	tailSeq int64

	stats Stats

	bus *events.Bus
	now func() time.Time
}

// Stats are the queue's lifetime counters.
type Stats struct {
	Queued    int64
	Submitted int64
	Filled    int64
	Rejected  int64
	Cancelled int64
	Expired   int64
	Retries   int64
}

// SuccessRate is successful dispatches over finished dispatch attempts.
func (s Stats) SuccessRate() float64 {
	done := s.Submitted + s.Rejected
	if done == 0 {
		return 0
	}
	return float64(s.Submitted) / float64(done)
}

func NewQueue(lim config.AdmissionLimits, bus *events.Bus) *Queue {
	return &Queue{
		lim:          lim,
		byID:         make(map[string]*Request),
		byExch:       make(map[string]string),
		pendingCount: make(map[string]int),
		open:         make(map[string]int),
		history:      make(map[string]*Request),
		bus:          bus,
		now:          time.Now,
	}
}

// Submit accepts or rejects a request synchronously. Rejection mutates
// nothing. On acceptance the request is queued and its ID returned; the
// worker dispatches it later.
func (q *Queue) Submit(sr SubmitRequest) (bool, string, string) {
	q.mu.Lock()

	if len(q.pending) >= q.lim.QueueCapacity {
		q.mu.Unlock()
		telemetry.Metrics.AdmissionDenied.Inc()
		return false, "queue at capacity", ""
	}
	if q.pendingCount[sr.Instrument]+q.open[sr.Instrument] >= q.lim.MaxOrdersPerInstrument {
		q.mu.Unlock()
		telemetry.Metrics.AdmissionDenied.Inc()
		return false, "instrument order limit reached", ""
	}

	q.headSeq++
	r := &Request{
		ID:          uuid.NewString(),
		Instrument:  sr.Instrument,
		Side:        sr.Side,
		Kind:        sr.Kind,
		Amount:      sr.Amount,
		Price:       sr.Price,
		Priority:    sr.Priority,
		SubmittedAt: q.now(),
		State:       StatePending,
		seq:         q.headSeq,
	}
	q.pending = append(q.pending, r)
	q.byID[r.ID] = r
	q.pendingCount[r.Instrument]++
	q.stats.Queued++

	telemetry.Metrics.OrdersQueued.Inc()
	telemetry.Metrics.QueueDepth.Set(int64(len(q.pending)))
	c := r.clone()
	q.mu.Unlock()

	q.publish(events.EventOrderQueued, c, "")
	return true, "accepted", c.ID
}

// pop removes and returns the next request to dispatch, or nil.
func (q *Queue) pop() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, r := range q.pending {
		if best == -1 {
			best = i
			continue
		}
		b := q.pending[best]
		if r.Priority > b.Priority || (r.Priority == b.Priority && r.seq > b.seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	r := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	r.inflight = true
	telemetry.Metrics.QueueDepth.Set(int64(len(q.pending)))
	return r
}

// unpop reinserts a popped request with its position intact, used when
// the instrument ceiling is saturated at dispatch time.
func (q *Queue) unpop(r *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r.inflight = false
	q.pending = append(q.pending, r)
	telemetry.Metrics.QueueDepth.Set(int64(len(q.pending)))
}

// openSaturated reports whether the instrument's exchange-side open
// orders are at the ceiling.
func (q *Queue) openSaturated(instrument string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.open[instrument] >= q.lim.MaxOrdersPerInstrument
}

// markSubmitted transitions a dispatched request to SUBMITTED.
func (q *Queue) markSubmitted(r *Request, exchangeID string) {
	q.mu.Lock()
	r.State = StateSubmitted
	r.inflight = false
	r.ExchangeID = exchangeID
	q.byExch[exchangeID] = r.ID
	q.pendingCount[r.Instrument]--
	q.open[r.Instrument]++
	q.stats.Submitted++
	telemetry.Metrics.OrdersSubmitted.Inc()
	telemetry.Metrics.OpenOrders.Set(q.totalOpenLocked())
	c := r.clone()
	q.mu.Unlock()

	q.publish(events.EventOrderSubmitted, c, "")
}

// failDispatch requeues the request at the tail of its tier while
// retries remain, otherwise rejects it terminally.
func (q *Queue) failDispatch(r *Request, cause string) {
	q.mu.Lock()
	r.inflight = false
	if r.RetryCount < q.lim.MaxRetries {
		r.RetryCount++
		r.Err = cause
		q.tailSeq--
		r.seq = q.tailSeq
		q.pending = append(q.pending, r)
		q.stats.Retries++
		telemetry.Metrics.OrderRetries.Inc()
		telemetry.Metrics.QueueDepth.Set(int64(len(q.pending)))
		q.mu.Unlock()
		return
	}

	r.State = StateRejected
	r.Err = cause
	q.pendingCount[r.Instrument]--
	q.moveToHistoryLocked(r)
	q.stats.Rejected++
	telemetry.Metrics.OrdersRejected.Inc()
	c := r.clone()
	q.mu.Unlock()

	q.publish(events.EventOrderRejected, c, cause)
}

// removeQueued cancels a still-queued request in place. Returns false
// when the ID is unknown or the request already left the queue.
func (q *Queue) removeQueued(id string) bool {
	q.mu.Lock()

	r, ok := q.byID[id]
	if !ok || r.State != StatePending || r.inflight {
		q.mu.Unlock()
		return false
	}
	for i, p := range q.pending {
		if p.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	r.State = StateCancelled
	q.pendingCount[r.Instrument]--
	q.moveToHistoryLocked(r)
	q.stats.Cancelled++
	telemetry.Metrics.OrdersCancelled.Inc()
	telemetry.Metrics.QueueDepth.Set(int64(len(q.pending)))
	c := r.clone()
	q.mu.Unlock()

	q.publish(events.EventOrderCancelled, c, "cancelled before dispatch")
	return true
}

// markCancelled finishes a SUBMITTED request after the exchange
// confirmed the cancel. Returns nil when the request is not cancellable.
func (q *Queue) markCancelled(id string) *Request {
	q.mu.Lock()
	r, ok := q.byID[id]
	if !ok || r.State != StateSubmitted {
		q.mu.Unlock()
		return nil
	}
	r.State = StateCancelled
	q.open[r.Instrument]--
	q.moveToHistoryLocked(r)
	q.stats.Cancelled++
	telemetry.Metrics.OrdersCancelled.Inc()
	telemetry.Metrics.OpenOrders.Set(q.totalOpenLocked())
	c := r.clone()
	q.mu.Unlock()

	q.publish(events.EventOrderCancelled, c, "cancelled at exchange")
	return c
}

// MarkFilled releases the instrument slot for an order the execution
// feed reports as filled. Unknown IDs are ignored: the feed also carries
// orders placed outside this process.
func (q *Queue) MarkFilled(exchangeID string) *Request {
	q.mu.Lock()

	id, ok := q.byExch[exchangeID]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	r := q.byID[id]
	if r == nil || r.State != StateSubmitted {
		q.mu.Unlock()
		return nil
	}
	r.State = StateFilled
	q.open[r.Instrument]--
	q.moveToHistoryLocked(r)
	q.stats.Filled++
	telemetry.Metrics.OrdersFilled.Inc()
	telemetry.Metrics.OpenOrders.Set(q.totalOpenLocked())
	c := r.clone()
	q.mu.Unlock()

	return c
}

// CancelledAtExchange handles an exchange-side cancel notice from the feed.
func (q *Queue) CancelledAtExchange(exchangeID string) *Request {
	q.mu.Lock()
	id, ok := q.byExch[exchangeID]
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return q.markCancelled(id)
}

// Get returns a copy of the request, queued or historical.
func (q *Queue) Get(id string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.byID[id]; ok {
		return r.clone()
	}
	if r, ok := q.history[id]; ok {
		return r.clone()
	}
	return nil
}

// Cleanup expires non-terminal requests older than the retention window
// and drops history older than the same window. Returns how many
// requests were expired.
func (q *Queue) Cleanup() int {
	q.mu.Lock()

	cutoff := q.now().Add(-q.lim.Retention())
	var expired []*Request

	kept := q.pending[:0]
	for _, r := range q.pending {
		if r.SubmittedAt.Before(cutoff) {
			r.State = StateExpired
			q.pendingCount[r.Instrument]--
			q.moveToHistoryLocked(r)
			q.stats.Expired++
			telemetry.Metrics.OrdersExpired.Inc()
			expired = append(expired, r.clone())
			continue
		}
		kept = append(kept, r)
	}
	q.pending = kept

	// SUBMITTED orders beyond retention are abandoned as expired too;
	// their exchange-side fate is no longer tracked.
	for _, r := range q.byID {
		if r.State == StateSubmitted && r.SubmittedAt.Before(cutoff) {
			r.State = StateExpired
			q.open[r.Instrument]--
			q.moveToHistoryLocked(r)
			q.stats.Expired++
			telemetry.Metrics.OrdersExpired.Inc()
			expired = append(expired, r.clone())
		}
	}

	for id, r := range q.history {
		if r.SubmittedAt.Before(cutoff) {
			delete(q.history, id)
		}
	}

	telemetry.Metrics.QueueDepth.Set(int64(len(q.pending)))
	telemetry.Metrics.OpenOrders.Set(q.totalOpenLocked())
	q.mu.Unlock()

	for _, r := range expired {
		q.publish(events.EventOrderExpired, r, "retention window exceeded")
	}
	return len(expired)
}

// InstrumentUtilization is one instrument's share of its ceiling.
type InstrumentUtilization struct {
	Pending int `json:"pending"`
	Open    int `json:"open"`
	Limit   int `json:"limit"`
}

// QueueSnapshot is a point-in-time view for the status surface.
type QueueSnapshot struct {
	Size        int                              `json:"size"`
	Capacity    int                              `json:"capacity"`
	Instruments map[string]InstrumentUtilization `json:"instruments"`
}

func (q *Queue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := QueueSnapshot{
		Size:        len(q.pending),
		Capacity:    q.lim.QueueCapacity,
		Instruments: make(map[string]InstrumentUtilization),
	}
	for inst, n := range q.pendingCount {
		u := snap.Instruments[inst]
		u.Pending = n
		u.Limit = q.lim.MaxOrdersPerInstrument
		snap.Instruments[inst] = u
	}
	for inst, n := range q.open {
		u := snap.Instruments[inst]
		u.Open = n
		u.Limit = q.lim.MaxOrdersPerInstrument
		snap.Instruments[inst] = u
	}
	return snap
}

func (q *Queue) Statistics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// moveToHistoryLocked transfers ownership of a terminal request.
func (q *Queue) moveToHistoryLocked(r *Request) {
	delete(q.byID, r.ID)
	if r.ExchangeID != "" {
		delete(q.byExch, r.ExchangeID)
	}
	q.history[r.ID] = r
}

func (q *Queue) totalOpenLocked() int64 {
	var n int64
	for _, c := range q.open {
		n += int64(c)
	}
	return n
}

// publish runs outside the queue lock, so r must be a clone taken while
// the lock was held, never the live request the worker still mutates.
func (q *Queue) publish(t events.EventType, r *Request, reason string) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(events.Event{
		ID:         r.ID,
		Type:       t,
		Instrument: r.Instrument,
		Timestamp:  q.now(),
		Payload: events.OrderNotice{
			RequestID:  r.ID,
			ExchangeID: r.ExchangeID,
			Instrument: r.Instrument,
			Side:       r.Side,
			State:      r.State.String(),
			Reason:     reason,
		},
	})
}
