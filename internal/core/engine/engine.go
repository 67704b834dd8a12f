package engine

import (
	"context"
	"math"
	"time"

	"github.com/mkondo/cryptoexec/internal/config"
	"github.com/mkondo/cryptoexec/internal/core/admission"
	"github.com/mkondo/cryptoexec/internal/core/fees"
	"github.com/mkondo/cryptoexec/internal/core/ratelimit"
	"github.com/mkondo/cryptoexec/internal/core/risk"
	"github.com/mkondo/cryptoexec/internal/events"
	"github.com/mkondo/cryptoexec/internal/history"
	"github.com/mkondo/cryptoexec/internal/telemetry"
)

// Engine is the control plane: quote, risk gate, admission, dispatch.
// The queue itself stays a pure capacity mechanism; every risk decision
// happens here, before Submit. Raw queue access via Submit skips the
// risk gate but never the capacity limits.
type Engine struct {
	limits    config.Limits
	bus       *events.Bus
	budget    *ratelimit.Budget
	optimizer *fees.Optimizer
	guard     *risk.Guard
	queue     *admission.Queue
	worker    *admission.Worker
	store     *history.Store
}

// New wires the full control plane. store may be nil to disable the
// archive.
func New(limits config.Limits, exch admission.Exchange, bus *events.Bus, store *history.Store) *Engine {
	budget := ratelimit.NewBudget(ratelimit.Config{
		ReadLimit:  limits.Rate.ReadLimit,
		WriteLimit: limits.Rate.WriteLimit,
		Window:     limits.Rate.Window(),
	})
	queue := admission.NewQueue(limits.Admission, bus)

	e := &Engine{
		limits:    limits,
		bus:       bus,
		budget:    budget,
		optimizer: fees.NewOptimizer(limits.Fees),
		guard:     risk.NewGuard(limits.Risk, limits.Fees, bus),
		queue:     queue,
		worker:    admission.NewWorker(queue, budget, exch),
		store:     store,
	}

	bus.Subscribe(events.EventOrderFilled, e.onFill)
	bus.Subscribe(events.EventOrderCancelled, e.onCancelNotice)
	bus.Subscribe(events.EventOrderRejected, e.onTerminal)
	bus.Subscribe(events.EventOrderExpired, e.onTerminal)

	// A restart must not zero the breaker's basis: reload the day's net
	// fees from the archive into the daily ledger.
	if store != nil {
		if net, err := store.NetFees(startOfDay(time.Now())); err != nil {
			telemetry.Warnf("engine: fee history unavailable, daily ledger starts empty: %v", err)
		} else if net != 0 {
			e.guard.SeedDaily(net)
			telemetry.Infof("engine: daily fee ledger seeded from history, net=%.2f", net)
		}
	}

	return e
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Run starts the execution worker and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.worker.Run(ctx)
}

// TradeRequest is the caller's intent, before fee optimization.
type TradeRequest struct {
	Instrument     string
	Side           string
	Amount         float64
	Price          float64
	TargetPrice    float64
	ExpectedProfit float64
	Urgency        float64
	Volatility     float64
	Priority       admission.Priority
}

// TradeResult reports what the control plane decided.
type TradeResult struct {
	Accepted   bool
	Message    string
	RequestID  string
	Quote      fees.Quote
	Assessment risk.Assessment
}

// Trade runs the full pipeline for one prospective trade: fee quote,
// hard block check, risk assessment, then admission. A MODIFY verdict
// retries the gate with a maker order before giving up.
func (e *Engine) Trade(req TradeRequest) TradeResult {
	quote := e.optimizer.Quote(fees.QuoteRequest{
		Instrument:  req.Instrument,
		Side:        req.Side,
		Amount:      req.Amount,
		Price:       req.Price,
		TargetPrice: req.TargetPrice,
		Urgency:     req.Urgency,
		Volatility:  req.Volatility,
	})

	res := e.gate(req, quote)
	if !res.Accepted && res.Assessment.Action == risk.ActionModify && quote.Recommended == fees.KindTaker {
		makerQuote := e.optimizer.Quote(fees.QuoteRequest{
			Instrument: req.Instrument,
			Side:       req.Side,
			Amount:     req.Amount,
			Price:      req.Price,
			Urgency:    req.Urgency,
			Volatility: req.Volatility,
			Kind:       fees.KindMaker,
		})
		telemetry.Infof("engine: retrying %s as maker after MODIFY verdict", req.Instrument)
		modified := e.gate(req, makerQuote)
		modified.Assessment = res.Assessment
		return modified
	}
	return res
}

// gate applies the risk checks to one quote and, when clean, submits.
func (e *Engine) gate(req TradeRequest, quote fees.Quote) TradeResult {
	res := TradeResult{Quote: quote}

	feeMagnitude := math.Abs(quote.ExpectedFee)
	if blocked, reason := e.guard.ShouldBlock(req.Instrument, req.ExpectedProfit, feeMagnitude, quote.Recommended); blocked {
		res.Message = reason
		return res
	}

	res.Assessment = e.guard.Evaluate(risk.EvaluateRequest{
		Instrument:     req.Instrument,
		Side:           req.Side,
		Amount:         req.Amount,
		Price:          req.Price,
		ExpectedProfit: req.ExpectedProfit,
		Kind:           quote.Recommended,
		Urgency:        req.Urgency,
	})

	switch res.Assessment.Action {
	case risk.ActionReject:
		res.Message = "risk rejected"
		return res
	case risk.ActionModify:
		res.Message = "risk requires modification"
		return res
	case risk.ActionDelay:
		res.Message = "risk requires delay"
		return res
	}

	price := req.Price
	if req.TargetPrice > 0 && quote.Recommended == fees.KindMaker {
		price = req.TargetPrice
	}

	ok, msg, id := e.queue.Submit(admission.SubmitRequest{
		Instrument: req.Instrument,
		Side:       req.Side,
		Kind:       quote.Recommended,
		Amount:     req.Amount,
		Price:      price,
		Priority:   req.Priority,
	})
	res.Accepted = ok
	res.Message = msg
	res.RequestID = id
	return res
}

// Submit bypasses fee optimization and risk evaluation and goes straight
// to admission. The emergency stop deliberately does not gate this path;
// capacity limits still apply.
func (e *Engine) Submit(sr admission.SubmitRequest) (bool, string, string) {
	return e.queue.Submit(sr)
}

// Quote exposes the fee optimizer.
func (e *Engine) Quote(req fees.QuoteRequest) fees.Quote {
	return e.optimizer.Quote(req)
}

// Evaluate exposes the risk guard.
func (e *Engine) Evaluate(req risk.EvaluateRequest) risk.Assessment {
	return e.guard.Evaluate(req)
}

// ShouldBlock exposes the hard risk gate.
func (e *Engine) ShouldBlock(instrument string, expectedProfit, feeAmount float64, kind fees.Kind) (bool, string) {
	return e.guard.ShouldBlock(instrument, expectedProfit, feeAmount, kind)
}

// Cancel cancels a queued or submitted order.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, string) {
	return e.worker.Cancel(ctx, id)
}

// Status returns the current view of a request, or nil.
func (e *Engine) Status(id string) *admission.Request {
	return e.queue.Get(id)
}

// ResetEmergencyStop closes the breaker if cumulative impact has cooled.
func (e *Engine) ResetEmergencyStop() bool {
	return e.guard.ResetEmergencyStop()
}

// Snapshot is the operational status surface.
type Snapshot struct {
	Queue          admission.QueueSnapshot `json:"queue"`
	ReadRemaining  int                     `json:"read_remaining"`
	WriteRemaining int                     `json:"write_remaining"`
	Risk           risk.Snapshot           `json:"risk"`
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Queue:          e.queue.Snapshot(),
		ReadRemaining:  e.budget.Remaining(ratelimit.ClassRead),
		WriteRemaining: e.budget.Remaining(ratelimit.ClassWrite),
		Risk:           e.guard.Snapshot(),
	}
}

// Statistics combines queue counters with the fee ledger.
type Statistics struct {
	Orders      admission.Stats `json:"orders"`
	SuccessRate float64         `json:"success_rate"`
	Risk        risk.Snapshot   `json:"risk"`
}

func (e *Engine) Statistics() Statistics {
	stats := e.queue.Statistics()
	return Statistics{
		Orders:      stats,
		SuccessRate: stats.SuccessRate(),
		Risk:        e.guard.Snapshot(),
	}
}

func (e *Engine) onFill(ev events.Event) error {
	fill, ok := ev.Payload.(events.Fill)
	if !ok {
		return nil
	}

	r := e.queue.MarkFilled(fill.ExchangeID)
	if r == nil {
		// not ours: the feed carries every order on the account
		return nil
	}

	e.guard.Record(fill.Instrument, r.Kind, fill.Fee)
	telemetry.Infof("engine: filled id=%s instrument=%s amount=%v fee=%v",
		r.ID, fill.Instrument, fill.Amount, fill.Fee)

	if e.store != nil {
		return e.store.InsertTerminal(r, fill.Fee)
	}
	return nil
}

// onCancelNotice handles exchange-side cancels from the execution feed.
// Queue-originated cancel events carry a RequestID and are archived by
// onTerminal semantics below.
func (e *Engine) onCancelNotice(ev events.Event) error {
	notice, ok := ev.Payload.(events.OrderNotice)
	if !ok {
		return nil
	}

	if notice.RequestID == "" && notice.ExchangeID != "" {
		e.queue.CancelledAtExchange(notice.ExchangeID)
		return nil
	}
	return e.archive(notice.RequestID)
}

func (e *Engine) onTerminal(ev events.Event) error {
	notice, ok := ev.Payload.(events.OrderNotice)
	if !ok {
		return nil
	}
	return e.archive(notice.RequestID)
}

func (e *Engine) archive(requestID string) error {
	if e.store == nil || requestID == "" {
		return nil
	}
	r := e.queue.Get(requestID)
	if r == nil || !r.State.Terminal() {
		return nil
	}
	return e.store.InsertTerminal(r, 0)
}
