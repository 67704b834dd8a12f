package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/mkondo/cryptoexec/internal/config"
	"github.com/mkondo/cryptoexec/internal/core/fees"
	"github.com/mkondo/cryptoexec/internal/events"
	"github.com/mkondo/cryptoexec/internal/telemetry"
)

type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelCritical:
		return "CRITICAL"
	case LevelHigh:
		return "HIGH"
	case LevelMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

type Action int

const (
	ActionApprove Action = iota
	ActionDelay
	ActionModify
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionReject:
		return "REJECT"
	case ActionModify:
		return "MODIFY"
	case ActionDelay:
		return "DELAY"
	default:
		return "APPROVE"
	}
}

// EvaluateRequest describes the prospective trade under review.
type EvaluateRequest struct {
	Instrument     string
	Side           string
	Amount         float64
	Price          float64
	ExpectedProfit float64
	Kind           fees.Kind
	Urgency        float64
}

// Assessment is the guard's verdict on a prospective trade.
type Assessment struct {
	Level            Level
	Score            float64
	CumulativeImpact float64
	SessionImpact    float64
	Action           Action
	Reasons          []string
	Suggestions      []string
}

// Score weights for the independent checks. They sum past 1.0 on purpose:
// any two serious findings push the total into MODIFY/REJECT territory.
const (
	weightThinMargin    = 0.3
	weightFeeOverProfit = 0.4
	weightWarningImpact = 0.2
	weightHighFrequency = 0.1
	weightSessionCeil   = 0.3
)

// Guard gates every prospective trade against cumulative fee risk and
// owns the emergency-stop circuit breaker.
//
// The ledger and the stop flag live under one lock so a trade can never
// slip through between a trip and its visibility to other callers.
type Guard struct {
	mu     sync.Mutex
	cfg    config.RiskLimits
	sched  config.FeeSchedule
	ledger Ledger
	recent []time.Time
	bus    *events.Bus
	now    func() time.Time
}

// NewGuard creates a guard with an empty ledger. bus may be nil; alerts
// are then log-only.
func NewGuard(cfg config.RiskLimits, sched config.FeeSchedule, bus *events.Bus) *Guard {
	return &Guard{
		cfg:   cfg,
		sched: sched,
		bus:   bus,
		now:   time.Now,
	}
}

// Evaluate scores the fee/profit risk of a prospective trade.
func (g *Guard) Evaluate(req EvaluateRequest) Assessment {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ledger.Stop.Active {
		g.ledger.Rejections++
		return Assessment{
			Level:            LevelCritical,
			Score:            1.0,
			CumulativeImpact: g.ledger.CumulativeImpact(),
			SessionImpact:    g.ledger.SessionImpact(),
			Action:           ActionReject,
			Reasons:          []string{"emergency stop active: " + g.ledger.Stop.Reason},
		}
	}

	notional := req.Amount * req.Price
	takerFee := notional * g.sched.TakerRate

	var (
		score       float64
		reasons     []string
		suggestions []string
	)

	if req.Kind == fees.KindTaker && notional > 0 {
		margin := req.ExpectedProfit / notional
		if margin < g.cfg.MinProfitMargin {
			score += weightThinMargin
			reasons = append(reasons, fmt.Sprintf("taker margin %.4f below minimum %.4f", margin, g.cfg.MinProfitMargin))
			suggestions = append(suggestions, "switch to maker")
		}
	}

	if req.ExpectedProfit < 1.2*takerFee {
		score += weightFeeOverProfit
		reasons = append(reasons, fmt.Sprintf("expected profit %.2f below 1.2x taker fee %.2f", req.ExpectedProfit, takerFee))
		suggestions = append(suggestions, fmt.Sprintf("require profit above %.2f", 1.2*takerFee))
	}

	projected := g.ledger.projectedImpact(g.tradeFee(req.Kind, takerFee, notional))
	if projected > g.cfg.CumulativeWarning {
		score += weightWarningImpact
		reasons = append(reasons, fmt.Sprintf("projected cumulative impact %.4f above warning %.4f", projected, g.cfg.CumulativeWarning))
		suggestions = append(suggestions, "switch to maker")
	}

	if g.cfg.HighFrequencyMode && g.tradesInWindowLocked() >= g.cfg.TradeCountThreshold {
		score += weightHighFrequency
		reasons = append(reasons, fmt.Sprintf("more than %d trades in the trailing window", g.cfg.TradeCountThreshold))
		suggestions = append(suggestions, fmt.Sprintf("delay %d seconds", int(g.cfg.TimeWindow().Seconds())/g.cfg.TradeCountThreshold+1))
	}

	if g.ledger.SessionImpact() > g.sessionCeiling() {
		score += weightSessionCeil
		reasons = append(reasons, "session fee impact above ceiling")
		suggestions = append(suggestions, "pause the session")
	}

	a := Assessment{
		Score:            score,
		CumulativeImpact: g.ledger.CumulativeImpact(),
		SessionImpact:    g.ledger.SessionImpact(),
		Reasons:          reasons,
		Suggestions:      suggestions,
	}

	switch {
	case score >= 0.8:
		a.Level, a.Action = LevelCritical, ActionReject
	case score >= 0.6:
		a.Level, a.Action = LevelHigh, ActionModify
	case score >= 0.3:
		a.Level = LevelMedium
		if req.Urgency < 0.7 {
			a.Action = ActionDelay
		} else {
			a.Action = ActionApprove
		}
	default:
		a.Level, a.Action = LevelLow, ActionApprove
	}

	if a.Action == ActionReject {
		g.ledger.Rejections++
		telemetry.Metrics.RiskRejections.Inc()
	}
	return a
}

// ShouldBlock is the hard gate in front of the admission queue. It trips
// the emergency stop when this trade's fee would push cumulative impact
// past the emergency threshold. feeAmount is a magnitude; maker orders
// contribute it to the ledger as a rebate.
func (g *Guard) ShouldBlock(instrument string, expectedProfit, feeAmount float64, kind fees.Kind) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ledger.Stop.Active {
		return true, "emergency stop active: " + g.ledger.Stop.Reason
	}

	if kind == fees.KindTaker && expectedProfit < feeAmount {
		g.ledger.Rejections++
		return true, fmt.Sprintf("taker fee %.2f exceeds expected profit %.2f", feeAmount, expectedProfit)
	}

	fee := feeAmount
	if kind == fees.KindMaker {
		fee = -feeAmount
	}
	if projected := g.ledger.projectedImpact(fee); projected > g.cfg.EmergencyStopThreshold {
		reason := fmt.Sprintf("cumulative fee impact %.4f would exceed emergency threshold %.4f",
			projected, g.cfg.EmergencyStopThreshold)
		g.tripLocked(instrument, reason)
		return true, reason
	}

	if g.ledger.CumulativeImpact() > g.dailyCeiling() {
		g.ledger.Rejections++
		return true, "daily fee loss above ceiling"
	}

	if g.ledger.projectedSessionImpact(fee) > g.sessionCeiling() {
		g.ledger.Rejections++
		return true, "session fee impact above ceiling"
	}

	return false, ""
}

// Record folds a completed trade into the ledger, then re-checks the
// warning thresholds. Warnings are log-only: recording never blocks.
func (g *Guard) Record(instrument string, kind fees.Kind, fee float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ledger.apply(fee)
	g.recent = append(g.recent, g.now())
	g.pruneRecentLocked()

	cum := g.ledger.CumulativeImpact()
	if cum > g.cfg.CumulativeWarning {
		telemetry.Warnf("risk: cumulative fee impact %.4f above warning %.4f (instrument=%s kind=%s)",
			cum, g.cfg.CumulativeWarning, instrument, kind)
		g.publishAlertLocked("cumulative fee impact above warning threshold")
	}
	if s := g.ledger.SessionImpact(); s > g.sessionCeiling() {
		telemetry.Warnf("risk: session fee impact %.4f above ceiling %.4f", s, g.sessionCeiling())
	}
}

// SeedDaily primes the daily counters from persisted fee history (net:
// positive cost, negative rebate), so a restart does not reset the
// breaker's basis. Session counters and the trade count stay at zero:
// a restart is a new session.
func (g *Guard) SeedDaily(net float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if net >= 0 {
		g.ledger.DailyTakerCosts += net
	} else {
		g.ledger.DailyMakerRebates += -net
	}
}

// ResetEmergencyStop closes the breaker. It refuses while cumulative
// impact is still at or above 80% of the trip threshold, so the breaker
// cannot flap while risk is elevated.
func (g *Guard) ResetEmergencyStop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ledger.Stop.Active {
		return true
	}
	if g.ledger.CumulativeImpact() >= 0.8*g.cfg.EmergencyStopThreshold {
		telemetry.Warnf("risk: emergency stop reset refused, impact %.4f still near threshold %.4f",
			g.ledger.CumulativeImpact(), g.cfg.EmergencyStopThreshold)
		return false
	}

	g.ledger.Stop = EmergencyStop{}
	telemetry.Infof("risk: emergency stop reset")
	g.publishAlertLocked("emergency stop reset")
	return true
}

// ResetSession zeroes the session counters for a new trading session.
// Refused while the emergency stop is open.
func (g *Guard) ResetSession() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ledger.Stop.Active {
		return fmt.Errorf("emergency stop active: %s", g.ledger.Stop.Reason)
	}
	g.ledger.SessionMakerRebates = 0
	g.ledger.SessionTakerCosts = 0
	return nil
}

// EmergencyStopped reports whether the breaker is open.
func (g *Guard) EmergencyStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ledger.Stop.Active
}

// Snapshot copies the ledger for reporting.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Snapshot{
		CumulativeImpact: g.ledger.CumulativeImpact(),
		SessionImpact:    g.ledger.SessionImpact(),
		MakerRebates:     g.ledger.DailyMakerRebates,
		TakerCosts:       g.ledger.DailyTakerCosts,
		Trades:           g.ledger.Trades,
		Rejections:       g.ledger.Rejections,
		Stop:             g.ledger.Stop,
	}
}

func (g *Guard) sessionCeiling() float64 {
	return g.cfg.MaxSessionFeeLoss / ImpactScale
}

func (g *Guard) dailyCeiling() float64 {
	return g.cfg.MaxDailyFeeLoss / ImpactScale
}

// tradeFee is the signed ledger contribution of this trade's fee.
func (g *Guard) tradeFee(kind fees.Kind, takerFee, notional float64) float64 {
	if kind == fees.KindMaker {
		return notional * g.sched.MakerRate
	}
	return takerFee
}

func (g *Guard) tripLocked(instrument, reason string) {
	g.ledger.Stop = EmergencyStop{Active: true, Reason: reason, At: g.now()}
	g.ledger.Rejections++
	telemetry.Metrics.EmergencyTrips.Inc()
	telemetry.Errorf("risk: EMERGENCY STOP tripped (instrument=%s): %s", instrument, reason)

	if g.bus != nil {
		g.bus.Publish(events.Event{
			Type:       events.EventEmergencyStop,
			Instrument: instrument,
			Timestamp:  g.now(),
			Payload: events.RiskAlert{
				Reason:           reason,
				CumulativeImpact: g.ledger.CumulativeImpact(),
				SessionImpact:    g.ledger.SessionImpact(),
				EmergencyActive:  true,
			},
		})
	}
}

func (g *Guard) publishAlertLocked(reason string) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.Event{
		Type:      events.EventRiskAlert,
		Timestamp: g.now(),
		Payload: events.RiskAlert{
			Reason:           reason,
			CumulativeImpact: g.ledger.CumulativeImpact(),
			SessionImpact:    g.ledger.SessionImpact(),
			EmergencyActive:  g.ledger.Stop.Active,
		},
	})
}

func (g *Guard) pruneRecentLocked() {
	cutoff := g.now().Add(-g.cfg.TimeWindow())
	i := 0
	for i < len(g.recent) && g.recent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		g.recent = append(g.recent[:0:0], g.recent[i:]...)
	}
}

func (g *Guard) tradesInWindowLocked() int {
	g.pruneRecentLocked()
	return len(g.recent)
}
