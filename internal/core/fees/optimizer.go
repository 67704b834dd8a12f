package fees

import (
	"math"

	"github.com/mkondo/cryptoexec/internal/config"
)

// Kind is the order type the optimizer chooses between.
type Kind int

const (
	// KindAuto lets the optimizer pick; callers may force maker or taker.
	KindAuto Kind = iota
	KindMaker
	KindTaker
)

func (k Kind) String() string {
	switch k {
	case KindMaker:
		return "maker"
	case KindTaker:
		return "taker"
	default:
		return "auto"
	}
}

// QuoteRequest describes a prospective trade.
type QuoteRequest struct {
	Instrument string
	Side       string
	Amount     float64
	Price      float64
	// TargetPrice is the price the caller would be happy to rest at.
	// Zero means no target.
	TargetPrice float64
	// Urgency in [0,1]; above the taker threshold the fill matters more
	// than the fee.
	Urgency    float64
	Volatility float64
	// Kind forces the order type when not KindAuto.
	Kind Kind
}

// Quote is the optimizer's answer. MakerFee is negative when the exchange
// pays a rebate. BreakEven is the minimum expected profit that makes the
// recommended order worth placing.
type Quote struct {
	Instrument  string
	Notional    float64
	MakerFee    float64
	TakerFee    float64
	Recommended Kind
	ExpectedFee float64
	FeeImpact   float64
	BreakEven   float64
}

// Optimizer computes maker/taker fee quotes from a fee schedule.
type Optimizer struct {
	sched config.FeeSchedule
}

func NewOptimizer(sched config.FeeSchedule) *Optimizer {
	return &Optimizer{sched: sched}
}

// Quote picks the cheapest safe order type for the request.
//
// Maker is the default. Taker wins when urgency is high, or when the
// market is volatile and urgency is at least moderate. A target price
// far enough from the current price flips back to maker: there is room
// to wait for a favorable fill.
func (o *Optimizer) Quote(req QuoteRequest) Quote {
	notional := req.Amount * req.Price

	q := Quote{
		Instrument: req.Instrument,
		Notional:   notional,
		MakerFee:   notional * o.sched.MakerRate,
		TakerFee:   notional * o.sched.TakerRate,
	}

	kind := KindMaker
	if req.Urgency > o.sched.UrgencyTakerThreshold {
		kind = KindTaker
	} else if req.Volatility > o.sched.VolatilityThreshold && req.Urgency > o.sched.UrgencyModerateThreshold {
		kind = KindTaker
	}

	if req.TargetPrice > 0 && req.Price > 0 {
		gap := math.Abs(req.TargetPrice-req.Price) / req.Price
		if gap > o.sched.PriceGapRatio {
			kind = KindMaker
		}
	}

	if req.Kind != KindAuto {
		kind = req.Kind
	}
	q.Recommended = kind

	switch kind {
	case KindTaker:
		q.ExpectedFee = q.TakerFee
		q.BreakEven = 1.2 * q.TakerFee
	default:
		q.ExpectedFee = q.MakerFee
		q.BreakEven = math.Abs(q.MakerFee) / 2
	}

	if notional > 0 {
		q.FeeImpact = math.Abs(q.ExpectedFee) / notional
	}
	return q
}

// ShouldAvoidTaker rejects a taker order whose fee eats the edge: either
// the expected profit is below the avoid multiple of the fee, or the
// projected session fee impact crosses the accumulation limit.
func (o *Optimizer) ShouldAvoidTaker(expectedProfit, takerFee, projectedSessionImpact float64) (bool, string) {
	if expectedProfit < o.sched.TakerAvoidMultiple*takerFee {
		return true, "expected profit below taker fee multiple"
	}
	if projectedSessionImpact > o.sched.SessionAccumulationLimit {
		return true, "session fee accumulation limit"
	}
	return false, ""
}

// Schedule exposes the underlying fee rates.
func (o *Optimizer) Schedule() config.FeeSchedule {
	return o.sched
}
