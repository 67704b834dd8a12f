package risk

import "time"

// ImpactScale normalizes net fee cost (quote currency) into the
// dimensionless cumulative fee impact used by every threshold here.
const ImpactScale = 10_000

// EmergencyStop is the process-wide circuit breaker. Once Active, every
// risk decision is a rejection until a validated reset.
type EmergencyStop struct {
	Active bool
	Reason string
	At     time.Time
}

// Ledger holds the running fee totals the guard decides against.
// Rebates and costs are stored as positive magnitudes. The ledger is
// owned by a Guard and only ever touched under its lock.
type Ledger struct {
	DailyMakerRebates   float64
	DailyTakerCosts     float64
	SessionMakerRebates float64
	SessionTakerCosts   float64

	Trades     int
	Rejections int

	Stop EmergencyStop
}

// CumulativeImpact is max(0, (takerCosts − makerRebates) / ImpactScale).
// Clamped: a rebate surplus never produces negative risk.
func (l *Ledger) CumulativeImpact() float64 {
	return clampImpact(l.DailyTakerCosts - l.DailyMakerRebates)
}

// SessionImpact is the same formula scoped to the current session.
func (l *Ledger) SessionImpact() float64 {
	return clampImpact(l.SessionTakerCosts - l.SessionMakerRebates)
}

// projectedImpact is the cumulative impact after adding fee (positive
// cost, negative rebate) to the daily totals.
func (l *Ledger) projectedImpact(fee float64) float64 {
	return clampImpact(l.DailyTakerCosts - l.DailyMakerRebates + fee)
}

func (l *Ledger) projectedSessionImpact(fee float64) float64 {
	return clampImpact(l.SessionTakerCosts - l.SessionMakerRebates + fee)
}

// apply records a completed trade's fee. Positive is a taker cost,
// negative a maker rebate.
func (l *Ledger) apply(fee float64) {
	if fee >= 0 {
		l.DailyTakerCosts += fee
		l.SessionTakerCosts += fee
	} else {
		l.DailyMakerRebates += -fee
		l.SessionMakerRebates += -fee
	}
	l.Trades++
}

func clampImpact(net float64) float64 {
	if net <= 0 {
		return 0
	}
	return net / ImpactScale
}

// Snapshot is a copy of the ledger for reporting.
type Snapshot struct {
	CumulativeImpact float64
	SessionImpact    float64
	MakerRebates     float64
	TakerCosts       float64
	Trades           int
	Rejections       int
	Stop             EmergencyStop
}
