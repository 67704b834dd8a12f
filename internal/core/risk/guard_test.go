package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkondo/cryptoexec/internal/config"
	"github.com/mkondo/cryptoexec/internal/core/fees"
	"github.com/mkondo/cryptoexec/internal/events"
)

func newTestGuard(mutate func(*config.RiskLimits)) *Guard {
	limits := config.DefaultLimits()
	if mutate != nil {
		mutate(&limits.Risk)
	}
	return NewGuard(limits.Risk, limits.Fees, nil)
}

func TestEvaluateCleanTradeApproved(t *testing.T) {
	g := newTestGuard(nil)

	a := g.Evaluate(EvaluateRequest{
		Instrument:     "BTC/JPY",
		Side:           "buy",
		Amount:         0.01,
		Price:          5_000_000,
		ExpectedProfit: 500, // far above 1.2×60
		Kind:           fees.KindTaker,
		Urgency:        0.9,
	})

	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, ActionApprove, a.Action)
	assert.Empty(t, a.Reasons)
}

func TestEvaluateTakerFeeDwarfsProfit(t *testing.T) {
	g := newTestGuard(nil)

	// notional ≈ 83,333 → taker fee ≈ 100
	a := g.Evaluate(EvaluateRequest{
		Instrument:     "BTC/JPY",
		Side:           "buy",
		Amount:         0.0166667,
		Price:          5_000_000,
		ExpectedProfit: 10,
		Kind:           fees.KindTaker,
		Urgency:        0.5,
	})

	assert.GreaterOrEqual(t, a.Score, 0.4)
	assert.Contains(t, []Action{ActionModify, ActionReject}, a.Action)
	assert.NotEmpty(t, a.Suggestions)
}

func TestEvaluateMediumDelaysUnlessUrgent(t *testing.T) {
	g := newTestGuard(nil)

	// Maker order with thin profit trips only the fee-over-profit check.
	req := EvaluateRequest{
		Instrument:     "BTC/JPY",
		Side:           "sell",
		Amount:         0.01,
		Price:          5_000_000,
		ExpectedProfit: 30, // below 1.2×60
		Kind:           fees.KindMaker,
		Urgency:        0.2,
	}

	a := g.Evaluate(req)
	assert.Equal(t, LevelMedium, a.Level)
	assert.Equal(t, ActionDelay, a.Action)

	req.Urgency = 0.9
	a = g.Evaluate(req)
	assert.Equal(t, LevelMedium, a.Level)
	assert.Equal(t, ActionApprove, a.Action)
}

func TestCumulativeImpactNeverNegative(t *testing.T) {
	g := newTestGuard(nil)

	for i := 0; i < 50; i++ {
		g.Record("BTC/JPY", fees.KindMaker, -10) // rebates only
	}

	snap := g.Snapshot()
	assert.Zero(t, snap.CumulativeImpact)
	assert.Zero(t, snap.SessionImpact)
	assert.Equal(t, 500.0, snap.MakerRebates)
}

func TestShouldBlockFeeExceedsProfit(t *testing.T) {
	g := newTestGuard(nil)

	blocked, reason := g.ShouldBlock("BTC/JPY", 50, 100, fees.KindTaker)
	assert.True(t, blocked)
	assert.Contains(t, reason, "exceeds expected profit")

	blocked, _ = g.ShouldBlock("BTC/JPY", 150, 100, fees.KindTaker)
	assert.False(t, blocked)
}

func TestEmergencyStopTripsAndHolds(t *testing.T) {
	bus := events.NewBus()
	var alerts []events.RiskAlert
	bus.Subscribe(events.EventEmergencyStop, func(e events.Event) error {
		alerts = append(alerts, e.Payload.(events.RiskAlert))
		return nil
	})

	limits := config.DefaultLimits()
	g := NewGuard(limits.Risk, limits.Fees, bus)

	// Push cumulative taker costs to 490 (impact 0.049, just under 0.05).
	g.Record("BTC/JPY", fees.KindTaker, 490)
	require.False(t, g.EmergencyStopped())

	// A 20-unit taker fee projects impact 0.051 > 0.05: trip.
	blocked, reason := g.ShouldBlock("BTC/JPY", 1000, 20, fees.KindTaker)
	assert.True(t, blocked)
	assert.Contains(t, reason, "emergency threshold")
	assert.True(t, g.EmergencyStopped())
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].EmergencyActive)

	// Every path rejects while the breaker is open.
	a := g.Evaluate(EvaluateRequest{Instrument: "BTC/JPY", Amount: 0.01, Price: 5_000_000, ExpectedProfit: 10_000, Kind: fees.KindMaker})
	assert.Equal(t, LevelCritical, a.Level)
	assert.Equal(t, ActionReject, a.Action)

	blocked, _ = g.ShouldBlock("BTC/JPY", 10_000, 1, fees.KindMaker)
	assert.True(t, blocked)
}

func TestResetRefusedWhileImpactElevated(t *testing.T) {
	g := newTestGuard(nil)

	// Impact 0.049 then trip with a 20-unit fee.
	g.Record("BTC/JPY", fees.KindTaker, 490)
	blocked, _ := g.ShouldBlock("BTC/JPY", 1000, 20, fees.KindTaker)
	require.True(t, blocked)
	require.True(t, g.EmergencyStopped())

	// Still at 0.049 ≥ 80% of 0.05: reset refused.
	assert.False(t, g.ResetEmergencyStop())
	assert.True(t, g.EmergencyStopped())

	// Maker rebates bring impact down below 0.04: reset succeeds.
	g.Record("BTC/JPY", fees.KindMaker, -200)
	assert.True(t, g.ResetEmergencyStop())
	assert.False(t, g.EmergencyStopped())
}

func TestHighFrequencyCheck(t *testing.T) {
	g := newTestGuard(func(r *config.RiskLimits) {
		r.HighFrequencyMode = true
		r.TradeCountThreshold = 3
		r.TimeWindowMinutes = 60
	})

	base := time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		g.Record("BTC/JPY", fees.KindMaker, -1)
	}

	a := g.Evaluate(EvaluateRequest{
		Instrument:     "BTC/JPY",
		Amount:         0.01,
		Price:          5_000_000,
		ExpectedProfit: 500,
		Kind:           fees.KindMaker,
		Urgency:        0.5,
	})
	assert.InDelta(t, weightHighFrequency, a.Score, 1e-9)

	// Outside the window the trades no longer count.
	g.now = func() time.Time { return base.Add(2 * time.Hour) }
	a = g.Evaluate(EvaluateRequest{
		Instrument:     "BTC/JPY",
		Amount:         0.01,
		Price:          5_000_000,
		ExpectedProfit: 500,
		Kind:           fees.KindMaker,
		Urgency:        0.5,
	})
	assert.Zero(t, a.Score)
}

func TestDailyCeilingBlocks(t *testing.T) {
	g := newTestGuard(func(r *config.RiskLimits) {
		// Ceiling 50/10,000 = 0.005 impact, well under the emergency
		// threshold so the breaker stays closed.
		r.MaxDailyFeeLoss = 50
		r.EmergencyStopThreshold = 1.0
	})

	g.Record("BTC/JPY", fees.KindTaker, 40)
	blocked, _ := g.ShouldBlock("BTC/JPY", 10_000, 1, fees.KindTaker)
	assert.False(t, blocked)

	g.Record("BTC/JPY", fees.KindTaker, 20)
	blocked, reason := g.ShouldBlock("BTC/JPY", 10_000, 1, fees.KindTaker)
	assert.True(t, blocked)
	assert.Contains(t, reason, "daily fee loss")
	assert.False(t, g.EmergencyStopped())

	// A day's worth of rebates reopens the gate; the session ceiling is
	// scoped separately and cleared here to isolate the daily check.
	g.Record("BTC/JPY", fees.KindMaker, -55)
	require.NoError(t, g.ResetSession())
	blocked, _ = g.ShouldBlock("BTC/JPY", 10_000, 1, fees.KindTaker)
	assert.False(t, blocked)
}

func TestSessionCeilingBlocks(t *testing.T) {
	g := newTestGuard(nil)

	// Session ceiling is 100/10,000 = 0.01 impact.
	g.Record("BTC/JPY", fees.KindTaker, 150)

	blocked, reason := g.ShouldBlock("BTC/JPY", 10_000, 1, fees.KindTaker)
	assert.True(t, blocked)
	assert.Contains(t, reason, "session")

	require.NoError(t, g.ResetSession())
	blocked, _ = g.ShouldBlock("BTC/JPY", 10_000, 1, fees.KindTaker)
	assert.False(t, blocked)
}
