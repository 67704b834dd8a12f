package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkondo/cryptoexec/internal/adapters/paper"
	"github.com/mkondo/cryptoexec/internal/config"
	"github.com/mkondo/cryptoexec/internal/core/admission"
	"github.com/mkondo/cryptoexec/internal/core/engine"
	"github.com/mkondo/cryptoexec/internal/events"
	"github.com/mkondo/cryptoexec/internal/telemetry"
)

// Paper-trading demo: runs the whole control plane against an in-memory
// exchange, then prints the session summary.
func main() {
	telemetry.Init(slog.LevelDebug)
	telemetry.Infof("Starting paper session")

	limits := config.DefaultLimits()
	bus := events.NewBus()
	exch := paper.New(bus)
	eng := engine.New(limits, exch, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	trades := []engine.TradeRequest{
		{Instrument: "BTC_JPY", Side: "BUY", Amount: 0.01, Price: 5_000_000, TargetPrice: 4_995_000, ExpectedProfit: 120, Urgency: 0.2, Volatility: 0.01, Priority: admission.PriorityNormal},
		{Instrument: "BTC_JPY", Side: "SELL", Amount: 0.01, Price: 5_010_000, ExpectedProfit: 90, Urgency: 0.9, Volatility: 0.03, Priority: admission.PriorityHigh},
		{Instrument: "ETH_JPY", Side: "BUY", Amount: 0.1, Price: 400_000, ExpectedProfit: 30, Urgency: 0.4, Volatility: 0.015, Priority: admission.PriorityLow},
	}

	for _, tr := range trades {
		res := eng.Trade(tr)
		telemetry.Infof("paper: trade %s %s accepted=%v msg=%q fee_kind=%s",
			tr.Instrument, tr.Side, res.Accepted, res.Message, res.Quote.Recommended)
	}

	// Give the worker time to dispatch, then fill whatever landed.
	time.Sleep(500 * time.Millisecond)
	for _, id := range exch.OpenOrders() {
		o, err := exch.FetchOrder(ctx, id, "")
		if err != nil {
			continue
		}
		fee := 0.01 * o.Price * limits.Fees.MakerRate
		if err := exch.FillOrder(id, 0.01, o.Price, fee); err != nil {
			telemetry.Warnf("paper: fill %s: %v", id, err)
		}
	}
	time.Sleep(100 * time.Millisecond)

	stats := eng.Statistics()
	fmt.Printf("\n=== Paper session ===\n")
	fmt.Printf("queued=%d submitted=%d filled=%d rejected=%d success_rate=%.2f\n",
		stats.Orders.Queued, stats.Orders.Submitted, stats.Orders.Filled,
		stats.Orders.Rejected, stats.SuccessRate)
	fmt.Printf("cumulative_impact=%.6f session_impact=%.6f emergency=%v\n",
		stats.Risk.CumulativeImpact, stats.Risk.SessionImpact, stats.Risk.Stop.Active)
}
