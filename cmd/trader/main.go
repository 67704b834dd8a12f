package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkondo/cryptoexec/internal/adapters/exchange_auth"
	"github.com/mkondo/cryptoexec/internal/adapters/exchange_http"
	"github.com/mkondo/cryptoexec/internal/adapters/exchange_ws"
	"github.com/mkondo/cryptoexec/internal/config"
	"github.com/mkondo/cryptoexec/internal/core/engine"
	"github.com/mkondo/cryptoexec/internal/events"
	"github.com/mkondo/cryptoexec/internal/history"
	"github.com/mkondo/cryptoexec/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting execution core")

	limits, err := config.LoadLimits(cfg.LimitsPath)
	if err != nil {
		telemetry.Warnf("Limits file: %v, using defaults", err)
		limits = config.DefaultLimits()
	}

	bus := events.NewBus()

	// ── Exchange HTTP client ──────────────────────────────────
	signer := exchange_auth.NewSigner(cfg.APIKey, cfg.APISecret)
	if signer == nil {
		telemetry.Warnf("No exchange credentials; private endpoints will fail")
	}
	client := exchange_http.NewClient(cfg.ExchangeBaseURL, signer)

	// ── Order history archive ─────────────────────────────────
	var store *history.Store
	if cfg.HistoryPath != "" {
		store, err = history.Open(cfg.HistoryPath)
		if err != nil {
			telemetry.Errorf("History store: %v", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	// ── Control plane ─────────────────────────────────────────
	eng := engine.New(limits, client, bus, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Execution feed ────────────────────────────────────────
	feed := exchange_ws.NewFeed(cfg.ExchangeFeedURL, signer, bus)
	go func() {
		if err := feed.Connect(ctx); err != nil {
			telemetry.Errorf("Execution feed: %v", err)
		}
	}()

	go eng.Run(ctx)

	// ── Shutdown ──────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	snap := eng.Snapshot()
	telemetry.Infof("Shutting down: queue=%d open_instruments=%d cumulative_impact=%.4f",
		snap.Queue.Size, len(snap.Queue.Instruments), snap.Risk.CumulativeImpact)
	cancel()
}
