package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/store"
	"bracket-trader/internal/trading"
)

// engine bundles a connected gateway with the lifecycle manager built on
// top of it. Commands that talk to the venue construct one, use it, and
// shut it down.
type engine struct {
	gw     *broker.Gateway
	lc     *trading.Lifecycle
	paper  *broker.PaperVenue // nil in live mode
	cancel context.CancelFunc
}

// newEngine connects to the venue and starts the lifecycle event loop.
// In paper mode the venue is an in-process simulator seeded with the
// configured net liquidation value.
func newEngine(ctx context.Context, app *App, cmd *cobra.Command) (*engine, error) {
	paperFlag, _ := cmd.Flags().GetBool("paper")
	paperMode := paperFlag || app.Config.Trading.Mode == "paper"

	var dialer broker.Dialer
	var paper *broker.PaperVenue
	if paperMode {
		paper = broker.NewPaperVenue(100_000)
		paper.RequireAccount(app.Config.Venue.Account)
		dialer = paper
	} else {
		dialer = broker.NewWebSocketDialer()
	}

	gw := broker.NewGateway(app.Config.Venue, dialer, app.Logger)

	sink := trading.EventSink(trading.NopSink{})
	if app.Store != nil {
		sink = store.NewJournal(app.Store, app.Logger)
	}
	lc := trading.NewLifecycle(gw, sink, app.Logger)

	runCtx, cancel := context.WithCancel(context.Background())
	go lc.Run(runCtx)

	if err := gw.Connect(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("connecting to venue: %w", err)
	}

	return &engine{gw: gw, lc: lc, paper: paper, cancel: cancel}, nil
}

func (e *engine) close() {
	e.gw.Disconnect()
	e.cancel()
}
