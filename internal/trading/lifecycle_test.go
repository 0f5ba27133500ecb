package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/config"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

func testVenueConfig() config.VenueConfig {
	return config.VenueConfig{
		URL:              "paper://local",
		Account:          "DU000001",
		BackoffBase:      10 * time.Millisecond,
		BackoffCap:       40 * time.Millisecond,
		StablePeriod:     60 * time.Millisecond,
		HeartbeatTimeout: 200 * time.Millisecond,
		AckRetries:       1,
	}
}

// newTestEngine stands up a paper venue, a connected gateway, and a running
// lifecycle manager, all torn down with the test.
func newTestEngine(t *testing.T) (*broker.PaperVenue, *broker.Gateway, *Lifecycle) {
	t.Helper()
	venue := broker.NewPaperVenue(0)
	gw := broker.NewGateway(testVenueConfig(), venue, zerolog.Nop())
	lc := NewLifecycle(gw, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go lc.Run(ctx)
	t.Cleanup(func() {
		cancel()
		gw.Disconnect()
	})

	if err := gw.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return venue, gw, lc
}

func longPlan(symbol string) *models.TradePlan {
	return &models.TradePlan{
		ID:         "01TESTPLAN" + symbol,
		Symbol:     symbol,
		Side:       models.SideLong,
		Entry:      99.0,
		LimitPrice: 98.8,
		Stop:       95.0,
		Target:     107.0,
		Quantity:   10,
		RiskAmount: 40.0,
		ATR:        2.0,
		SwingRef:   100.0,
		NetLiq:     100_000,
		CreatedAt:  time.Now(),
	}
}

func waitGroupState(t *testing.T, lc *Lifecycle, groupID string, want models.GroupState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last models.GroupState
	for time.Now().Before(deadline) {
		for _, g := range lc.Groups() {
			if g.GroupID == groupID {
				last = g.State
				if last == want {
					return
				}
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("group %s state = %s, want %s", groupID, last, want)
}

func waitOpenOrders(t *testing.T, venue *broker.PaperVenue, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if venue.OpenOrderCount() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("venue open orders = %d, want %d", venue.OpenOrderCount(), want)
}

func TestSubmitPlacesBracket(t *testing.T) {
	venue, _, lc := newTestEngine(t)

	groupID, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if venue.OpenOrderCount() != 3 {
		t.Fatalf("open orders = %d, want 3", venue.OpenOrderCount())
	}
	// Entry ack promotes the group to working.
	waitGroupState(t, lc, groupID, models.GroupWorking)

	g, ok := lc.ActiveGroup("AAPL")
	if !ok {
		t.Fatal("expected active group for AAPL")
	}
	if g.Entry.Price != 98.8 || g.StopLeg.Price != 95.0 || g.TargetLeg.Price != 107.0 {
		t.Fatalf("leg prices = %.2f/%.2f/%.2f", g.Entry.Price, g.StopLeg.Price, g.TargetLeg.Price)
	}
}

func TestDuplicateActiveGroupRejected(t *testing.T) {
	_, _, lc := newTestEngine(t)

	if _, err := lc.Submit(context.Background(), longPlan("AAPL")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if !errors.Is(err, errors.ErrDuplicateActiveOrder) {
		t.Fatalf("err = %v, want ErrDuplicateActiveOrder", err)
	}

	// A different symbol is unaffected.
	if _, err := lc.Submit(context.Background(), longPlan("MSFT")); err != nil {
		t.Fatalf("Submit MSFT: %v", err)
	}
}

func TestEntryFillActivatesChildrenAndTargetFillClosesGroup(t *testing.T) {
	venue, _, lc := newTestEngine(t)

	groupID, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitGroupState(t, lc, groupID, models.GroupWorking)

	venue.Mark("AAPL", 98.8)
	waitGroupState(t, lc, groupID, models.GroupChildrenWorking)

	// Target trades through; the stop sibling must be cancelled.
	venue.Mark("AAPL", 107.0)
	waitGroupState(t, lc, groupID, models.GroupClosed)
	waitOpenOrders(t, venue, 0)

	if _, ok := lc.ActiveGroup("AAPL"); ok {
		t.Fatal("closed group should not remain active")
	}
}

func TestStopFillCancelsTargetSibling(t *testing.T) {
	venue, _, lc := newTestEngine(t)

	groupID, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitGroupState(t, lc, groupID, models.GroupWorking)

	venue.Mark("AAPL", 98.8)
	waitGroupState(t, lc, groupID, models.GroupChildrenWorking)

	venue.Mark("AAPL", 95.0)
	waitGroupState(t, lc, groupID, models.GroupClosed)
	waitOpenOrders(t, venue, 0)
}

func TestCancelIsIdempotent(t *testing.T) {
	venue, _, lc := newTestEngine(t)
	ctx := context.Background()

	// No active group: a no-op, not an error.
	if err := lc.Cancel(ctx, "AAPL"); err != nil {
		t.Fatalf("Cancel with no group: %v", err)
	}

	groupID, err := lc.Submit(ctx, longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitGroupState(t, lc, groupID, models.GroupWorking)

	if err := lc.Cancel(ctx, "AAPL"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitGroupState(t, lc, groupID, models.GroupCancelled)
	waitOpenOrders(t, venue, 0)

	// Repeat cancel after the group went terminal is still a no-op.
	if err := lc.Cancel(ctx, "AAPL"); err != nil {
		t.Fatalf("repeat Cancel: %v", err)
	}

	// The symbol is free for a new bracket.
	if _, err := lc.Submit(ctx, longPlan("AAPL")); err != nil {
		t.Fatalf("Submit after cancel: %v", err)
	}
}

func TestCancelAllSweepsEverySymbol(t *testing.T) {
	venue, _, lc := newTestEngine(t)
	ctx := context.Background()

	idA, err := lc.Submit(ctx, longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit AAPL: %v", err)
	}
	idB, err := lc.Submit(ctx, longPlan("MSFT"))
	if err != nil {
		t.Fatalf("Submit MSFT: %v", err)
	}
	waitGroupState(t, lc, idA, models.GroupWorking)
	waitGroupState(t, lc, idB, models.GroupWorking)

	if err := lc.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	waitGroupState(t, lc, idA, models.GroupCancelled)
	waitGroupState(t, lc, idB, models.GroupCancelled)
	waitOpenOrders(t, venue, 0)
}

func TestMoveStopReplacesStopOrder(t *testing.T) {
	venue, _, lc := newTestEngine(t)
	ctx := context.Background()

	groupID, err := lc.Submit(ctx, longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitGroupState(t, lc, groupID, models.GroupWorking)

	// Moving the stop before the entry fills is invalid.
	if err := lc.MoveStop(ctx, groupID, 97.0); err == nil {
		t.Fatal("expected MoveStop to fail before children are working")
	}

	venue.Mark("AAPL", 98.8)
	waitGroupState(t, lc, groupID, models.GroupChildrenWorking)

	if err := lc.MoveStop(ctx, groupID, 97.0); err != nil {
		t.Fatalf("MoveStop: %v", err)
	}
	waitOpenOrders(t, venue, 2) // new stop + target; old stop cancelled

	g, _ := lc.ActiveGroup("AAPL")
	if g.StopLeg.Price != 97.0 {
		t.Fatalf("stop price = %.2f, want 97.00", g.StopLeg.Price)
	}

	// The replacement stop is live: trading through it closes the group.
	venue.Mark("AAPL", 97.0)
	waitGroupState(t, lc, groupID, models.GroupClosed)
	waitOpenOrders(t, venue, 0)
}

func TestMoveStopUnknownGroup(t *testing.T) {
	_, _, lc := newTestEngine(t)
	if err := lc.MoveStop(context.Background(), "no-such-group", 1.0); !errors.Is(err, errors.ErrGroupNotFound) {
		t.Fatalf("err = %v, want ErrGroupNotFound", err)
	}
}

func TestSubmitBlockedDuringReconcile(t *testing.T) {
	_, _, lc := newTestEngine(t)

	lc.mu.Lock()
	lc.reconciling = true
	lc.mu.Unlock()

	_, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if !errors.Is(err, errors.ErrReconcilePending) {
		t.Fatalf("err = %v, want ErrReconcilePending", err)
	}
}

func TestSubmitRejectsInvalidPlan(t *testing.T) {
	_, _, lc := newTestEngine(t)

	plan := longPlan("AAPL")
	plan.Stop = 100.0 // above entry: invalid for a long
	if _, err := lc.Submit(context.Background(), plan); err == nil {
		t.Fatal("expected invalid plan to be rejected")
	}

	plan = longPlan("AAPL")
	plan.Quantity = 0
	if _, err := lc.Submit(context.Background(), plan); !errors.Is(err, errors.ErrInsufficientRiskBudget) {
		t.Fatal("expected zero-quantity plan to be rejected")
	}
}
