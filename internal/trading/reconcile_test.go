package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
	"bracket-trader/pkg/utils"
)

func TestReconcileAdoptsVenueOrders(t *testing.T) {
	venue := broker.NewPaperVenue(0)
	venue.SeedOrder(broker.Request{
		ID: 1001, Kind: broker.ReqPlaceOrder, GroupID: "G1", Symbol: "TSLA",
		Side: "BUY", LegKind: models.LegEntry, OrderType: "LMT", Quantity: 5, Price: 200,
	}, true)
	venue.SeedOrder(broker.Request{
		ID: 1002, Kind: broker.ReqPlaceOrder, GroupID: "G1", Symbol: "TSLA",
		Side: "SELL", LegKind: models.LegStop, OrderType: "STP", Quantity: 5, Price: 190,
	}, false)
	venue.SeedOrder(broker.Request{
		ID: 1003, Kind: broker.ReqPlaceOrder, GroupID: "G1", Symbol: "TSLA",
		Side: "SELL", LegKind: models.LegTarget, OrderType: "LMT", Quantity: 5, Price: 220,
	}, false)

	gw := broker.NewGateway(testVenueConfig(), venue, zerolog.Nop())
	lc := NewLifecycle(gw, nil, zerolog.Nop())
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer gw.Disconnect()

	if err := lc.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	g, ok := lc.ActiveGroup("TSLA")
	if !ok {
		t.Fatal("expected adopted group for TSLA")
	}
	if !g.Recovered {
		t.Fatal("adopted group should be flagged recovered")
	}
	if g.GroupID != "G1" {
		t.Fatalf("group id = %s, want G1", g.GroupID)
	}
	if g.State != models.GroupWorking {
		t.Fatalf("state = %s, want %s", g.State, models.GroupWorking)
	}
	if g.Entry.BrokerOrderID != 1001 || g.StopLeg.BrokerOrderID != 1002 || g.TargetLeg.BrokerOrderID != 1003 {
		t.Fatalf("leg order ids = %d/%d/%d", g.Entry.BrokerOrderID, g.StopLeg.BrokerOrderID, g.TargetLeg.BrokerOrderID)
	}
	if g.Side != models.SideLong {
		t.Fatalf("side = %s, want LONG", g.Side)
	}
}

func TestReconcileAdoptsChildrenAsFilledEntry(t *testing.T) {
	venue := broker.NewPaperVenue(0)
	venue.SeedOrder(broker.Request{
		ID: 2001, Kind: broker.ReqPlaceOrder, GroupID: "G2", Symbol: "NVDA",
		Side: "SELL", LegKind: models.LegStop, OrderType: "STP", Quantity: 3, Price: 100,
	}, true)
	venue.SeedOrder(broker.Request{
		ID: 2002, Kind: broker.ReqPlaceOrder, GroupID: "G2", Symbol: "NVDA",
		Side: "SELL", LegKind: models.LegTarget, OrderType: "LMT", Quantity: 3, Price: 130,
	}, true)

	gw := broker.NewGateway(testVenueConfig(), venue, zerolog.Nop())
	lc := NewLifecycle(gw, nil, zerolog.Nop())
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer gw.Disconnect()

	if err := lc.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	g, ok := lc.ActiveGroup("NVDA")
	if !ok {
		t.Fatal("expected adopted group for NVDA")
	}
	if g.State != models.GroupChildrenWorking {
		t.Fatalf("state = %s, want %s", g.State, models.GroupChildrenWorking)
	}
	if g.Entry.State != models.LegFilled {
		t.Fatalf("entry state = %s, want %s", g.Entry.State, models.LegFilled)
	}
}

func TestReconcileInfersEntryFilledFromChildren(t *testing.T) {
	_, _, lc := newTestEngine(t)

	groupID, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitGroupState(t, lc, groupID, models.GroupWorking)
	g, _ := lc.ActiveGroup("AAPL")

	// Snapshot missing the entry but listing both children: the entry must
	// have filled while we were disconnected.
	lc.applySnapshot([]broker.OpenOrder{
		{OrderID: g.StopLeg.BrokerOrderID, GroupID: groupID, Symbol: "AAPL", Side: "SELL", LegKind: models.LegStop, Quantity: 10, Price: 95},
		{OrderID: g.TargetLeg.BrokerOrderID, GroupID: groupID, Symbol: "AAPL", Side: "SELL", LegKind: models.LegTarget, Quantity: 10, Price: 107},
	})

	waitGroupState(t, lc, groupID, models.GroupChildrenWorking)
	g, _ = lc.ActiveGroup("AAPL")
	if g.Entry.State != models.LegFilled {
		t.Fatalf("entry state = %s, want %s", g.Entry.State, models.LegFilled)
	}
}

func TestReconcileClosesGroupWhenOneChildMissing(t *testing.T) {
	venue, _, lc := newTestEngine(t)

	groupID, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitGroupState(t, lc, groupID, models.GroupWorking)
	venue.Mark("AAPL", 98.8)
	waitGroupState(t, lc, groupID, models.GroupChildrenWorking)
	g, _ := lc.ActiveGroup("AAPL")

	// Only the stop survives in the snapshot: the target filled while away,
	// so the group closes and the stale stop is cancelled at the venue.
	lc.applySnapshot([]broker.OpenOrder{
		{OrderID: g.StopLeg.BrokerOrderID, GroupID: groupID, Symbol: "AAPL", Side: "SELL", LegKind: models.LegStop, Quantity: 10, Price: 95},
	})

	waitGroupState(t, lc, groupID, models.GroupClosed)
	for _, grp := range lc.Groups() {
		if grp.GroupID == groupID && grp.TargetLeg.State != models.LegFilled {
			t.Fatalf("target state = %s, want %s", grp.TargetLeg.State, models.LegFilled)
		}
	}
	// The survivor cancel reaches the venue; only the real target remains.
	waitOpenOrders(t, venue, 1)
}

func TestReconcileOrphansGroupMissingFromVenue(t *testing.T) {
	venue := broker.NewPaperVenue(0)
	gw := broker.NewGateway(testVenueConfig(), venue, zerolog.Nop())
	// Not running the event loop: venue cancel events must not be the thing
	// that resolves the group.
	lc := NewLifecycle(gw, nil, zerolog.Nop())
	lc.GracePeriod = 20 * time.Millisecond
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer gw.Disconnect()

	groupID, err := lc.Submit(context.Background(), longPlan("AAPL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The venue forgets the whole group (a purge on its side).
	g, _ := lc.ActiveGroup("AAPL")
	for _, id := range []int64{g.Entry.BrokerOrderID, g.StopLeg.BrokerOrderID, g.TargetLeg.BrokerOrderID} {
		if err := gw.CancelOrder(id); err != nil {
			t.Fatalf("CancelOrder: %v", err)
		}
	}
	deadline := time.Now().Add(time.Second)
	for venue.OpenOrderCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	if err := lc.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	// First pass only starts the grace period.
	if g, _ := lc.ActiveGroup("AAPL"); g.State == models.GroupOrphaned {
		t.Fatal("group orphaned before grace period elapsed")
	}

	waitGroupState(t, lc, groupID, models.GroupOrphaned)
	if _, ok := lc.ActiveGroup("AAPL"); ok {
		t.Fatal("orphaned group should not remain active")
	}
}

func TestReconcileFailureUnblocksSubmissions(t *testing.T) {
	// A never-connected gateway fails every snapshot fetch, exhausting the
	// retry budget.
	gw := broker.NewGateway(testVenueConfig(), broker.NewPaperVenue(0), zerolog.Nop())
	lc := NewLifecycle(gw, nil, zerolog.Nop())
	lc.ReconcileRetry = utils.RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	lc.mu.Lock()
	lc.reconciling = true
	lc.reconcileGen++
	gen := lc.reconcileGen
	lc.mu.Unlock()

	lc.reconcileWithRetry(context.Background(), gen)

	lc.mu.Lock()
	reconciling := lc.reconciling
	lc.mu.Unlock()
	if reconciling {
		t.Fatal("submissions still blocked after reconcile retries were exhausted")
	}
	if _, err := lc.Submit(context.Background(), longPlan("AAPL")); errors.Is(err, errors.ErrReconcilePending) {
		t.Fatalf("Submit = %v, want anything but ErrReconcilePending", err)
	}
}

func TestReconcileFailureKeepsNewerCycleBlocked(t *testing.T) {
	gw := broker.NewGateway(testVenueConfig(), broker.NewPaperVenue(0), zerolog.Nop())
	lc := NewLifecycle(gw, nil, zerolog.Nop())
	lc.ReconcileRetry = utils.RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	}

	lc.mu.Lock()
	lc.reconciling = true
	lc.reconcileGen++
	staleGen := lc.reconcileGen
	lc.reconcileGen++ // a fresh reconnect cycle started meanwhile
	lc.mu.Unlock()

	lc.reconcileWithRetry(context.Background(), staleGen)

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.reconciling {
		t.Fatal("stale retry loop cleared the newer cycle's submission block")
	}
}
