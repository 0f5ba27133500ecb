package trading

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// newPropEngine is newTestEngine without the testing.T, for property bodies.
func newPropEngine() (*broker.PaperVenue, *broker.Gateway, *Lifecycle, func(), error) {
	venue := broker.NewPaperVenue(0)
	gw := broker.NewGateway(testVenueConfig(), venue, zerolog.Nop())
	lc := NewLifecycle(gw, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go lc.Run(ctx)
	cleanup := func() {
		cancel()
		gw.Disconnect()
	}
	if err := gw.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}
	return venue, gw, lc, cleanup, nil
}

func activeCount(lc *Lifecycle, symbol string) int {
	n := 0
	for _, g := range lc.Groups() {
		if g.Symbol == symbol && g.Active() {
			n++
		}
	}
	return n
}

func waitSymbolFree(lc *Lifecycle, symbol string) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if activeCount(lc, symbol) == 0 {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// Property: under any interleaving of submits and cancels across symbols, a
// symbol never carries more than one active group, duplicate submits are
// rejected, and cancel stays idempotent.
func TestProperty_SingleActiveGroupPerSymbol(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	parameters.Rng.Seed(3)

	symbols := []string{"AAPL", "MSFT"}

	properties := gopter.NewProperties(parameters)

	properties.Property("at most one active group per symbol", prop.ForAll(
		func(ops []int) bool {
			_, _, lc, cleanup, err := newPropEngine()
			if err != nil {
				return false
			}
			defer cleanup()
			ctx := context.Background()

			for _, op := range ops {
				symbol := symbols[(op/2)%len(symbols)]
				if op%2 == 0 {
					hadActive := activeCount(lc, symbol) > 0
					_, err := lc.Submit(ctx, longPlan(symbol))
					switch {
					case hadActive && !errors.Is(err, errors.ErrDuplicateActiveOrder):
						return false
					case !hadActive && err != nil:
						return false
					}
				} else {
					if err := lc.Cancel(ctx, symbol); err != nil {
						return false
					}
					// Idempotence: a repeat cancel is a no-op.
					if err := lc.Cancel(ctx, symbol); err != nil {
						return false
					}
					if activeCount(lc, symbol) > 0 && !waitSymbolFree(lc, symbol) {
						return false
					}
				}
				for _, s := range symbols {
					if activeCount(lc, s) > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

// Property: whichever child trades first, the group closes with exactly one
// child filled, the sibling cancelled, and nothing left on the venue's book.
func TestProperty_OneCancelsOther(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(4)

	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one child fills, the other cancels", prop.ForAll(
		func(long, stopFirst bool) bool {
			venue, _, lc, cleanup, err := newPropEngine()
			if err != nil {
				return false
			}
			defer cleanup()
			ctx := context.Background()

			plan := longPlan("AAPL")
			if !long {
				plan.Side = models.SideShort
				plan.Entry = 101.0
				plan.LimitPrice = 101.2
				plan.Stop = 105.0
				plan.Target = 93.0
			}
			groupID, err := lc.Submit(ctx, plan)
			if err != nil {
				return false
			}
			if !waitGroup(lc, groupID, models.GroupWorking) {
				return false
			}

			venue.Mark("AAPL", plan.LimitPrice)
			if !waitGroup(lc, groupID, models.GroupChildrenWorking) {
				return false
			}

			trigger := plan.Target
			if stopFirst {
				trigger = plan.Stop
			}
			venue.Mark("AAPL", trigger)
			if !waitGroup(lc, groupID, models.GroupClosed) {
				return false
			}

			var g models.BracketOrderGroup
			for _, grp := range lc.Groups() {
				if grp.GroupID == groupID {
					g = grp
				}
			}
			filled, cancelled := g.TargetLeg, g.StopLeg
			if stopFirst {
				filled, cancelled = g.StopLeg, g.TargetLeg
			}
			if filled.State != models.LegFilled || cancelled.State != models.LegCancelled {
				return false
			}

			deadline := time.Now().Add(2 * time.Second)
			for venue.OpenOrderCount() != 0 {
				if !time.Now().Before(deadline) {
					return false
				}
				time.Sleep(2 * time.Millisecond)
			}
			return true
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// waitGroup is waitGroupState without the testing.T.
func waitGroup(lc *Lifecycle, groupID string, want models.GroupState) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, g := range lc.Groups() {
			if g.GroupID == groupID && g.State == want {
				return true
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}
