package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
	"bracket-trader/pkg/utils"
)

// Lifecycle exclusively owns all bracket order group records. Every mutation
// happens inside its lock with short critical sections; network calls are
// never made while the lock is held by event application.
type Lifecycle struct {
	gw   *broker.Gateway
	log  zerolog.Logger
	sink EventSink

	mu           sync.Mutex
	groups       map[string]*models.BracketOrderGroup // by group id
	activeBySym  map[string]string                    // symbol -> active group id
	reconciling  bool
	reconcileGen int // bumped per reconnect cycle; stale retry loops check it

	// missingSince tracks local groups absent from the last venue snapshot,
	// pending the orphan grace period.
	missingSince map[string]time.Time

	// GracePeriod before a locally-known group missing from the venue
	// snapshot is marked orphaned.
	GracePeriod time.Duration

	// ReconcileRetry governs post-reconnect snapshot fetch retries.
	ReconcileRetry utils.RetryConfig

	now func() time.Time
}

// NewLifecycle creates a lifecycle manager on top of the gateway.
func NewLifecycle(gw *broker.Gateway, sink EventSink, log zerolog.Logger) *Lifecycle {
	if sink == nil {
		sink = NopSink{}
	}
	return &Lifecycle{
		gw:           gw,
		log:          log.With().Str("component", "lifecycle").Logger(),
		sink:         sink,
		groups:       make(map[string]*models.BracketOrderGroup),
		activeBySym:  make(map[string]string),
		missingSince: make(map[string]time.Time),
		GracePeriod:  30 * time.Second,
		ReconcileRetry: utils.RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		},
		now: time.Now,
	}
}

// Run consumes gateway notices until the context is cancelled. It applies
// venue events in arrival order and triggers reconciliation whenever the
// connection recovers from a reconnect.
func (lc *Lifecycle) Run(ctx context.Context) {
	notices := lc.gw.Subscribe("lifecycle", 256)
	defer lc.gw.Unsubscribe("lifecycle")

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Conn != nil {
				lc.handleConnChange(ctx, n.Conn)
			}
			if n.Venue != nil {
				lc.applyVenueEvent(n.Venue)
			}
		}
	}
}

func (lc *Lifecycle) handleConnChange(ctx context.Context, chg *models.ConnStateChange) {
	lc.sink.Publish(models.Event{
		Type:       models.EventConnStateChanged,
		Timestamp:  lc.now(),
		ConnChange: chg,
	})

	switch {
	case chg.To == models.ConnReconnecting:
		lc.mu.Lock()
		lc.reconciling = true
		lc.reconcileGen++
		lc.mu.Unlock()
	case chg.From == models.ConnReconnecting && chg.To == models.ConnConnected:
		lc.mu.Lock()
		gen := lc.reconcileGen
		lc.mu.Unlock()
		go lc.reconcileWithRetry(ctx, gen)
	}
}

// reconcileWithRetry drives post-reconnect reconciliation, retrying transient
// snapshot failures with backoff. When every attempt fails the submission
// block is lifted and the failure surfaced: the venue stays authoritative
// and the next snapshot or reconnect converges state, but a single bad
// fetch must not refuse submissions until the next disconnect.
func (lc *Lifecycle) reconcileWithRetry(ctx context.Context, gen int) {
	err := utils.Retry(ctx, lc.ReconcileRetry, func() error {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return lc.Reconcile(rctx)
	})
	if err == nil {
		return
	}
	lc.log.Error().Err(err).Msg("reconciliation failed after retries")

	lc.mu.Lock()
	if lc.reconcileGen == gen && lc.reconciling {
		lc.reconciling = false
	}
	lc.mu.Unlock()

	lc.sink.Publish(models.Event{
		Type:         models.EventOrderError,
		Timestamp:    lc.now(),
		ErrorMessage: fmt.Sprintf("reconciliation failed after retries: %v", err),
	})
}

// Groups returns copies of all tracked groups.
func (lc *Lifecycle) Groups() []models.BracketOrderGroup {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	out := make([]models.BracketOrderGroup, 0, len(lc.groups))
	for _, g := range lc.groups {
		out = append(out, *g)
	}
	return out
}

// ActiveGroup returns a copy of the active group for the symbol, if any.
func (lc *Lifecycle) ActiveGroup(symbol string) (models.BracketOrderGroup, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	id, ok := lc.activeBySym[symbol]
	if !ok {
		return models.BracketOrderGroup{}, false
	}
	return *lc.groups[id], true
}

// wireSides returns the entry and exit wire sides for a plan direction.
func wireSides(side models.Side) (entry, exit string) {
	if side == models.SideShort {
		return "SELL", "BUY"
	}
	return "BUY", "SELL"
}

// Submit places the three correlated legs of the plan's bracket and starts
// tracking the group. It fails when an active group already exists for the
// symbol or while reconciliation for the venue is still pending.
func (lc *Lifecycle) Submit(ctx context.Context, plan *models.TradePlan) (string, error) {
	if err := plan.Validate(); err != nil {
		return "", errors.NewPlanError(plan.Symbol, "invalid plan", err)
	}
	if plan.Quantity <= 0 {
		return "", errors.NewPlanError(plan.Symbol, "plan has zero quantity", errors.ErrInsufficientRiskBudget)
	}

	lc.mu.Lock()
	if lc.reconciling {
		lc.mu.Unlock()
		return "", errors.ErrReconcilePending
	}
	if id, ok := lc.activeBySym[plan.Symbol]; ok {
		lc.mu.Unlock()
		return "", errors.NewOrderError(id, plan.Symbol, 0, "symbol already has an active group", errors.ErrDuplicateActiveOrder)
	}

	group := &models.BracketOrderGroup{
		GroupID:   ulid.Make().String(),
		Symbol:    plan.Symbol,
		Side:      plan.Side,
		Quantity:  plan.Quantity,
		State:     models.GroupDraft,
		Entry:     models.Leg{Kind: models.LegEntry, Price: plan.LimitPrice, State: models.LegPending},
		StopLeg:   models.Leg{Kind: models.LegStop, Price: plan.Stop, State: models.LegPending},
		TargetLeg: models.Leg{Kind: models.LegTarget, Price: plan.Target, State: models.LegPending},
		PlanID:    plan.ID,
		CreatedAt: lc.now(),
		UpdatedAt: lc.now(),
	}
	// Reserve the symbol before releasing the lock so concurrent submits
	// observe the duplicate.
	lc.groups[group.GroupID] = group
	lc.activeBySym[plan.Symbol] = group.GroupID
	lc.mu.Unlock()

	entrySide, exitSide := wireSides(plan.Side)
	legs := []struct {
		kind      models.LegKind
		side      string
		orderType string
		price     float64
	}{
		{models.LegEntry, entrySide, "LMT", plan.LimitPrice},
		{models.LegStop, exitSide, "STP", plan.Stop},
		{models.LegTarget, exitSide, "LMT", plan.Target},
	}

	var placed []int64
	for _, l := range legs {
		orderID, err := lc.gw.PlaceOrder(&broker.Request{
			GroupID:   group.GroupID,
			Symbol:    plan.Symbol,
			Side:      l.side,
			LegKind:   l.kind,
			OrderType: l.orderType,
			Quantity:  plan.Quantity,
			Price:     l.price,
		})
		if err != nil {
			// Roll back: best-effort cancel of anything already on the wire.
			for _, id := range placed {
				if cerr := lc.gw.CancelOrder(id); cerr != nil {
					lc.log.Warn().Err(cerr).Int64("order_id", id).Msg("rollback cancel failed")
				}
			}
			lc.mu.Lock()
			lc.transitionLocked(group, models.GroupCancelled)
			delete(lc.activeBySym, plan.Symbol)
			lc.mu.Unlock()
			return "", errors.NewOrderError(group.GroupID, plan.Symbol, 0, "placing bracket leg", err)
		}
		placed = append(placed, orderID)

		lc.mu.Lock()
		leg := group.Leg(l.kind)
		leg.BrokerOrderID = orderID
		lc.setLegStateLocked(group, leg, models.LegSubmitted)
		lc.mu.Unlock()
	}

	lc.mu.Lock()
	lc.transitionLocked(group, models.GroupSubmitted)
	lc.mu.Unlock()

	lc.log.Info().
		Str("group_id", group.GroupID).
		Str("symbol", plan.Symbol).
		Str("side", string(plan.Side)).
		Int("quantity", plan.Quantity).
		Msg("bracket submitted")
	return group.GroupID, nil
}

// Cancel cancels all non-terminal legs of the symbol's active group. It is
// idempotent: with no active group it does nothing and returns nil.
func (lc *Lifecycle) Cancel(ctx context.Context, symbol string) error {
	lc.mu.Lock()
	id, ok := lc.activeBySym[symbol]
	if !ok {
		lc.mu.Unlock()
		return nil
	}
	group := lc.groups[id]
	var orderIDs []int64
	for _, leg := range group.OpenLegs() {
		orderIDs = append(orderIDs, leg.BrokerOrderID)
	}
	lc.mu.Unlock()

	for _, orderID := range orderIDs {
		if err := lc.gw.CancelOrder(orderID); err != nil {
			return errors.NewOrderError(id, symbol, orderID, "requesting cancel", err)
		}
	}
	lc.log.Info().Str("group_id", id).Str("symbol", symbol).Int("legs", len(orderIDs)).Msg("cancel requested")
	return nil
}

// CancelAll cancels every tracked symbol's active group.
func (lc *Lifecycle) CancelAll(ctx context.Context) error {
	lc.mu.Lock()
	symbols := make([]string, 0, len(lc.activeBySym))
	for sym := range lc.activeBySym {
		symbols = append(symbols, sym)
	}
	lc.mu.Unlock()

	var firstErr error
	for _, sym := range symbols {
		if err := lc.Cancel(ctx, sym); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MoveStop replaces the group's stop child at a new level: the old stop is
// cancelled and a fresh stop order placed. Only valid while both children
// are working.
func (lc *Lifecycle) MoveStop(ctx context.Context, groupID string, newStop float64) error {
	lc.mu.Lock()
	group, ok := lc.groups[groupID]
	if !ok {
		lc.mu.Unlock()
		return errors.ErrGroupNotFound
	}
	if group.State != models.GroupChildrenWorking {
		lc.mu.Unlock()
		return errors.NewOrderError(groupID, group.Symbol, 0,
			fmt.Sprintf("cannot move stop in state %s", group.State), nil)
	}
	oldOrderID := group.StopLeg.BrokerOrderID
	symbol := group.Symbol
	side := group.Side
	qty := group.Quantity
	lc.mu.Unlock()

	_, exitSide := wireSides(side)
	newOrderID, err := lc.gw.PlaceOrder(&broker.Request{
		GroupID:   groupID,
		Symbol:    symbol,
		Side:      exitSide,
		LegKind:   models.LegStop,
		OrderType: "STP",
		Quantity:  qty,
		Price:     newStop,
	})
	if err != nil {
		return errors.NewOrderError(groupID, symbol, 0, "placing replacement stop", err)
	}
	if err := lc.gw.CancelOrder(oldOrderID); err != nil {
		return errors.NewOrderError(groupID, symbol, oldOrderID, "cancelling old stop", err)
	}

	lc.mu.Lock()
	if g, ok := lc.groups[groupID]; ok && g.State == models.GroupChildrenWorking {
		g.StopLeg.BrokerOrderID = newOrderID
		g.StopLeg.Price = newStop
		g.StopLeg.State = models.LegSubmitted
		g.UpdatedAt = lc.now()
	}
	lc.mu.Unlock()

	lc.log.Info().Str("group_id", groupID).Float64("stop", newStop).Msg("stop moved")
	return nil
}

// Execute runs a management rule command.
func (lc *Lifecycle) Execute(ctx context.Context, cmd *Command) error {
	switch cmd.Kind {
	case CmdCancelGroup:
		return lc.Cancel(ctx, cmd.Symbol)
	case CmdMoveStop:
		return lc.MoveStop(ctx, cmd.GroupID, cmd.Price)
	}
	return fmt.Errorf("unknown command kind %q", cmd.Kind)
}

// applyVenueEvent folds one venue event into local state. Events are applied
// strictly in arrival order; when both children report fills in the same
// batch, the first processed closes the group and the later fill is logged
// and ignored.
func (lc *Lifecycle) applyVenueEvent(ev *broker.VenueEvent) {
	if ev.OrderID == 0 {
		return
	}

	lc.mu.Lock()
	group, leg := lc.findLegLocked(ev.OrderID)
	if group == nil {
		lc.mu.Unlock()
		lc.log.Debug().Int64("order_id", ev.OrderID).Str("kind", string(ev.Kind)).
			Msg("event for unknown order")
		return
	}

	var cancelSibling int64
	switch ev.Kind {
	case broker.EvAck:
		if leg.State == models.LegSubmitted {
			lc.setLegStateLocked(group, leg, models.LegWorking)
			if leg.Kind == models.LegEntry && group.State == models.GroupSubmitted {
				lc.transitionLocked(group, models.GroupWorking)
			}
		}

	case broker.EvFill:
		if leg.State.Terminal() {
			lc.log.Warn().Int64("order_id", ev.OrderID).Str("state", string(leg.State)).
				Msg("fill for terminal leg ignored")
			break
		}
		leg.FilledQty += ev.FillQty
		lc.setLegStateLocked(group, leg, models.LegFilled)

		switch leg.Kind {
		case models.LegEntry:
			if group.State == models.GroupWorking || group.State == models.GroupSubmitted {
				lc.transitionLocked(group, models.GroupChildrenWorking)
			}
		case models.LegStop, models.LegTarget:
			if group.State == models.GroupChildrenWorking {
				sibling := group.Sibling(leg.Kind)
				if !sibling.State.Terminal() {
					cancelSibling = sibling.BrokerOrderID
				}
				lc.transitionLocked(group, models.GroupClosed)
			} else {
				lc.log.Warn().Str("group_id", group.GroupID).Str("state", string(group.State)).
					Msg("child fill in unexpected group state")
			}
		}

	case broker.EvCancelled:
		if !leg.State.Terminal() {
			lc.setLegStateLocked(group, leg, models.LegCancelled)
		}
		switch {
		case leg.Kind == models.LegEntry && !group.State.Terminal():
			lc.transitionLocked(group, models.GroupCancelled)
		case group.State == models.GroupChildrenWorking &&
			group.StopLeg.State.Terminal() && group.TargetLeg.State.Terminal():
			// Both children done after the entry filled: nothing left to
			// manage, the remaining position belongs to the operator.
			lc.transitionLocked(group, models.GroupClosed)
		}

	case broker.EvRejected:
		if !leg.State.Terminal() {
			lc.setLegStateLocked(group, leg, models.LegRejected)
		}
		if !group.State.Terminal() {
			lc.transitionLocked(group, models.GroupRejected)
		}
		lc.sink.Publish(models.Event{
			Type:         models.EventOrderError,
			Timestamp:    lc.now(),
			GroupID:      group.GroupID,
			Symbol:       group.Symbol,
			ErrorMessage: fmt.Sprintf("leg %s rejected: %s", leg.Kind, ev.Message),
		})
	}
	lc.mu.Unlock()

	// One-cancels-other: the sibling cancel goes out after the lock is
	// released; the venue's cancelled event completes the bookkeeping.
	if cancelSibling != 0 {
		if err := lc.gw.CancelOrder(cancelSibling); err != nil {
			lc.log.Error().Err(err).Int64("order_id", cancelSibling).Msg("OCO sibling cancel failed")
		}
	}
}

// findLegLocked locates the group and leg owning a broker order id.
func (lc *Lifecycle) findLegLocked(orderID int64) (*models.BracketOrderGroup, *models.Leg) {
	for _, g := range lc.groups {
		if leg := g.LegByOrderID(orderID); leg != nil {
			return g, leg
		}
	}
	return nil, nil
}

// setLegStateLocked updates a leg state and publishes the change.
func (lc *Lifecycle) setLegStateLocked(group *models.BracketOrderGroup, leg *models.Leg, to models.LegState) {
	from := leg.State
	if from == to {
		return
	}
	leg.State = to
	group.UpdatedAt = lc.now()
	lc.sink.Publish(models.Event{
		Type:      models.EventOrderStateChanged,
		Timestamp: lc.now(),
		GroupID:   group.GroupID,
		Symbol:    group.Symbol,
		OrderChange: &models.OrderStateChange{
			GroupID: group.GroupID,
			Symbol:  group.Symbol,
			Leg:     leg.Kind,
			From:    string(from),
			To:      string(to),
			Group:   group.State,
		},
	})
}

// transitionLocked moves the group to a new state, maintains the per-symbol
// active index, and publishes the change.
func (lc *Lifecycle) transitionLocked(group *models.BracketOrderGroup, to models.GroupState) {
	from := group.State
	if from == to {
		return
	}
	group.State = to
	group.UpdatedAt = lc.now()
	if to.Terminal() {
		if id, ok := lc.activeBySym[group.Symbol]; ok && id == group.GroupID {
			delete(lc.activeBySym, group.Symbol)
		}
		delete(lc.missingSince, group.GroupID)
	}
	lc.log.Info().
		Str("group_id", group.GroupID).
		Str("symbol", group.Symbol).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("group state changed")
	lc.sink.Publish(models.Event{
		Type:      models.EventOrderStateChanged,
		Timestamp: lc.now(),
		GroupID:   group.GroupID,
		Symbol:    group.Symbol,
		OrderChange: &models.OrderStateChange{
			GroupID: group.GroupID,
			Symbol:  group.Symbol,
			From:    string(from),
			To:      string(to),
			Group:   to,
		},
	})
}
