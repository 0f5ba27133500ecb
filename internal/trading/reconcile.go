package trading

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/models"
)

// Reconcile cross-checks local group state against the venue's open-orders
// snapshot after a reconnect. The venue is authoritative: orders it knows
// and we don't are adopted, and legs we expected but the venue no longer
// lists are inferred to have filled or cancelled while we were away.
// Submissions stay blocked until reconciliation completes.
func (lc *Lifecycle) Reconcile(ctx context.Context) error {
	orders, err := lc.gw.OpenOrders(ctx)
	if err != nil {
		return err
	}
	lc.applySnapshot(orders)
	return nil
}

func (lc *Lifecycle) applySnapshot(orders []broker.OpenOrder) {
	lc.mu.Lock()

	byOrderID := make(map[int64]broker.OpenOrder, len(orders))
	byGroup := make(map[string][]broker.OpenOrder)
	for _, o := range orders {
		byOrderID[o.OrderID] = o
		if o.GroupID != "" {
			byGroup[o.GroupID] = append(byGroup[o.GroupID], o)
		}
	}

	var siblingCancels []int64

	// Adopt venue orders that belong to no local group.
	for _, o := range orders {
		if g, _ := lc.findLegLocked(o.OrderID); g != nil {
			continue
		}
		if o.GroupID != "" {
			if g, ok := lc.groups[o.GroupID]; ok {
				// Group known but this leg's id is new, e.g. a stop that
				// was replaced while we were disconnected.
				if leg := g.Leg(o.LegKind); leg != nil && !leg.State.Terminal() {
					leg.BrokerOrderID = o.OrderID
					leg.Price = o.Price
				}
				continue
			}
		}
		lc.adoptLocked(o, byGroup)
	}

	// Infer what happened to local legs the venue no longer lists.
	for _, g := range lc.groups {
		if g.State.Terminal() {
			continue
		}

		entryListed := listed(byOrderID, g.Entry.BrokerOrderID)
		stopListed := listed(byOrderID, g.StopLeg.BrokerOrderID)
		targetListed := listed(byOrderID, g.TargetLeg.BrokerOrderID)

		switch {
		case entryListed:
			// Entry still resting; nothing happened while away.
			delete(lc.missingSince, g.GroupID)

		case stopListed || targetListed:
			// Children on the book imply the entry filled.
			if !g.Entry.State.Terminal() {
				lc.setLegStateLocked(g, &g.Entry, models.LegFilled)
			}
			if g.State == models.GroupSubmitted || g.State == models.GroupWorking {
				lc.transitionLocked(g, models.GroupChildrenWorking)
			}
			delete(lc.missingSince, g.GroupID)

			// Exactly one child missing means it filled; cancel the survivor.
			if g.State == models.GroupChildrenWorking && stopListed != targetListed {
				filled, survivor := &g.StopLeg, &g.TargetLeg
				if stopListed {
					filled, survivor = &g.TargetLeg, &g.StopLeg
				}
				if !filled.State.Terminal() {
					lc.setLegStateLocked(g, filled, models.LegFilled)
				}
				if !survivor.State.Terminal() {
					siblingCancels = append(siblingCancels, survivor.BrokerOrderID)
				}
				lc.transitionLocked(g, models.GroupClosed)
			}

		default:
			// Whole group gone from the venue. Give in-flight events a grace
			// period before declaring it orphaned.
			if _, ok := lc.missingSince[g.GroupID]; !ok {
				lc.missingSince[g.GroupID] = lc.now()
				lc.scheduleOrphanCheckLocked(g.GroupID)
			} else if lc.now().Sub(lc.missingSince[g.GroupID]) >= lc.GracePeriod {
				lc.orphanLocked(g)
			}
		}
	}

	lc.reconciling = false
	lc.mu.Unlock()

	for _, orderID := range siblingCancels {
		if err := lc.gw.CancelOrder(orderID); err != nil {
			lc.log.Error().Err(err).Int64("order_id", orderID).Msg("reconcile sibling cancel failed")
		}
	}
}

func listed(byOrderID map[int64]broker.OpenOrder, id int64) bool {
	if id == 0 {
		return false
	}
	_, ok := byOrderID[id]
	return ok
}

// adoptLocked creates a recovered group for a venue order nobody tracks.
// All venue orders sharing its group id are folded into the same group.
func (lc *Lifecycle) adoptLocked(o broker.OpenOrder, byGroup map[string][]broker.OpenOrder) {
	groupID := o.GroupID
	members := []broker.OpenOrder{o}
	if groupID == "" {
		groupID = ulid.Make().String()
	} else {
		members = byGroup[groupID]
	}

	side := models.SideLong
	entryMember := members[0]
	for _, m := range members {
		if m.LegKind == models.LegEntry {
			entryMember = m
		}
	}
	if entryMember.LegKind == models.LegEntry && entryMember.Side == "SELL" ||
		entryMember.LegKind != models.LegEntry && entryMember.Side == "BUY" {
		side = models.SideShort
	}

	g := &models.BracketOrderGroup{
		GroupID:   groupID,
		Symbol:    o.Symbol,
		Side:      side,
		Quantity:  o.Quantity,
		State:     models.GroupWorking,
		Recovered: true,
		CreatedAt: lc.now(),
		UpdatedAt: lc.now(),
	}
	entrySeen := false
	for _, m := range members {
		leg := g.Leg(m.LegKind)
		if leg == nil {
			continue
		}
		leg.BrokerOrderID = m.OrderID
		leg.Price = m.Price
		leg.State = models.LegWorking
		if m.LegKind == models.LegEntry {
			entrySeen = true
		}
	}
	if !entrySeen {
		// Children on the book without an entry: the entry filled before we
		// started tracking.
		g.Entry.State = models.LegFilled
		g.State = models.GroupChildrenWorking
	}

	lc.groups[groupID] = g
	if _, taken := lc.activeBySym[g.Symbol]; !taken {
		lc.activeBySym[g.Symbol] = groupID
	}
	lc.log.Warn().
		Str("group_id", groupID).
		Str("symbol", g.Symbol).
		Int("legs", len(members)).
		Msg("adopted venue orders with no local record")
	lc.sink.Publish(models.Event{
		Type:      models.EventOrderStateChanged,
		Timestamp: lc.now(),
		GroupID:   groupID,
		Symbol:    g.Symbol,
		OrderChange: &models.OrderStateChange{
			GroupID: groupID,
			Symbol:  g.Symbol,
			From:    string(models.GroupDraft),
			To:      string(g.State),
			Group:   g.State,
		},
	})
}

// scheduleOrphanCheckLocked arms a one-shot recheck after the grace period.
// The recheck queries the venue again so a group that reappears is cleared.
func (lc *Lifecycle) scheduleOrphanCheckLocked(groupID string) {
	time.AfterFunc(lc.GracePeriod, func() {
		lc.mu.Lock()
		_, stillMissing := lc.missingSince[groupID]
		lc.mu.Unlock()
		if !stillMissing {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lc.Reconcile(ctx); err != nil {
			lc.log.Error().Err(err).Str("group_id", groupID).Msg("orphan recheck failed")
		}
	})
}

// orphanLocked marks a group the venue has forgotten. Orphaned groups need
// operator attention; they are never auto-resubmitted.
func (lc *Lifecycle) orphanLocked(g *models.BracketOrderGroup) {
	delete(lc.missingSince, g.GroupID)
	lc.transitionLocked(g, models.GroupOrphaned)
	lc.sink.Publish(models.Event{
		Type:         models.EventOrderError,
		Timestamp:    lc.now(),
		GroupID:      g.GroupID,
		Symbol:       g.Symbol,
		ErrorMessage: "group missing from venue after reconnect; marked orphaned",
	})
}
