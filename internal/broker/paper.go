package broker

import (
	"context"
	"fmt"
	"sync"

	"bracket-trader/internal/models"
)

// PaperVenue is an in-process execution venue for paper trading and tests.
// It speaks the same wire protocol as the live venue: it acks requests,
// holds bracket children inactive until the entry leg fills, and reports
// open-order and position snapshots. Fills are driven by Mark.
type PaperVenue struct {
	mu       sync.Mutex
	netLiq   float64
	account  string // when set, auth with any other account is rejected
	orders   map[int64]*paperOrder
	position map[string]*models.Position
	conn     *paperConn
	dropped  int // connections torn down via DropConnection
}

type paperOrder struct {
	req    Request
	active bool // children start inactive until the group's entry fills
}

// NewPaperVenue creates a paper venue with the given account equity.
func NewPaperVenue(netLiq float64) *PaperVenue {
	if netLiq <= 0 {
		netLiq = 1_000_000
	}
	return &PaperVenue{
		netLiq:   netLiq,
		orders:   make(map[int64]*paperOrder),
		position: make(map[string]*models.Position),
	}
}

// RequireAccount makes the venue reject handshakes for any other account.
func (v *PaperVenue) RequireAccount(account string) {
	v.mu.Lock()
	v.account = account
	v.mu.Unlock()
}

// Dial implements Dialer. The venue allows one session at a time; dialing
// replaces any previous session.
func (v *PaperVenue) Dial(_ context.Context, _ string) (Conn, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn != nil {
		v.conn.closeLocal()
	}
	v.conn = &paperConn{venue: v, events: make(chan *VenueEvent, 256)}
	return v.conn, nil
}

// DropConnection simulates a venue-side socket failure. Existing orders and
// positions survive, as they would at a real venue.
func (v *PaperVenue) DropConnection() {
	v.mu.Lock()
	conn := v.conn
	v.conn = nil
	v.dropped++
	v.mu.Unlock()
	if conn != nil {
		conn.closeLocal()
	}
}

// Dropped returns how many sessions were torn down via DropConnection.
func (v *PaperVenue) Dropped() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dropped
}

// SeedOrder installs a venue-side open order with no local counterpart,
// as left behind by a previous engine run.
func (v *PaperVenue) SeedOrder(req Request, active bool) {
	v.mu.Lock()
	v.orders[req.ID] = &paperOrder{req: req, active: active}
	v.mu.Unlock()
}

// OpenOrderCount returns the number of orders still open at the venue.
func (v *PaperVenue) OpenOrderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

// emit delivers an event to the current session, if any.
func (v *PaperVenue) emit(ev *VenueEvent) {
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	if conn != nil {
		conn.deliver(ev)
	}
}

// handle processes one inbound request. Called from paperConn.Send.
func (v *PaperVenue) handle(req *Request) {
	switch req.Kind {
	case ReqAuth:
		v.mu.Lock()
		reject := v.account != "" && req.Account != v.account
		v.mu.Unlock()
		if reject {
			v.emit(&VenueEvent{Kind: EvAuthReject, ReqID: req.ID, Message: fmt.Sprintf("unknown account %q", req.Account)})
			return
		}
		v.emit(&VenueEvent{Kind: EvHandshakeAck, ReqID: req.ID})

	case ReqHeartbeat:
		v.emit(&VenueEvent{Kind: EvAck, ReqID: req.ID})

	case ReqPlaceOrder:
		v.mu.Lock()
		// Bracket children rest until the entry fills; everything else is live.
		v.orders[req.ID] = &paperOrder{req: *req, active: req.LegKind != models.LegStop && req.LegKind != models.LegTarget}
		v.mu.Unlock()
		v.emit(&VenueEvent{Kind: EvAck, ReqID: req.ID, OrderID: req.ID})

	case ReqCancel:
		v.mu.Lock()
		_, ok := v.orders[req.OrderID]
		if ok {
			delete(v.orders, req.OrderID)
		}
		v.mu.Unlock()
		v.emit(&VenueEvent{Kind: EvAck, ReqID: req.ID, OrderID: req.OrderID})
		if ok {
			v.emit(&VenueEvent{Kind: EvCancelled, OrderID: req.OrderID})
		}

	case ReqOpenOrders:
		v.mu.Lock()
		orders := make([]OpenOrder, 0, len(v.orders))
		for id, o := range v.orders {
			status := "Working"
			if !o.active {
				status = "PreSubmitted"
			}
			orders = append(orders, OpenOrder{
				OrderID:  id,
				GroupID:  o.req.GroupID,
				Symbol:   o.req.Symbol,
				Side:     o.req.Side,
				LegKind:  o.req.LegKind,
				Quantity: o.req.Quantity,
				Price:    o.req.Price,
				Status:   status,
			})
		}
		v.mu.Unlock()
		v.emit(&VenueEvent{Kind: EvOpenOrders, ReqID: req.ID, Orders: orders})

	case ReqPositions:
		v.mu.Lock()
		positions := make([]models.Position, 0, len(v.position))
		for _, p := range v.position {
			positions = append(positions, *p)
		}
		v.mu.Unlock()
		v.emit(&VenueEvent{Kind: EvPositions, ReqID: req.ID, Positions: positions})

	case ReqAccount:
		v.mu.Lock()
		netLiq := v.netLiq
		v.mu.Unlock()
		v.emit(&VenueEvent{Kind: EvAccount, ReqID: req.ID, NetLiq: netLiq})
	}
}

// Mark publishes a trade price for a symbol and fills whatever that price
// triggers: active limit orders through their limit, stop orders through
// their stop. An entry fill activates the group's children.
func (v *PaperVenue) Mark(symbol string, price float64) {
	var fills []*VenueEvent

	v.mu.Lock()
	for id, o := range v.orders {
		if o.req.Symbol != symbol || !o.active {
			continue
		}
		if !triggered(&o.req, price) {
			continue
		}
		fills = append(fills, &VenueEvent{
			Kind:      EvFill,
			OrderID:   id,
			FillQty:   o.req.Quantity,
			FillPrice: price,
		})
		v.applyFillLocked(o, price)
		delete(v.orders, id)
		if o.req.LegKind == models.LegEntry {
			for _, sibling := range v.orders {
				if sibling.req.GroupID == o.req.GroupID {
					sibling.active = true
				}
			}
		}
	}
	v.mu.Unlock()

	for _, f := range fills {
		v.emit(f)
	}
}

// triggered reports whether a trade at price executes the order.
func triggered(req *Request, price float64) bool {
	buy := req.Side == "BUY"
	switch req.OrderType {
	case "MKT":
		return true
	case "LMT":
		if buy {
			return price <= req.Price
		}
		return price >= req.Price
	case "STP":
		if buy {
			return price >= req.Price
		}
		return price <= req.Price
	}
	return false
}

func (v *PaperVenue) applyFillLocked(o *paperOrder, price float64) {
	pos, ok := v.position[o.req.Symbol]
	if !ok {
		pos = &models.Position{Symbol: o.req.Symbol}
		v.position[o.req.Symbol] = pos
	}
	qty := o.req.Quantity
	if o.req.Side == "SELL" {
		qty = -qty
	}
	pos.Quantity += qty
	pos.AvgCost = price
	if pos.Quantity == 0 {
		delete(v.position, o.req.Symbol)
	}
}

// paperConn is the venue side of an in-process session.
type paperConn struct {
	venue  *PaperVenue
	events chan *VenueEvent

	mu     sync.Mutex
	closed bool
}

func (c *paperConn) Send(req *Request) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("paper venue: connection closed")
	}
	// Copy so the venue never aliases caller memory.
	r := *req
	c.venue.handle(&r)
	return nil
}

func (c *paperConn) Receive() (*VenueEvent, error) {
	ev, ok := <-c.events
	if !ok {
		return nil, fmt.Errorf("paper venue: connection closed")
	}
	return ev, nil
}

func (c *paperConn) deliver(ev *VenueEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *paperConn) closeLocal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *paperConn) Close() error {
	c.closeLocal()
	return nil
}
