package models

import (
	"time"
)

// LegKind identifies one of the three legs of a bracket order group. The set
// is closed; every switch over LegKind handles all three.
type LegKind string

const (
	LegEntry  LegKind = "ENTRY"
	LegStop   LegKind = "STOP"
	LegTarget LegKind = "TARGET"
)

// LegKinds lists all leg kinds in submission order.
var LegKinds = []LegKind{LegEntry, LegStop, LegTarget}

// LegState represents the venue-facing state of a single leg.
type LegState string

const (
	LegPending   LegState = "PENDING"   // created locally, not yet sent
	LegSubmitted LegState = "SUBMITTED" // sent, awaiting ack
	LegWorking   LegState = "WORKING"   // acked and live at the venue
	LegFilled    LegState = "FILLED"
	LegCancelled LegState = "CANCELLED"
	LegRejected  LegState = "REJECTED"
)

// Terminal reports whether the leg can no longer change state.
func (s LegState) Terminal() bool {
	switch s {
	case LegFilled, LegCancelled, LegRejected:
		return true
	}
	return false
}

// Leg is one order of a bracket group.
type Leg struct {
	Kind          LegKind
	BrokerOrderID int64 // zero until submitted
	Price         float64
	State         LegState
	FilledQty     int
}

// GroupState represents the lifecycle state of a bracket order group.
type GroupState string

const (
	GroupDraft           GroupState = "DRAFT"
	GroupSubmitted       GroupState = "SUBMITTED"
	GroupWorking         GroupState = "WORKING"          // entry acked, awaiting fill
	GroupChildrenWorking GroupState = "CHILDREN_WORKING" // entry filled, stop+target live
	GroupClosed          GroupState = "CLOSED"           // one child filled, sibling cancelled
	GroupCancelled       GroupState = "CANCELLED"
	GroupRejected        GroupState = "REJECTED"
	GroupOrphaned        GroupState = "ORPHANED" // local record with no venue counterpart
)

// Terminal reports whether the group has reached a final state.
func (s GroupState) Terminal() bool {
	switch s {
	case GroupClosed, GroupCancelled, GroupRejected, GroupOrphaned:
		return true
	}
	return false
}

// BracketOrderGroup tracks one bracket (entry + stop child + target child) for
// a symbol. At most one non-terminal group exists per symbol at any time.
type BracketOrderGroup struct {
	GroupID   string
	Symbol    string
	Side      Side
	Quantity  int
	State     GroupState
	Entry     Leg
	StopLeg   Leg
	TargetLeg Leg
	PlanID    string
	Recovered bool // adopted from a venue snapshot rather than submitted locally
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the group still requires supervision.
func (g *BracketOrderGroup) Active() bool {
	return !g.State.Terminal()
}

// Leg returns a pointer to the leg of the given kind.
func (g *BracketOrderGroup) Leg(kind LegKind) *Leg {
	switch kind {
	case LegEntry:
		return &g.Entry
	case LegStop:
		return &g.StopLeg
	case LegTarget:
		return &g.TargetLeg
	}
	return nil
}

// LegByOrderID returns the leg holding the given broker order id, or nil.
func (g *BracketOrderGroup) LegByOrderID(orderID int64) *Leg {
	for _, kind := range LegKinds {
		if l := g.Leg(kind); l.BrokerOrderID == orderID && orderID != 0 {
			return l
		}
	}
	return nil
}

// Sibling returns the other child leg for a filled child, or nil for the
// entry leg.
func (g *BracketOrderGroup) Sibling(kind LegKind) *Leg {
	switch kind {
	case LegStop:
		return &g.TargetLeg
	case LegTarget:
		return &g.StopLeg
	}
	return nil
}

// OpenLegs returns the legs that are live or pending at the venue.
func (g *BracketOrderGroup) OpenLegs() []*Leg {
	var open []*Leg
	for _, kind := range LegKinds {
		if l := g.Leg(kind); !l.State.Terminal() && l.State != LegPending {
			open = append(open, l)
		}
	}
	return open
}
