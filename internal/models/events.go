package models

import (
	"time"
)

// ConnState represents the state of the single venue connection.
type ConnState string

const (
	ConnDisconnected ConnState = "DISCONNECTED"
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
	ConnReconnecting ConnState = "RECONNECTING"
	ConnFailed       ConnState = "FAILED"
)

// EventType identifies an engine event consumed by journal/UI collaborators.
type EventType string

const (
	EventTradePlanProposed EventType = "TRADE_PLAN_PROPOSED"
	EventOrderStateChanged EventType = "ORDER_STATE_CHANGED"
	EventConnStateChanged  EventType = "CONN_STATE_CHANGED"
	EventJanitorAction     EventType = "JANITOR_ACTION"
	EventOrderError        EventType = "ORDER_ERROR"
)

// Event is the union of everything the engine publishes. Type selects which
// payload pointer is set.
type Event struct {
	Type      EventType
	Timestamp time.Time

	Plan         *TradePlan
	OrderChange  *OrderStateChange
	ConnChange   *ConnStateChange
	Janitor      *JanitorAction
	ErrorMessage string
	GroupID      string
	Symbol       string
}

// OrderStateChange records a group or leg transition.
type OrderStateChange struct {
	GroupID string
	Symbol  string
	Leg     LegKind    // empty for group-level transitions
	From    string     // LegState or GroupState value
	To      string
	Group   GroupState // group state after the transition
}

// ConnStateChange records a connection state transition.
type ConnStateChange struct {
	From ConnState
	To   ConnState
}

// JanitorAction records a close-out sweep performed by the janitor.
type JanitorAction struct {
	Session       string // session date, YYYY-MM-DD in market time
	LegsCancelled int
	Flattened     int
}
