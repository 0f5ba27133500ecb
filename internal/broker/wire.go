// Package broker owns the single connection to the order execution venue:
// dialing, handshake, request dispatch, event delivery, and automatic
// reconnection with exponential backoff.
package broker

import (
	"bracket-trader/internal/models"
)

// RequestKind identifies an outbound wire request.
type RequestKind string

const (
	ReqAuth       RequestKind = "AUTH"
	ReqPlaceOrder RequestKind = "PLACE_ORDER"
	ReqCancel     RequestKind = "CANCEL_ORDER"
	ReqOpenOrders RequestKind = "OPEN_ORDERS"
	ReqPositions  RequestKind = "POSITIONS"
	ReqAccount    RequestKind = "ACCOUNT_SUMMARY"
	ReqHeartbeat  RequestKind = "HEARTBEAT"
)

// Request is one outbound message to the venue. Every request carries an id
// from a single strictly increasing sequence; the venue correlates
// asynchronous responses by this id.
type Request struct {
	ID      int64       `json:"id"`
	Kind    RequestKind `json:"kind"`
	Account string      `json:"account,omitempty"`

	// PLACE_ORDER fields. For bracket legs the venue links the three orders
	// through the shared group id; the request id doubles as the broker
	// order id for the placed leg.
	GroupID   string         `json:"group_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Side      string         `json:"side,omitempty"` // BUY or SELL
	LegKind   models.LegKind `json:"leg_kind,omitempty"`
	OrderType string         `json:"order_type,omitempty"` // LMT or STP
	Quantity  int            `json:"quantity,omitempty"`
	Price     float64        `json:"price,omitempty"`

	// CANCEL_ORDER field.
	OrderID int64 `json:"order_id,omitempty"`
}

// EventKind identifies an inbound venue event.
type EventKind string

const (
	EvHandshakeAck EventKind = "HANDSHAKE_ACK"
	EvAuthReject   EventKind = "AUTH_REJECT"
	EvAck          EventKind = "ACK"
	EvFill         EventKind = "FILL"
	EvCancelled    EventKind = "CANCELLED"
	EvRejected     EventKind = "REJECTED"
	EvOpenOrders   EventKind = "OPEN_ORDERS"
	EvPositions    EventKind = "POSITIONS"
	EvAccount      EventKind = "ACCOUNT_SUMMARY"
	EvError        EventKind = "ERROR"
)

// OpenOrder is one row of a venue open-orders snapshot.
type OpenOrder struct {
	OrderID  int64          `json:"order_id"`
	GroupID  string         `json:"group_id"`
	Symbol   string         `json:"symbol"`
	Side     string         `json:"side"`
	LegKind  models.LegKind `json:"leg_kind"`
	Quantity int            `json:"quantity"`
	Price    float64        `json:"price"`
	Status   string         `json:"status"`
}

// VenueEvent is one inbound message from the venue. ReqID correlates
// responses to requests; OrderID ties fills/cancels/rejections to the order
// they pertain to. Events for the same order arrive in order; no ordering is
// guaranteed across different orders.
type VenueEvent struct {
	Kind    EventKind `json:"kind"`
	ReqID   int64     `json:"req_id,omitempty"`
	OrderID int64     `json:"order_id,omitempty"`

	// FILL fields.
	FillQty   int     `json:"fill_qty,omitempty"`
	FillPrice float64 `json:"fill_price,omitempty"`

	// Snapshot payloads.
	Orders    []OpenOrder       `json:"orders,omitempty"`
	Positions []models.Position `json:"positions,omitempty"`
	NetLiq    float64           `json:"net_liq,omitempty"`

	// REJECTED / ERROR fields.
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}
