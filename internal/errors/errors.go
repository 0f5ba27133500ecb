// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Input errors: rejected synchronously, never retried.
var (
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrInsufficientData       = errors.New("insufficient price data")
	ErrDegenerateMarketData   = errors.New("degenerate market data")
	ErrInsufficientRiskBudget = errors.New("risk budget too small for one unit")
)

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected to venue")
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthRejected     = errors.New("authentication rejected by venue")
	ErrAckTimeout       = errors.New("request acknowledgment timed out")
)

// Order errors: reported, require operator action.
var (
	ErrDuplicateActiveOrder = errors.New("active order group already exists for symbol")
	ErrOrderRejected        = errors.New("order rejected by venue")
	ErrOrphanedOrder        = errors.New("local order group has no venue counterpart")
	ErrGroupNotFound        = errors.New("order group not found")
	ErrReconcilePending     = errors.New("reconciliation pending for symbol")
)

// Scheduling errors: logged, the current tick is skipped.
var (
	ErrCalendarAnomaly = errors.New("calendar anomaly")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// PlanError wraps a planner failure with the inputs that caused it.
type PlanError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *PlanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plan %s: %s: %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("plan %s: %s", e.Symbol, e.Reason)
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

// NewPlanError creates a new PlanError.
func NewPlanError(symbol, reason string, err error) *PlanError {
	return &PlanError{Symbol: symbol, Reason: reason, Err: err}
}

// ConnError represents a venue connection failure. Fatal errors (auth
// rejection, account mismatch) must not be retried.
type ConnError struct {
	Fatal   bool
	Message string
	Err     error
}

func (e *ConnError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Err != nil {
		return fmt.Sprintf("connection error (%s): %s: %v", kind, e.Message, e.Err)
	}
	return fmt.Sprintf("connection error (%s): %s", kind, e.Message)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError creates a new ConnError.
func NewConnError(fatal bool, message string, err error) *ConnError {
	return &ConnError{Fatal: fatal, Message: message, Err: err}
}

// OrderError represents a failure tied to a specific order group or leg.
type OrderError struct {
	GroupID string
	Symbol  string
	OrderID int64
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [group %s, order %d] %s: %s: %v", e.GroupID, e.OrderID, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [group %s, order %d] %s: %s", e.GroupID, e.OrderID, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(groupID, symbol string, orderID int64, reason string, err error) *OrderError {
	return &OrderError{GroupID: groupID, Symbol: symbol, OrderID: orderID, Reason: reason, Err: err}
}
