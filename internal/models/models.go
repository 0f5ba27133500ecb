// Package models provides domain models for the trade plan and order
// lifecycle engine.
package models

import (
	"fmt"
	"time"
)

// Side represents the direction of a trade plan.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the exit direction for a position opened on this side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Candle represents OHLCV data for a single bar period. Sequences of candles
// are ordered ascending by timestamp with no duplicate timestamps.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// TradePlan is an immutable description of a proposed bracket trade. A plan
// is produced by the planner, reviewed by the operator, and only then handed
// to the lifecycle manager for submission.
type TradePlan struct {
	ID         string
	Symbol     string
	Side       Side
	Entry      float64 // computed entry level
	LimitPrice float64 // limit offered to the venue, beyond entry by the limit offset
	Stop       float64
	Target     float64
	Quantity   int
	RiskAmount float64 // account currency at risk if the stop is hit
	ATR        float64
	SwingRef   float64 // swing high/low the entry was derived from
	NetLiq     float64 // account equity the sizing was based on
	CreatedAt  time.Time
}

// RiskPerShare returns the per-unit distance between entry and stop.
func (p *TradePlan) RiskPerShare() float64 {
	if p.Side == SideShort {
		return p.Stop - p.Entry
	}
	return p.Entry - p.Stop
}

// Expired reports whether a draft has outlived ttl. A zero or negative ttl
// means drafts never age out.
func (p *TradePlan) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(p.CreatedAt) >= ttl
}

// Validate checks the price-level invariants for the plan's side and that the
// sized position does not exceed the plan's risk budget.
func (p *TradePlan) Validate() error {
	switch p.Side {
	case SideLong:
		if !(p.Stop < p.Entry && p.Entry < p.Target) {
			return fmt.Errorf("long plan requires stop (%.2f) < entry (%.2f) < target (%.2f)", p.Stop, p.Entry, p.Target)
		}
	case SideShort:
		if !(p.Target < p.Entry && p.Entry < p.Stop) {
			return fmt.Errorf("short plan requires target (%.2f) < entry (%.2f) < stop (%.2f)", p.Target, p.Entry, p.Stop)
		}
	default:
		return fmt.Errorf("invalid side: %q", p.Side)
	}
	rps := p.RiskPerShare()
	if rps <= 0 {
		return fmt.Errorf("risk per share must be positive, got %.4f", rps)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("quantity must be non-negative, got %d", p.Quantity)
	}
	// Allow a small epsilon for float rounding on the budget check.
	if float64(p.Quantity)*rps > p.RiskAmount*(1+1e-9) {
		return fmt.Errorf("position risk %.2f exceeds risk budget %.2f", float64(p.Quantity)*rps, p.RiskAmount)
	}
	return nil
}

// PlanStatus tracks a saved plan through review and submission.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "DRAFT"
	PlanPlaced    PlanStatus = "PLACED"
	PlanCancelled PlanStatus = "CANCELLED"
	PlanExpired   PlanStatus = "EXPIRED"
)

// Position represents a venue-reported open position.
type Position struct {
	Symbol   string
	Quantity int // signed: negative for short
	AvgCost  float64
	Mark     float64 // last known mark price, zero when unavailable
}
