// Package store persists trade plans, candles, and the engine's event
// journal.
package store

import (
	"context"
	"time"

	"bracket-trader/internal/models"
)

// PlanFilter narrows plan queries. Zero values mean "any".
type PlanFilter struct {
	Symbol string
	Status models.PlanStatus
	Limit  int
}

// EventFilter narrows journal queries. Zero values mean "any".
type EventFilter struct {
	Type      models.EventType
	Symbol    string
	GroupID   string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// JournalRecord is one persisted engine event, flattened for storage.
type JournalRecord struct {
	ID        int64
	Timestamp time.Time
	Type      models.EventType
	Symbol    string
	GroupID   string
	Leg       string
	FromState string
	ToState   string
	Message   string
}

// DataStore is the persistence surface the engine and CLI depend on.
type DataStore interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)

	SavePlan(ctx context.Context, plan *models.TradePlan, status models.PlanStatus) error
	GetPlans(ctx context.Context, filter PlanFilter) ([]models.TradePlan, error)
	LatestDraft(ctx context.Context, symbol string) (*models.TradePlan, error)
	UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error

	RecordEvent(ctx context.Context, ev models.Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]JournalRecord, error)

	Close() error
}
