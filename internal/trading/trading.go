// Package trading manages the lifecycle of bracket order groups: submission,
// cancellation, fills and one-cancels-other handling, reconciliation after
// reconnects, scheduled close-out, and ongoing position management.
package trading

import (
	"time"

	"bracket-trader/internal/models"
)

// EventSink consumes engine events (journal and UI collaborators).
type EventSink interface {
	Publish(ev models.Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(models.Event) {}

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ev models.Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// Calendar supplies trading-session times for the traded market. The
// engine treats it as an external collaborator.
type Calendar interface {
	IsTradingDay(t time.Time) bool
	SessionOpen(t time.Time) time.Time
	SessionClose(t time.Time) time.Time
	SessionDate(t time.Time) string
}

// Snapshot is what management rules see on each tick: the current groups,
// venue positions, and last known marks. Rules must not mutate it.
type Snapshot struct {
	At        time.Time
	Groups    []models.BracketOrderGroup
	Positions []models.Position
	Marks     map[string]float64
}

// Mark returns the last known mark price for a symbol.
func (s *Snapshot) Mark(symbol string) (float64, bool) {
	price, ok := s.Marks[symbol]
	return price, ok
}

// CommandKind identifies a command a management rule may issue.
type CommandKind string

const (
	CmdCancelGroup CommandKind = "CANCEL_GROUP"
	CmdMoveStop    CommandKind = "MOVE_STOP"
)

// Command is an instruction from a management rule, executed through the
// lifecycle manager. Rules never mutate order state directly.
type Command struct {
	Kind    CommandKind
	Symbol  string
	GroupID string
	Price   float64 // MOVE_STOP: the new stop level
	Reason  string
}

// ManagementRule is a stateless policy evaluated against each group on every
// manager tick. It returns nil when no action is needed.
type ManagementRule interface {
	Name() string
	Evaluate(group *models.BracketOrderGroup, snap *Snapshot) *Command
}
