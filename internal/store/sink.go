package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/models"
	"bracket-trader/pkg/utils"
)

// Journal adapts a DataStore to the engine's event sink. Journaling is
// best-effort: a write failure is logged, never propagated back into the
// trading path.
type Journal struct {
	store DataStore
	log   zerolog.Logger
}

// NewJournal creates a journaling sink over the store.
func NewJournal(store DataStore, log zerolog.Logger) *Journal {
	return &Journal{store: store, log: log.With().Str("component", "journal").Logger()}
}

// Publish records the event, retrying transient write failures (a
// concurrent reader can hold the database briefly).
func (j *Journal) Publish(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		return j.store.RecordEvent(ctx, ev)
	})
	if err != nil {
		j.log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to journal event")
	}
}
