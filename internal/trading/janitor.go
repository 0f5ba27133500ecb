package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/config"
	"bracket-trader/internal/models"
)

// Janitor closes out the book ahead of the session close: it cancels every
// open bracket leg and, when configured, flattens any filled position with a
// market order. Each session is swept at most once.
type Janitor struct {
	cfg  config.JanitorConfig
	lc   *Lifecycle
	gw   *broker.Gateway
	cal  Calendar
	sink EventSink
	log  zerolog.Logger

	lastSession string
	now         func() time.Time
}

// NewJanitor creates a janitor with the given session calendar.
func NewJanitor(cfg config.JanitorConfig, lc *Lifecycle, gw *broker.Gateway, cal Calendar, sink EventSink, log zerolog.Logger) *Janitor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Janitor{
		cfg:  cfg,
		lc:   lc,
		gw:   gw,
		cal:  cal,
		sink: sink,
		log:  log.With().Str("component", "janitor").Logger(),
		now:  time.Now,
	}
}

// Run ticks until the context is cancelled. Stop takes effect at the next
// tick boundary.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Tick(ctx); err != nil {
				j.log.Error().Err(err).Msg("close-out sweep failed")
			}
		}
	}
}

// Tick evaluates one clock reading and sweeps when inside the close-out
// window. Outside the window, on non-session days, and on repeat ticks
// within an already-swept session it does nothing.
func (j *Janitor) Tick(ctx context.Context) error {
	now := j.now()
	if !j.cal.IsTradingDay(now) {
		return nil
	}
	session := j.cal.SessionDate(now)
	if session == j.lastSession {
		return nil
	}
	closeAt := j.cal.SessionClose(now)
	windowStart := closeAt.Add(-time.Duration(j.cfg.LeadMinutes) * time.Minute)
	if now.Before(windowStart) || !now.Before(closeAt) {
		return nil
	}

	legsCancelled, flattened, err := j.sweep(ctx)
	if err != nil {
		return err
	}
	j.lastSession = session

	j.log.Info().
		Str("session", session).
		Int("legs_cancelled", legsCancelled).
		Int("flattened", flattened).
		Msg("session close-out complete")
	j.sink.Publish(models.Event{
		Type:      models.EventJanitorAction,
		Timestamp: now,
		Janitor: &models.JanitorAction{
			Session:       session,
			LegsCancelled: legsCancelled,
			Flattened:     flattened,
		},
	})
	return nil
}

func (j *Janitor) sweep(ctx context.Context) (legsCancelled, flattened int, err error) {
	for _, g := range j.lc.Groups() {
		if !g.Active() {
			continue
		}
		open := len(g.OpenLegs())
		if open == 0 {
			continue
		}
		if err := j.lc.Cancel(ctx, g.Symbol); err != nil {
			return legsCancelled, flattened, err
		}
		legsCancelled += open
	}

	if !j.cfg.FlattenOnClose {
		return legsCancelled, flattened, nil
	}

	positions, err := j.gw.Positions(ctx)
	if err != nil {
		return legsCancelled, flattened, err
	}
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		side, qty := "SELL", pos.Quantity
		if qty < 0 {
			side, qty = "BUY", -qty
		}
		if _, err := j.gw.PlaceOrder(&broker.Request{
			Symbol:    pos.Symbol,
			Side:      side,
			OrderType: "MKT",
			Quantity:  qty,
		}); err != nil {
			return legsCancelled, flattened, err
		}
		flattened++
		j.log.Info().Str("symbol", pos.Symbol).Int("quantity", pos.Quantity).Msg("flattening position")
	}
	return legsCancelled, flattened, nil
}
