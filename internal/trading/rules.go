package trading

import (
	"fmt"
	"time"

	"bracket-trader/internal/models"
	"bracket-trader/pkg/utils"
)

// TrailStopRule ratchets the stop child behind the latest mark once the
// entry has filled. The stop only ever tightens: a long stop moves up, a
// short stop moves down, never the other way.
type TrailStopRule struct {
	// Percent is the trail distance as a percentage of the mark.
	Percent float64
}

func (r TrailStopRule) Name() string { return "trail_stop" }

func (r TrailStopRule) Evaluate(g *models.BracketOrderGroup, snap *Snapshot) *Command {
	if r.Percent <= 0 || g.State != models.GroupChildrenWorking {
		return nil
	}
	mark, ok := snap.Mark(g.Symbol)
	if !ok {
		return nil
	}

	var desired float64
	if g.Side == models.SideShort {
		desired = mark * (1 + r.Percent/100)
		if desired >= g.StopLeg.Price-0.01 {
			return nil
		}
	} else {
		desired = mark * (1 - r.Percent/100)
		if desired <= g.StopLeg.Price+0.01 {
			return nil
		}
	}

	return &Command{
		Kind:    CmdMoveStop,
		Symbol:  g.Symbol,
		GroupID: g.GroupID,
		Price:   utils.RoundCents(desired),
		Reason:  fmt.Sprintf("trailing %.1f%% behind mark %.2f", r.Percent, mark),
	}
}

// StaleEntryExpiryRule cancels brackets whose entry has been resting unfilled
// for longer than the expiry. Filled groups are never touched.
type StaleEntryExpiryRule struct {
	Expiry time.Duration
}

func (r StaleEntryExpiryRule) Name() string { return "stale_entry_expiry" }

func (r StaleEntryExpiryRule) Evaluate(g *models.BracketOrderGroup, snap *Snapshot) *Command {
	if r.Expiry <= 0 {
		return nil
	}
	switch g.State {
	case models.GroupSubmitted, models.GroupWorking:
	default:
		return nil
	}
	age := snap.At.Sub(g.CreatedAt)
	if age < r.Expiry {
		return nil
	}
	return &Command{
		Kind:    CmdCancelGroup,
		Symbol:  g.Symbol,
		GroupID: g.GroupID,
		Reason:  fmt.Sprintf("entry unfilled for %s", age.Round(time.Second)),
	}
}
