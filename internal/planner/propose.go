package planner

import (
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"bracket-trader/internal/config"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
	"bracket-trader/pkg/utils"
)

// Proposer turns price history and risk configuration into candidate trade
// plans. It holds no mutable state and performs no I/O.
type Proposer struct {
	Strategy config.StrategyConfig
	Risk     config.RiskConfig

	// Now is used for plan timestamps; defaults to time.Now.
	Now func() time.Time
}

// NewProposer creates a Proposer from strategy and risk configuration.
func NewProposer(strategy config.StrategyConfig, risk config.RiskConfig) *Proposer {
	return &Proposer{Strategy: strategy, Risk: risk, Now: time.Now}
}

// Propose builds a trade plan for the symbol from the given bars, risk
// configuration, and account equity. Bars must be ordered ascending by
// timestamp with at least atr_period+1 entries.
func (p *Proposer) Propose(symbol string, side models.Side, bars []models.Candle, netLiq float64) (*models.TradePlan, error) {
	if netLiq <= 0 {
		return nil, errors.NewPlanError(symbol, fmt.Sprintf("net liquidation value must be positive, got %.2f", netLiq), errors.ErrConfigInvalid)
	}
	if len(bars) < p.Strategy.ATRPeriod+1 {
		return nil, errors.NewPlanError(symbol,
			fmt.Sprintf("need at least %d bars, got %d", p.Strategy.ATRPeriod+1, len(bars)),
			errors.ErrInsufficientData)
	}

	atr, err := ATR(bars, p.Strategy.ATRPeriod)
	if err != nil {
		return nil, errors.NewPlanError(symbol, "computing ATR", err)
	}
	if atr <= 0 {
		return nil, errors.NewPlanError(symbol, fmt.Sprintf("ATR is %.4f", atr), errors.ErrDegenerateMarketData)
	}

	var swing, entry, limit, stop, target float64
	switch side {
	case models.SideLong:
		swing = swingHigh(bars, p.Strategy.SwingLookback)
		entry = utils.RoundCents(swing - p.Strategy.PullbackFraction*atr)
		limit = utils.RoundCents(entry - p.Strategy.LimitOffsetFraction*atr)
		stop = utils.RoundCents(entry - p.Strategy.StopMultiple*atr)
		target = utils.RoundCents(entry + p.Strategy.RMultiple*(entry-stop))
	case models.SideShort:
		swing = swingLow(bars, p.Strategy.SwingLookback)
		entry = utils.RoundCents(swing + p.Strategy.PullbackFraction*atr)
		limit = utils.RoundCents(entry + p.Strategy.LimitOffsetFraction*atr)
		stop = utils.RoundCents(entry + p.Strategy.StopMultiple*atr)
		target = utils.RoundCents(entry - p.Strategy.RMultiple*(stop-entry))
	default:
		return nil, errors.NewPlanError(symbol, fmt.Sprintf("invalid side %q", side), errors.ErrConfigInvalid)
	}

	riskPerShare := entry - stop
	if side == models.SideShort {
		riskPerShare = stop - entry
	}
	if riskPerShare <= 0 {
		return nil, errors.NewPlanError(symbol,
			fmt.Sprintf("entry %.2f and stop %.2f leave no risk distance", entry, stop),
			errors.ErrDegenerateMarketData)
	}

	riskAmount := netLiq * p.Risk.RiskPercent / 100
	qty := int(math.Floor(riskAmount / riskPerShare))

	// Optional notional cap on top of the loss-based size.
	if p.Risk.MaxNotionalPct > 0 && entry > 0 {
		byNotional := int(math.Floor(p.Risk.MaxNotionalPct / 100 * netLiq / entry))
		if byNotional < qty {
			qty = byNotional
		}
	}

	if qty <= 0 {
		return nil, errors.NewPlanError(symbol,
			fmt.Sprintf("risk budget %.2f buys zero units at %.2f risk per share", riskAmount, riskPerShare),
			errors.ErrInsufficientRiskBudget)
	}

	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	plan := &models.TradePlan{
		ID:         ulid.Make().String(),
		Symbol:     symbol,
		Side:       side,
		Entry:      entry,
		LimitPrice: limit,
		Stop:       stop,
		Target:     target,
		Quantity:   qty,
		RiskAmount: riskAmount,
		ATR:        atr,
		SwingRef:   swing,
		NetLiq:     netLiq,
		CreatedAt:  now,
	}

	if err := plan.Validate(); err != nil {
		return nil, errors.NewPlanError(symbol, "validating plan", err)
	}

	return plan, nil
}
