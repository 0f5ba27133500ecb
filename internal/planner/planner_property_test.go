package planner

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"bracket-trader/internal/config"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// randomishBars builds a bar sequence from a seed with varying ranges, all
// strictly positive prices and valid OHLC ordering.
func randomishBars(seed int64, n int, base float64) []models.Candle {
	bars := make([]models.Candle, n)
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	price := base
	for i := range bars {
		// Deterministic pseudo-random walk from the seed only.
		seed = seed*6364136223846793005 + 1442695040888963407
		step := float64(seed%200)/100.0 - 1.0 // [-1, 1)
		seed = seed*6364136223846793005 + 1442695040888963407
		rng := float64(seed%300)/100.0 + 0.05 // [0.05, 3.05)

		price += step
		if price < 10 {
			price = 10
		}
		bars[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + rng/2,
			Low:       price - rng/2,
			Close:     price,
			Volume:    1,
		}
	}
	return bars
}

// Property: for any valid bar sequence, ATR is non-negative, the stop sits
// strictly on the risk side of entry, and the target strictly on the reward
// side, matching the plan's direction.
func TestProperty_PlanLevelsMatchSide(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(1)

	properties := gopter.NewProperties(parameters)

	properties.Property("long and short levels bracket the entry", prop.ForAll(
		func(seed int64, base float64, long bool) bool {
			side := models.SideShort
			if long {
				side = models.SideLong
			}
			p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
			bars := randomishBars(seed, 40, base)

			plan, err := p.Propose("TEST", side, bars, 1_000_000)
			if err != nil {
				// Degenerate or too-small budgets are legitimate rejections,
				// never a malformed plan.
				return errors.Is(err, errors.ErrDegenerateMarketData) ||
					errors.Is(err, errors.ErrInsufficientRiskBudget)
			}
			if plan.ATR < 0 {
				return false
			}
			if side == models.SideLong {
				return plan.Stop < plan.Entry && plan.Entry < plan.Target
			}
			return plan.Target < plan.Entry && plan.Entry < plan.Stop
		},
		gen.Int64(),
		gen.Float64Range(20, 5000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: quantity times risk-per-share never exceeds the risk amount, and
// quantity is a positive integer on success.
func TestProperty_QuantityRespectsRiskBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(2)

	properties := gopter.NewProperties(parameters)

	properties.Property("qty * riskPerShare <= riskAmount", prop.ForAll(
		func(seed int64, netLiq, riskPct float64) bool {
			p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: riskPct})
			bars := randomishBars(seed, 40, 100)

			plan, err := p.Propose("TEST", models.SideLong, bars, netLiq)
			if err != nil {
				return errors.Is(err, errors.ErrDegenerateMarketData) ||
					errors.Is(err, errors.ErrInsufficientRiskBudget)
			}
			if plan.Quantity <= 0 {
				return false
			}
			return float64(plan.Quantity)*plan.RiskPerShare() <= plan.RiskAmount*(1+1e-9)
		},
		gen.Int64(),
		gen.Float64Range(100, 10_000_000),
		gen.Float64Range(0.1, 5),
	))

	properties.TestingRun(t)
}
