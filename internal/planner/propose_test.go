package planner

import (
	"testing"
	"time"

	"bracket-trader/internal/config"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

func defaultStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		ATRPeriod:           14,
		SwingLookback:       20,
		PullbackFraction:    0.5,
		StopMultiple:        2.0,
		LimitOffsetFraction: 0.1,
		RMultiple:           2.0,
	}
}

// flatBars returns n identical candles whose true range is exactly rng and
// whose high is swing. ATR over any period computes to rng exactly.
func flatBars(n int, swing, rng float64) []models.Candle {
	bars := make([]models.Candle, n)
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	for i := range bars {
		mid := swing - rng/2
		bars[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      mid,
			High:      swing,
			Low:       swing - rng,
			Close:     mid,
			Volume:    1000,
		}
	}
	return bars
}

func TestProposeLongScenario(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
	bars := flatBars(30, 100.0, 2.0)

	plan, err := p.Propose("AAPL", models.SideLong, bars, 100_000)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if plan.ATR != 2.0 {
		t.Errorf("ATR = %v, want 2.0", plan.ATR)
	}
	if plan.SwingRef != 100.0 {
		t.Errorf("SwingRef = %v, want 100.0", plan.SwingRef)
	}
	if plan.Entry != 99.0 {
		t.Errorf("Entry = %v, want 99.0", plan.Entry)
	}
	if plan.LimitPrice != 98.8 {
		t.Errorf("LimitPrice = %v, want 98.8", plan.LimitPrice)
	}
	if plan.Stop != 95.0 {
		t.Errorf("Stop = %v, want 95.0", plan.Stop)
	}
	if plan.Target != 107.0 {
		t.Errorf("Target = %v, want 107.0", plan.Target)
	}
	if plan.RiskAmount != 1000.0 {
		t.Errorf("RiskAmount = %v, want 1000.0", plan.RiskAmount)
	}
	if plan.Quantity != 250 {
		t.Errorf("Quantity = %v, want 250", plan.Quantity)
	}
	if err := plan.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestProposeShortMirrorsLong(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
	bars := flatBars(30, 100.0, 2.0)

	plan, err := p.Propose("AAPL", models.SideShort, bars, 100_000)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// Swing low for these bars is 98.
	if plan.SwingRef != 98.0 {
		t.Errorf("SwingRef = %v, want 98.0", plan.SwingRef)
	}
	if plan.Entry != 99.0 {
		t.Errorf("Entry = %v, want 99.0", plan.Entry)
	}
	if plan.Stop != 103.0 {
		t.Errorf("Stop = %v, want 103.0", plan.Stop)
	}
	if plan.Target != 91.0 {
		t.Errorf("Target = %v, want 91.0", plan.Target)
	}
	if err := plan.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestProposeInsufficientData(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
	bars := flatBars(10, 100.0, 2.0) // fewer than atr_period+1

	_, err := p.Propose("AAPL", models.SideLong, bars, 100_000)
	if !errors.Is(err, errors.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestProposeDegenerateData(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
	bars := flatBars(30, 100.0, 0.0) // zero range, ATR 0

	_, err := p.Propose("AAPL", models.SideLong, bars, 100_000)
	if !errors.Is(err, errors.ErrDegenerateMarketData) {
		t.Fatalf("err = %v, want ErrDegenerateMarketData", err)
	}
}

func TestProposeInsufficientRiskBudget(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
	bars := flatBars(30, 100.0, 2.0) // risk per share 4.0

	// 1% of 200 is 2.0, less than one share of risk.
	_, err := p.Propose("AAPL", models.SideLong, bars, 200)
	if !errors.Is(err, errors.ErrInsufficientRiskBudget) {
		t.Fatalf("err = %v, want ErrInsufficientRiskBudget", err)
	}
}

func TestProposeRejectsNonPositiveNetLiq(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
	bars := flatBars(30, 100.0, 2.0)

	if _, err := p.Propose("AAPL", models.SideLong, bars, 0); err == nil {
		t.Fatal("expected error for zero net liquidation value")
	}
}

func TestProposeNotionalCapBinds(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0, MaxNotionalPct: 10})
	bars := flatBars(30, 100.0, 2.0)

	plan, err := p.Propose("AAPL", models.SideLong, bars, 100_000)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	// 10% of 100k at entry 99 allows 101 shares, under the 250 loss-based size.
	if plan.Quantity != 101 {
		t.Errorf("Quantity = %d, want 101", plan.Quantity)
	}
}

func TestProposeIsDeterministic(t *testing.T) {
	p := NewProposer(defaultStrategy(), config.RiskConfig{RiskPercent: 1.0})
	p.Now = func() time.Time { return time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC) }
	bars := flatBars(30, 100.0, 2.0)

	a, err := p.Propose("AAPL", models.SideLong, bars, 100_000)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	b, err := p.Propose("AAPL", models.SideLong, bars, 100_000)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if a.Entry != b.Entry || a.Stop != b.Stop || a.Target != b.Target || a.Quantity != b.Quantity || a.ATR != b.ATR {
		t.Errorf("identical inputs produced different levels: %+v vs %+v", a, b)
	}
}

func TestATRRequiresEnoughBars(t *testing.T) {
	bars := flatBars(14, 100.0, 2.0)
	if _, err := ATR(bars, 14); !errors.Is(err, errors.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if _, err := ATR(flatBars(15, 100, 2), 14); err != nil {
		t.Fatalf("ATR with 15 bars: %v", err)
	}
}

func TestATRWilderSmoothing(t *testing.T) {
	// Two candles with TR 2 then one with TR 4: ATR(2) after three TRs is
	// mean(2,2)=2 then 2+(4-2)/2 = 3.
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := []models.Candle{
		{Timestamp: base, High: 100, Low: 98, Close: 99},
		{Timestamp: base.Add(time.Minute), High: 100, Low: 98, Close: 99},
		{Timestamp: base.Add(2 * time.Minute), High: 100, Low: 98, Close: 99},
		{Timestamp: base.Add(3 * time.Minute), High: 101, Low: 97, Close: 99},
	}
	atr, err := ATR(bars, 2)
	if err != nil {
		t.Fatalf("ATR: %v", err)
	}
	if atr != 3.0 {
		t.Errorf("ATR = %v, want 3.0", atr)
	}
}
