// Package planner derives bracket trade plans from price history using an
// ATR pullback strategy. All computation is pure and deterministic.
package planner

import (
	"math"

	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// trueRange returns the True Range of current given the previous candle.
func trueRange(current, previous models.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}

// ATR computes the Wilder-smoothed Average True Range over the given period.
// The initial ATR is the simple mean of the first period true ranges; each
// subsequent value is smoothed as ATR + (TR-ATR)/period. Requires at least
// period+1 candles.
func ATR(candles []models.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.ErrConfigInvalid
	}
	if len(candles) < period+1 {
		return 0, errors.ErrInsufficientData
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	atr := sum / float64(period)

	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1])
		atr += (tr - atr) / float64(period)
	}

	return atr, nil
}

// swingHigh returns the highest high over the last lookback candles.
func swingHigh(candles []models.Candle, lookback int) float64 {
	start := len(candles) - lookback
	if start < 0 {
		start = 0
	}
	high := candles[start].High
	for _, c := range candles[start+1:] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

// swingLow returns the lowest low over the last lookback candles.
func swingLow(candles []models.Candle, lookback int) float64 {
	start := len(candles) - lookback
	if start < 0 {
		start = 0
	}
	low := candles[start].Low
	for _, c := range candles[start+1:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}
