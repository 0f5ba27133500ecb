package utils

import "math"

// RoundCents rounds a price to the nearest cent.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
