package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// Clamp bounds x into [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// FloorQty converts a dollar size at a price into a whole-share quantity,
// never below min.
func FloorQty(dollars, price float64, min int) int {
	if price <= 0 {
		return min
	}
	q := int(math.Floor(dollars / price))
	if q < min {
		return min
	}
	return q
}

// PctDiff returns the percent difference of a from b, relative to b.
func PctDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Abs(a-b) / b * 100
}
