package marketdata

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Indicator helpers over daily bars. These back the collect-only swing
// entry log and the broad-market regime checks; none of them gate a trade
// on their own.

// DistFromSMA20Pct returns the percent distance of price from the 20-day
// simple moving average of closes. Returns nil with fewer than 20 bars.
func DistFromSMA20Pct(closes []float64, price float64) *float64 {
	if len(closes) < 20 || price <= 0 {
		return nil
	}
	sma := talib.Sma(closes, 20)
	last := sma[len(sma)-1]
	if last <= 0 || math.IsNaN(last) {
		return nil
	}
	v := (price - last) / last * 100
	return &v
}

// MACDHistSlope reports "increasing" when the latest 12/26/9 MACD
// histogram bar exceeds the previous one, "decreasing" otherwise. Empty
// with insufficient data.
func MACDHistSlope(closes []float64) string {
	if len(closes) < 35 {
		return ""
	}
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	if len(hist) < 2 {
		return ""
	}
	last, prev := hist[len(hist)-1], hist[len(hist)-2]
	if math.IsNaN(last) || math.IsNaN(prev) {
		return ""
	}
	if last > prev {
		return "increasing"
	}
	return "decreasing"
}

// VolumeVsAvg10 returns the ratio of the latest day's volume to the
// trailing 10-day average volume (excluding the latest day). Nil with
// insufficient data.
func VolumeVsAvg10(volumes []float64) *float64 {
	if len(volumes) < 11 {
		return nil
	}
	latest := volumes[len(volumes)-1]
	var sum float64
	for _, v := range volumes[len(volumes)-11 : len(volumes)-1] {
		sum += v
	}
	avg := sum / 10
	if avg <= 0 {
		return nil
	}
	v := latest / avg
	return &v
}

// RegimeAlignment classifies the broad-market symbol against its 50-day
// and 200-day means: above_both, below_both or mixed. Empty with
// insufficient data.
func RegimeAlignment(closes []float64) string {
	if len(closes) < 200 {
		return ""
	}
	price := closes[len(closes)-1]
	sma50 := talib.Sma(closes, 50)
	sma200 := talib.Sma(closes, 200)
	m50, m200 := sma50[len(sma50)-1], sma200[len(sma200)-1]
	if math.IsNaN(m50) || math.IsNaN(m200) || m50 <= 0 || m200 <= 0 {
		return ""
	}
	switch {
	case price > m50 && price > m200:
		return "above_both"
	case price < m50 && price < m200:
		return "below_both"
	default:
		return "mixed"
	}
}

// Above200SMA reports whether the last close sits above the 200-day mean.
// Second return is false when there is not enough history to tell.
func Above200SMA(closes []float64) (bool, bool) {
	if len(closes) < 200 {
		return false, false
	}
	sma200 := talib.Sma(closes, 200)
	last := sma200[len(sma200)-1]
	if math.IsNaN(last) || last <= 0 {
		return false, false
	}
	return closes[len(closes)-1] > last, true
}
