package marketdata

import (
	"math"
	"testing"
)

func flatCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDistFromSMA20Pct(t *testing.T) {
	closes := flatCloses(30, 100)
	got := DistFromSMA20Pct(closes, 110)
	if got == nil || math.Abs(*got-10) > 1e-9 {
		t.Errorf("dist = %v, want 10%%", got)
	}

	if DistFromSMA20Pct(flatCloses(10, 100), 110) != nil {
		t.Error("short history must return nil")
	}
	if DistFromSMA20Pct(closes, 0) != nil {
		t.Error("zero price must return nil")
	}
}

func TestMACDHistSlope(t *testing.T) {
	// A steady uptrend keeps the histogram rising.
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 * math.Pow(1.01, float64(i))
	}
	if got := MACDHistSlope(up); got != "increasing" {
		t.Errorf("uptrend slope = %q, want increasing", got)
	}

	if got := MACDHistSlope(flatCloses(10, 100)); got != "" {
		t.Errorf("short history slope = %q, want empty", got)
	}
}

func TestVolumeVsAvg10(t *testing.T) {
	// Ten days at 1000, latest at 2000: ratio 2.
	vols := flatCloses(10, 1000)
	vols = append(vols, 2000)
	got := VolumeVsAvg10(vols)
	if got == nil || math.Abs(*got-2) > 1e-9 {
		t.Errorf("ratio = %v, want 2", got)
	}

	if VolumeVsAvg10(flatCloses(5, 1000)) != nil {
		t.Error("short history must return nil")
	}
}

func TestRegimeAlignment(t *testing.T) {
	above := flatCloses(220, 100)
	above[len(above)-1] = 120
	if got := RegimeAlignment(above); got != "above_both" {
		t.Errorf("alignment = %q, want above_both", got)
	}

	below := flatCloses(220, 100)
	below[len(below)-1] = 80
	if got := RegimeAlignment(below); got != "below_both" {
		t.Errorf("alignment = %q, want below_both", got)
	}

	if got := RegimeAlignment(flatCloses(50, 100)); got != "" {
		t.Errorf("short history alignment = %q, want empty", got)
	}
}

func TestAbove200SMA(t *testing.T) {
	closes := flatCloses(220, 100)
	closes[len(closes)-1] = 120
	above, known := Above200SMA(closes)
	if !known || !above {
		t.Errorf("Above200SMA = %v/%v, want above/known", above, known)
	}

	closes[len(closes)-1] = 80
	above, known = Above200SMA(closes)
	if !known || above {
		t.Errorf("Above200SMA = %v/%v, want below/known", above, known)
	}

	if _, known := Above200SMA(flatCloses(100, 100)); known {
		t.Error("short history must be unknown")
	}
}
