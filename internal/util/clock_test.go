package util

import (
	"testing"
	"time"
)

func et(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, ETLocation())
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return ts
}

func TestETDay(t *testing.T) {
	// 23:30 ET on Jan 5 is already Jan 6 in UTC; the ET day must win.
	ts := et(t, "2026-01-05 23:30")
	if got := ETDay(ts.UTC()); got != "2026-01-05" {
		t.Errorf("ETDay = %q, want 2026-01-05", got)
	}
}

func TestIsMarketHours(t *testing.T) {
	tests := []struct {
		name string
		when string
		want bool
	}{
		{"before open", "2026-01-05 09:29", false},
		{"at open", "2026-01-05 09:30", true},
		{"midday", "2026-01-05 12:00", true},
		{"at close", "2026-01-05 16:00", true},
		{"after close", "2026-01-05 16:01", false},
		{"saturday", "2026-01-03 12:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketHours(et(t, tt.when)); got != tt.want {
				t.Errorf("IsMarketHours(%s) = %v, want %v", tt.when, got, tt.want)
			}
		})
	}
}

func TestIsAfterClose(t *testing.T) {
	if IsAfterClose(et(t, "2026-01-05 16:14")) {
		t.Error("16:14 should not be after close")
	}
	if !IsAfterClose(et(t, "2026-01-05 16:15")) {
		t.Error("16:15 should be after close")
	}
}

func TestIsAfterOpenPrep(t *testing.T) {
	if IsAfterOpenPrep(et(t, "2026-01-05 08:59")) {
		t.Error("08:59 should be before open prep")
	}
	if !IsAfterOpenPrep(et(t, "2026-01-05 09:00")) {
		t.Error("09:00 should be at open prep")
	}
}

func TestWithinETWindow(t *testing.T) {
	tests := []struct {
		name       string
		when       string
		start, end string
		want       int
	}{
		{"before", "2026-01-05 09:00", "09:30", "11:00", -1},
		{"at start", "2026-01-05 09:30", "09:30", "11:00", 0},
		{"inside", "2026-01-05 10:15", "09:30", "11:00", 0},
		{"at end", "2026-01-05 11:00", "09:30", "11:00", 0},
		{"after", "2026-01-05 11:01", "09:30", "11:00", 1},
		{"malformed start is unbounded", "2026-01-05 05:00", "bogus", "11:00", 0},
		{"malformed end is unbounded", "2026-01-05 23:00", "09:30", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithinETWindow(et(t, tt.when), tt.start, tt.end); got != tt.want {
				t.Errorf("WithinETWindow(%s, %s, %s) = %d, want %d", tt.when, tt.start, tt.end, got, tt.want)
			}
		})
	}
}
