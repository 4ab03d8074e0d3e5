package domain

import (
	"testing"
	"time"
)

func TestSizingNotional(t *testing.T) {
	tests := []struct {
		name    string
		sizing  Sizing
		balance float64
		want    float64
	}{
		{"percentage of balance", Sizing{Kind: SizingPercentage, Value: 25}, 400, 100},
		{"percentage ignores nothing", Sizing{Kind: SizingPercentage, Value: 100}, 250, 250},
		{"fixed ignores balance", Sizing{Kind: SizingFixedNotional, Value: 75}, 10, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sizing.Notional(tt.balance); got != tt.want {
				t.Errorf("Notional(%v) = %v, want %v", tt.balance, got, tt.want)
			}
		})
	}
}

func TestCanonicalToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ETH", "ETH"},
		{"ETH_MANUAL_1718000000", "ETH"},
		{"BTC_MANUAL_1", "BTC"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalToken(tt.in); got != tt.want {
			t.Errorf("CanonicalToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimeBucket(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), "2026-08-28-A"},
		{time.Date(2026, 8, 28, 5, 59, 0, 0, time.UTC), "2026-08-28-A"},
		{time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC), "2026-08-28-B"},
		{time.Date(2026, 8, 28, 13, 30, 0, 0, time.UTC), "2026-08-28-C"},
		{time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC), "2026-08-28-D"},
	}
	for _, tt := range tests {
		if got := TimeBucket(tt.at); got != tt.want {
			t.Errorf("TimeBucket(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestPnL(t *testing.T) {
	tests := []struct {
		name  string
		side  Side
		entry float64
		exit  float64
		qty   float64
		want  float64
	}{
		{"long gain", SideLong, 100, 110, 2, 20},
		{"long loss", SideLong, 100, 90, 1, -10},
		{"long flat", SideLong, 100, 100, 5, 0},
		{"short gain", SideShort, 100, 90, 2, 20},
		{"short loss", SideShort, 100, 110, 1, -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PnL(tt.side, tt.entry, tt.exit, tt.qty); got != tt.want {
				t.Errorf("PnL = %v, want %v", got, tt.want)
			}
		})
	}
}
