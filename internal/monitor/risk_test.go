package monitor

import (
	"testing"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

const hardStop = 0.10

func longPosition(entry float64, trailing domain.TrailingParams) domain.Position {
	return domain.Position{
		Side:       domain.SideLong,
		EntryPrice: entry,
		Qty:        1,
		Trailing:   trailing,
	}
}

func shortPosition(entry float64, trailing domain.TrailingParams) domain.Position {
	p := longPosition(entry, trailing)
	p.Side = domain.SideShort
	return p
}

func trailing(activation, trail float64) domain.TrailingParams {
	return domain.TrailingParams{Enabled: true, ActivationPct: activation, TrailPct: trail}
}

func trailingArmed(activation, trail, mark float64) domain.TrailingParams {
	t := trailing(activation, trail)
	t.WaterMark = &mark
	return t
}

func TestEvaluateExitHardStop(t *testing.T) {
	tests := []struct {
		name  string
		pos   domain.Position
		price float64
		close bool
	}{
		{"long exactly at stop closes", longPosition(100, trailing(0.03, 0.01)), 90, true},
		{"long below stop closes", longPosition(100, trailing(0.03, 0.01)), 85, true},
		{"long just above stop holds", longPosition(100, trailing(0.03, 0.01)), 90.01, false},
		{"short exactly at stop closes", shortPosition(100, trailing(0.03, 0.01)), 110, true},
		{"short above stop closes", shortPosition(100, trailing(0.03, 0.01)), 115, true},
		{"short just below stop holds", shortPosition(100, trailing(0.03, 0.01)), 109.99, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateExit(tt.pos, tt.price, hardStop)
			if d.Close != tt.close {
				t.Fatalf("Close = %v, want %v", d.Close, tt.close)
			}
			if tt.close && d.Reason != domain.CloseReasonHardStop {
				t.Errorf("Reason = %v, want %v", d.Reason, domain.CloseReasonHardStop)
			}
		})
	}
}

func TestEvaluateExitHardStopBeatsTrailing(t *testing.T) {
	// Even with an armed trailing stop far above, a crash through the hard
	// stop reports HARD_STOP_LOSS.
	pos := longPosition(100, trailingArmed(0.03, 0.01, 120))
	d := EvaluateExit(pos, 90, hardStop)
	if !d.Close {
		t.Fatal("expected close")
	}
	if d.Reason != domain.CloseReasonHardStop {
		t.Errorf("Reason = %v, want %v", d.Reason, domain.CloseReasonHardStop)
	}
}

func TestEvaluateExitActivation(t *testing.T) {
	pos := longPosition(100, trailing(0.03, 0.01))

	// Below the activation threshold nothing arms and nothing closes, no
	// matter how the price drifts above the hard stop.
	for _, price := range []float64{91, 95, 100, 102.99} {
		d := EvaluateExit(pos, price, hardStop)
		if d.Close || d.WaterMark != nil {
			t.Fatalf("price %v: unexpected decision %+v", price, d)
		}
	}

	// Exactly at the threshold the stop arms and the water mark is recorded.
	d := EvaluateExit(pos, 103, hardStop)
	if d.Close {
		t.Fatal("activation must not close")
	}
	if d.WaterMark == nil || *d.WaterMark != 103 {
		t.Fatalf("WaterMark = %v, want 103", d.WaterMark)
	}
}

func TestEvaluateExitWaterMarkFavorableOnly(t *testing.T) {
	pos := longPosition(100, trailingArmed(0.03, 0.01, 110))

	// Favorable move pushes the mark.
	d := EvaluateExit(pos, 111, hardStop)
	if d.Close {
		t.Fatal("unexpected close on favorable move")
	}
	if d.WaterMark == nil || *d.WaterMark != 111 {
		t.Fatalf("WaterMark = %v, want 111", d.WaterMark)
	}

	// Adverse move inside the trail leaves the mark untouched.
	d = EvaluateExit(pos, 109, hardStop)
	if d.Close {
		t.Fatal("price above trail stop must not close")
	}
	if d.WaterMark != nil {
		t.Fatalf("adverse move must not update mark, got %v", *d.WaterMark)
	}

	// Crossing the trail boundary, inclusive, closes.
	d = EvaluateExit(pos, 108.9, hardStop)
	if !d.Close || d.Reason != domain.CloseReasonTrailingStop {
		t.Fatalf("decision = %+v, want trailing close", d)
	}
}

func TestEvaluateExitShortTrailing(t *testing.T) {
	pos := shortPosition(100, trailing(0.03, 0.01))

	// Arm at 97, ride down to 90, close when price rebounds to 90.9.
	d := EvaluateExit(pos, 97, hardStop)
	if d.WaterMark == nil || *d.WaterMark != 97 {
		t.Fatalf("WaterMark = %v, want 97", d.WaterMark)
	}
	pos.Trailing.WaterMark = d.WaterMark

	d = EvaluateExit(pos, 90, hardStop)
	if d.Close || d.WaterMark == nil || *d.WaterMark != 90 {
		t.Fatalf("decision = %+v, want mark 90 without close", d)
	}
	pos.Trailing.WaterMark = d.WaterMark

	d = EvaluateExit(pos, 90.9, hardStop)
	if !d.Close || d.Reason != domain.CloseReasonTrailingStop {
		t.Fatalf("decision = %+v, want trailing close", d)
	}
}

func TestEvaluateExitRideAndGiveBack(t *testing.T) {
	// A long entered at 100 rallies to 110, gives back 1%, and exits at
	// 108.9 for roughly +8.9%.
	pos := longPosition(100, trailing(0.03, 0.01))

	for _, price := range []float64{101, 103, 106, 110} {
		d := EvaluateExit(pos, price, hardStop)
		if d.Close {
			t.Fatalf("price %v: unexpected close", price)
		}
		if d.WaterMark != nil {
			pos.Trailing.WaterMark = d.WaterMark
		}
	}
	if pos.Trailing.WaterMark == nil || *pos.Trailing.WaterMark != 110 {
		t.Fatalf("WaterMark = %v, want 110", pos.Trailing.WaterMark)
	}

	d := EvaluateExit(pos, 108.9, hardStop)
	if !d.Close || d.Reason != domain.CloseReasonTrailingStop {
		t.Fatalf("decision = %+v, want trailing close", d)
	}
	pnl := domain.PnL(pos.Side, pos.EntryPrice, 108.9, pos.Qty)
	if pnl < 8.89 || pnl > 8.91 {
		t.Errorf("realized pnl = %v, want ~8.9", pnl)
	}
}

func TestEvaluateExitTrailingDisabled(t *testing.T) {
	pos := longPosition(100, domain.TrailingParams{})
	for _, price := range []float64{95, 103, 150} {
		d := EvaluateExit(pos, price, hardStop)
		if d.Close || d.WaterMark != nil {
			t.Fatalf("price %v: unexpected decision %+v", price, d)
		}
	}
	// The hard stop still applies.
	if d := EvaluateExit(pos, 90, hardStop); !d.Close || d.Reason != domain.CloseReasonHardStop {
		t.Fatalf("decision = %+v, want hard stop", d)
	}
}
