package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPosition_Direction(t *testing.T) {
	long := &Position{Side: PositionLong}
	short := &Position{Side: PositionShort}

	if !long.IsLong() || long.IsShort() {
		t.Error("long position misreports direction")
	}
	if !short.IsShort() || short.IsLong() {
		t.Error("short position misreports direction")
	}
}

func TestPosition_MarkPrice(t *testing.T) {
	tests := []struct {
		name    string
		side    PositionSide
		entry   float64
		mark    float64
		wantPnL float64
		wantPct float64
	}{
		{"long gain", PositionLong, 50000, 50500, 5.0, 1.0},
		{"long loss", PositionLong, 50000, 49500, -5.0, -1.0},
		{"short gain", PositionShort, 50000, 49500, 5.0, 1.0},
		{"short loss", PositionShort, 50000, 50500, -5.0, -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Position{
				Symbol:     "BTCUSDT",
				Side:       tt.side,
				Quantity:   decimal.NewFromFloat(0.01),
				EntryPrice: decimal.NewFromFloat(tt.entry),
			}
			p.MarkPrice(decimal.NewFromFloat(tt.mark))

			if !p.UnrealizedPnL.Equal(decimal.NewFromFloat(tt.wantPnL)) {
				t.Errorf("UnrealizedPnL = %s, want %v", p.UnrealizedPnL, tt.wantPnL)
			}
			if diff := p.UnrealizedPnLPct - tt.wantPct; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("UnrealizedPnLPct = %v, want %v", p.UnrealizedPnLPct, tt.wantPct)
			}
		})
	}
}
