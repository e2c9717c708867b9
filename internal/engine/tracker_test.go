package engine

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openLong(t *PositionTracker, symbol, qty, entry string) *domain.Position {
	return t.OpenPosition(OpenParams{
		Symbol:     symbol,
		Side:       domain.PositionLong,
		Quantity:   d(qty),
		EntryPrice: d(entry),
		Venue:      "binance",
		OrderID:    "ord-" + symbol,
	})
}

func TestOpenPositionIdempotentWithoutPyramiding(t *testing.T) {
	tr := NewPositionTracker(false, nil)

	first := openLong(tr, "BTCUSDT", "0.5", "50000")
	second := tr.OpenPosition(OpenParams{
		Symbol:     "BTCUSDT",
		Side:       domain.PositionLong,
		Quantity:   d("1.0"),
		EntryPrice: d("60000"),
		OrderID:    "ord-2",
	})

	if !second.EntryPrice.Equal(first.EntryPrice) {
		t.Errorf("entry price changed to %s, want unchanged 50000", second.EntryPrice)
	}
	if !second.Quantity.Equal(d("0.5")) {
		t.Errorf("quantity changed to %s, want unchanged 0.5", second.Quantity)
	}
	if tr.OpenCount() != 1 {
		t.Errorf("open count = %d, want 1", tr.OpenCount())
	}
}

func TestOpenPositionPyramidingAveragesEntry(t *testing.T) {
	tr := NewPositionTracker(true, nil)

	openLong(tr, "BTCUSDT", "1", "50000")
	pos := tr.OpenPosition(OpenParams{
		Symbol:     "BTCUSDT",
		Side:       domain.PositionLong,
		Quantity:   d("1"),
		EntryPrice: d("60000"),
		OrderID:    "ord-2",
	})

	if !pos.Quantity.Equal(d("2")) {
		t.Errorf("quantity = %s, want 2", pos.Quantity)
	}
	if !pos.EntryPrice.Equal(d("55000")) {
		t.Errorf("entry price = %s, want volume-weighted 55000", pos.EntryPrice)
	}
	if len(pos.OrderIDs) != 2 {
		t.Errorf("order ids = %v, want both legs recorded", pos.OrderIDs)
	}
}

func TestClosePositionRealizesPnL(t *testing.T) {
	tests := []struct {
		name    string
		side    domain.PositionSide
		entry   string
		exit    string
		qty     string
		wantPnL string
		wantPct float64
	}{
		{"long gain", domain.PositionLong, "50000", "50500", "0.01", "5", 1.0},
		{"long loss", domain.PositionLong, "50000", "49500", "0.01", "-5", -1.0},
		{"short gain", domain.PositionShort, "50000", "49500", "0.01", "5", 1.0},
		{"short loss", domain.PositionShort, "50000", "50500", "0.01", "-5", -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewPositionTracker(false, nil)
			tr.OpenPosition(OpenParams{
				Symbol:     "BTCUSDT",
				Side:       tt.side,
				Quantity:   d(tt.qty),
				EntryPrice: d(tt.entry),
				OrderID:    "ord-1",
			})

			closed, err := tr.ClosePosition("BTCUSDT", d(tt.exit))
			if err != nil {
				t.Fatalf("ClosePosition: %v", err)
			}
			if !closed.RealizedPnL.Equal(d(tt.wantPnL)) {
				t.Errorf("pnl = %s, want %s", closed.RealizedPnL, tt.wantPnL)
			}
			if math.Abs(closed.RealizedPnLPct-tt.wantPct) > 1e-9 {
				t.Errorf("pnl pct = %v, want %v", closed.RealizedPnLPct, tt.wantPct)
			}
			if tr.OpenCount() != 0 {
				t.Error("position should be removed from the open set")
			}
			if len(tr.History()) != 1 {
				t.Error("closure should be appended to history")
			}
			if closed.HoldingDuration < 0 {
				t.Error("holding duration must be non-negative")
			}
		})
	}
}

func TestClosePositionUnknownSymbol(t *testing.T) {
	tr := NewPositionTracker(false, nil)
	if _, err := tr.ClosePosition("ETHUSDT", d("3000")); err == nil {
		t.Fatal("expected an error for an unknown symbol")
	}
}

func TestUpdatePriceMarksOpenPosition(t *testing.T) {
	tr := NewPositionTracker(false, nil)
	openLong(tr, "BTCUSDT", "0.01", "50000")

	if !tr.UpdatePrice("BTCUSDT", d("50500")) {
		t.Fatal("update of an open symbol should report true")
	}
	if tr.UpdatePrice("ETHUSDT", d("3000")) {
		t.Fatal("update of an unknown symbol should report false")
	}

	pos, _ := tr.GetPosition("BTCUSDT")
	if !pos.UnrealizedPnL.Equal(d("5")) {
		t.Errorf("unrealized pnl = %s, want 5", pos.UnrealizedPnL)
	}
}

func TestSetProtection(t *testing.T) {
	tr := NewPositionTracker(false, nil)
	openLong(tr, "BTCUSDT", "0.01", "50000")

	if !tr.SetProtection("BTCUSDT", d("48000"), d("55000")) {
		t.Fatal("SetProtection on open symbol should succeed")
	}
	pos, _ := tr.GetPosition("BTCUSDT")
	if !pos.StopLoss.Equal(d("48000")) || !pos.TakeProfit.Equal(d("55000")) {
		t.Errorf("protection = (%s, %s), want (48000, 55000)", pos.StopLoss, pos.TakeProfit)
	}

	// Zero leaves a level untouched.
	tr.SetProtection("BTCUSDT", decimal.Zero, d("56000"))
	pos, _ = tr.GetPosition("BTCUSDT")
	if !pos.StopLoss.Equal(d("48000")) {
		t.Errorf("stop loss = %s, want unchanged 48000", pos.StopLoss)
	}
	if !pos.TakeProfit.Equal(d("56000")) {
		t.Errorf("take profit = %s, want 56000", pos.TakeProfit)
	}
}

func TestAggregates(t *testing.T) {
	tr := NewPositionTracker(false, nil)

	// Two closed trades: +10 and -4.
	openLong(tr, "BTCUSDT", "1", "100")
	if _, err := tr.ClosePosition("BTCUSDT", d("110")); err != nil {
		t.Fatal(err)
	}
	openLong(tr, "ETHUSDT", "2", "100")
	if _, err := tr.ClosePosition("ETHUSDT", d("98")); err != nil {
		t.Fatal(err)
	}

	// One open position, +5 unrealized.
	openLong(tr, "SOLUSDT", "1", "100")
	tr.UpdatePrice("SOLUSDT", d("105"))

	agg := tr.Aggregates()
	if agg.OpenCount != 1 {
		t.Errorf("open count = %d, want 1", agg.OpenCount)
	}
	if !agg.RealizedPnL.Equal(d("6")) {
		t.Errorf("realized = %s, want 6", agg.RealizedPnL)
	}
	if !agg.UnrealizedPnL.Equal(d("5")) {
		t.Errorf("unrealized = %s, want 5", agg.UnrealizedPnL)
	}
	if !agg.TotalPnL.Equal(d("11")) {
		t.Errorf("total = %s, want 11", agg.TotalPnL)
	}
	if agg.Winners != 1 || agg.Losers != 1 {
		t.Errorf("winners/losers = %d/%d, want 1/1", agg.Winners, agg.Losers)
	}
	if !agg.AvgWinPnL.Equal(d("10")) {
		t.Errorf("avg win = %s, want 10", agg.AvgWinPnL)
	}
	if !agg.AvgLossPnL.Equal(d("-4")) {
		t.Errorf("avg loss = %s, want -4", agg.AvgLossPnL)
	}
	// Entry notional 100 + 200 + 100 = 400; 11/400 = 2.75%.
	if math.Abs(agg.TotalPnLPct-2.75) > 1e-9 {
		t.Errorf("total pnl pct = %v, want 2.75", agg.TotalPnLPct)
	}
}
