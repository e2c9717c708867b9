package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(filepath.Join(t.TempDir(), "test_engine.db"))
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_SaveAndLoadOrder(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	ord := &domain.Order{
		ID:        "ord-1",
		Venue:     "paper",
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Type:      domain.TypeLimit,
		Status:    domain.StatusAcknowledged,
		Quantity:  decimal.NewFromFloat(0.5),
		Price:     decimal.NewFromInt(50000),
		CreatedAt: time.Now(),
	}

	if err := a.SaveOrder(ctx, ord); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	// Upsert on terminal transition
	ord.Status = domain.StatusFullyFilled
	ord.FilledQty = ord.Quantity
	if err := a.SaveOrder(ctx, ord); err != nil {
		t.Fatalf("second SaveOrder failed: %v", err)
	}

	got, err := a.LoadOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("LoadOrder failed: %v", err)
	}
	if got.Status != domain.StatusFullyFilled {
		t.Errorf("status = %s, want FULLY_FILLED", got.Status)
	}
	if !got.FilledQty.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("filled qty = %s, want 0.5", got.FilledQty)
	}

	bySymbol, err := a.LoadOrdersBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadOrdersBySymbol failed: %v", err)
	}
	if len(bySymbol) != 1 {
		t.Errorf("expected 1 archived order, got %d", len(bySymbol))
	}
}

func TestArchive_SaveAndLoadPositions(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	now := time.Now()
	pos := &domain.ClosedPosition{
		Symbol:          "ETHUSDT",
		Side:            domain.PositionLong,
		Quantity:        decimal.NewFromInt(2),
		EntryPrice:      decimal.NewFromInt(3000),
		ExitPrice:       decimal.NewFromInt(3100),
		RealizedPnL:     decimal.NewFromInt(200),
		Venue:           "paper",
		OpenedAt:        now.Add(-time.Hour),
		ClosedAt:        now,
		HoldingDuration: time.Hour,
	}

	if err := a.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition failed: %v", err)
	}

	got, err := a.LoadPositions(ctx, "ETHUSDT")
	if err != nil {
		t.Fatalf("LoadPositions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 position, got %d", len(got))
	}
	if !got[0].RealizedPnL.Equal(decimal.NewFromInt(200)) {
		t.Errorf("realized pnl = %s, want 200", got[0].RealizedPnL)
	}

	all, err := a.LoadPositions(ctx, "")
	if err != nil {
		t.Fatalf("LoadPositions(all) failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 position for empty symbol, got %d", len(all))
	}
}
