package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/infra"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/storage"
)

// PositionTracker owns the map of open positions, one per symbol, and the
// closed-position history.
type PositionTracker struct {
	mu      sync.RWMutex
	open    map[string]*domain.Position
	history []domain.ClosedPosition

	// Pyramiding is off by default: opening an already-open symbol is a
	// no-op returning the existing position unchanged. When enabled, new
	// quantity is averaged into the entry price instead.
	allowPyramiding bool

	archive *storage.Archive
}

// NewPositionTracker creates an empty tracker. archive may be nil for
// tests.
func NewPositionTracker(allowPyramiding bool, archive *storage.Archive) *PositionTracker {
	return &PositionTracker{
		open:            make(map[string]*domain.Position),
		allowPyramiding: allowPyramiding,
		archive:         archive,
	}
}

// OpenParams describes a position to open.
type OpenParams struct {
	Symbol     string
	Side       domain.PositionSide
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Venue      string
	OrderID    string
}

// OpenPosition registers a new position, or returns the existing one
// unchanged when the symbol is already open and pyramiding is disabled.
func (t *PositionTracker) OpenPosition(p OpenParams) *domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.open[p.Symbol]; ok {
		if !t.allowPyramiding {
			slog.Debug("position already open, ignoring",
				slog.String("symbol", p.Symbol))
			return existing
		}
		// Average the new quantity into the entry price.
		oldNotional := existing.EntryPrice.Mul(existing.Quantity)
		newNotional := p.EntryPrice.Mul(p.Quantity)
		total := existing.Quantity.Add(p.Quantity)
		existing.EntryPrice = oldNotional.Add(newNotional).Div(total)
		existing.Quantity = total
		existing.OrderIDs = append(existing.OrderIDs, p.OrderID)
		existing.MarkPrice(p.EntryPrice)
		return existing
	}

	pos := &domain.Position{
		Symbol:       p.Symbol,
		Side:         p.Side,
		Quantity:     p.Quantity,
		EntryPrice:   p.EntryPrice,
		CurrentPrice: p.EntryPrice,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		Venue:        p.Venue,
		OrderIDs:     []string{p.OrderID},
		OpenedAt:     time.Now(),
	}
	t.open[p.Symbol] = pos
	infra.SetOpenPositions(len(t.open))

	slog.Info("position opened",
		slog.String("symbol", p.Symbol),
		slog.String("side", p.Side.String()),
		slog.String("qty", p.Quantity.String()),
		slog.String("entry", p.EntryPrice.String()))
	return pos
}

// ClosePosition realizes PnL at the exit price, moves the position to
// history, and returns the closure summary.
func (t *PositionTracker) ClosePosition(symbol string, exitPrice decimal.Decimal) (*domain.ClosedPosition, error) {
	t.mu.Lock()
	pos, ok := t.open[symbol]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("no open position for %s", symbol)
	}

	pos.MarkPrice(exitPrice)
	now := time.Now()
	closed := domain.ClosedPosition{
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		Quantity:        pos.Quantity,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exitPrice,
		RealizedPnL:     pos.UnrealizedPnL,
		RealizedPnLPct:  pos.UnrealizedPnLPct,
		Venue:           pos.Venue,
		OrderIDs:        pos.OrderIDs,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        now,
		HoldingDuration: now.Sub(pos.OpenedAt),
	}
	delete(t.open, symbol)
	t.history = append(t.history, closed)
	infra.SetOpenPositions(len(t.open))
	t.mu.Unlock()

	if t.archive != nil {
		if err := t.archive.SavePosition(context.Background(), &closed); err != nil {
			slog.Error("position archive write failed",
				slog.String("symbol", symbol),
				slog.Any("error", err))
		}
	}

	slog.Info("position closed",
		slog.String("symbol", symbol),
		slog.String("pnl", closed.RealizedPnL.String()),
		slog.Duration("held", closed.HoldingDuration))
	return &closed, nil
}

// UpdatePrice recomputes unrealized PnL for the symbol's open position.
// No-op when the symbol has no open position.
func (t *PositionTracker) UpdatePrice(symbol string, price decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.open[symbol]
	if !ok {
		return false
	}
	pos.MarkPrice(price)
	return true
}

// SetProtection edits the stop-loss and take-profit levels of an open
// position. Zero leaves the corresponding level untouched.
func (t *PositionTracker) SetProtection(symbol string, stopLoss, takeProfit decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.open[symbol]
	if !ok {
		return false
	}
	if stopLoss.IsPositive() {
		pos.StopLoss = stopLoss
	}
	if takeProfit.IsPositive() {
		pos.TakeProfit = takeProfit
	}
	return true
}

// GetPosition returns a copy of the open position for the symbol.
func (t *PositionTracker) GetPosition(symbol string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.open[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// OpenCount returns the number of open positions.
func (t *PositionTracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.open)
}

// Snapshot returns copies of all open positions.
func (t *PositionTracker) Snapshot() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.open))
	for _, pos := range t.open {
		out = append(out, *pos)
	}
	return out
}

// History returns copies of all closed positions, oldest first.
func (t *PositionTracker) History() []domain.ClosedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.ClosedPosition, len(t.history))
	copy(out, t.history)
	return out
}

// Aggregate is the portfolio-level read model.
type Aggregate struct {
	OpenCount     int             `json:"open_count"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalPnLPct   float64         `json:"total_pnl_pct"`
	Winners       int             `json:"winners"`
	Losers        int             `json:"losers"`
	AvgWinPnL     decimal.Decimal `json:"avg_win_pnl"`
	AvgLossPnL    decimal.Decimal `json:"avg_loss_pnl"`
}

// Aggregates computes portfolio PnL and win/loss buckets over the closed
// history. PnL% is relative to the total entry notional of open and closed
// positions.
func (t *PositionTracker) Aggregates() Aggregate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	agg := Aggregate{OpenCount: len(t.open)}
	notional := decimal.Zero

	for _, pos := range t.open {
		agg.UnrealizedPnL = agg.UnrealizedPnL.Add(pos.UnrealizedPnL)
		notional = notional.Add(pos.EntryPrice.Mul(pos.Quantity))
	}

	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, closed := range t.history {
		agg.RealizedPnL = agg.RealizedPnL.Add(closed.RealizedPnL)
		notional = notional.Add(closed.EntryPrice.Mul(closed.Quantity))
		if closed.RealizedPnL.IsPositive() {
			agg.Winners++
			winSum = winSum.Add(closed.RealizedPnL)
		} else if closed.RealizedPnL.IsNegative() {
			agg.Losers++
			lossSum = lossSum.Add(closed.RealizedPnL)
		}
	}

	agg.TotalPnL = agg.UnrealizedPnL.Add(agg.RealizedPnL)
	if notional.IsPositive() {
		pct, _ := agg.TotalPnL.Div(notional).Mul(decimal.NewFromInt(100)).Float64()
		agg.TotalPnLPct = pct
	}
	if agg.Winners > 0 {
		agg.AvgWinPnL = winSum.Div(decimal.NewFromInt(int64(agg.Winners)))
	}
	if agg.Losers > 0 {
		agg.AvgLossPnL = lossSum.Div(decimal.NewFromInt(int64(agg.Losers)))
	}
	return agg
}
