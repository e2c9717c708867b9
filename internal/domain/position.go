package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of an open position.
type PositionSide int

const (
	PositionLong PositionSide = iota
	PositionShort
)

func (s PositionSide) String() string {
	switch s {
	case PositionLong:
		return "LONG"
	case PositionShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// MarshalText serializes the position side to its canonical string.
func (s PositionSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText restores a position side from its canonical string.
func (s *PositionSide) UnmarshalText(text []byte) error {
	parsed, err := ParsePositionSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParsePositionSide converts a raw string to a PositionSide.
func ParsePositionSide(raw string) (PositionSide, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG":
		return PositionLong, nil
	case "SHORT":
		return PositionShort, nil
	default:
		return 0, fmt.Errorf("unknown position side: %q", raw)
	}
}

// Position is one open position. At most one live position exists per
// symbol. Zero StopLoss/TakeProfit means "not set".
type Position struct {
	Symbol           string          `json:"symbol"`
	Side             PositionSide    `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct float64         `json:"unrealized_pnl_pct"`
	StopLoss         decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit       decimal.Decimal `json:"take_profit,omitempty"`
	Venue            string          `json:"venue"`
	OrderIDs         []string        `json:"order_ids"`
	OpenedAt         time.Time       `json:"opened_at"`
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool {
	return p.Side == PositionLong
}

// IsShort reports whether the position is short.
func (p *Position) IsShort() bool {
	return p.Side == PositionShort
}

// MarkPrice updates the mark and recomputes unrealized PnL. Long profits
// when price rises, short when it falls.
func (p *Position) MarkPrice(price decimal.Decimal) {
	p.CurrentPrice = price
	p.UnrealizedPnL = pnl(p.Side, p.EntryPrice, price, p.Quantity)
	notional := p.EntryPrice.Mul(p.Quantity)
	if notional.IsPositive() {
		pct, _ := p.UnrealizedPnL.Div(notional).Mul(decimal.NewFromInt(100)).Float64()
		p.UnrealizedPnLPct = pct
	}
}

// ClosedPosition is the archived record of a position after closure.
type ClosedPosition struct {
	Symbol          string          `json:"symbol"`
	Side            PositionSide    `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	ExitPrice       decimal.Decimal `json:"exit_price"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	RealizedPnLPct  float64         `json:"realized_pnl_pct"`
	Venue           string          `json:"venue"`
	OrderIDs        []string        `json:"order_ids"`
	OpenedAt        time.Time       `json:"opened_at"`
	ClosedAt        time.Time       `json:"closed_at"`
	HoldingDuration time.Duration   `json:"holding_duration"`
}

// pnl computes profit for a long as (exit-entry)*qty and for a short as
// (entry-exit)*qty.
func pnl(side PositionSide, entry, exit, qty decimal.Decimal) decimal.Decimal {
	if side == PositionShort {
		return entry.Sub(exit).Mul(qty)
	}
	return exit.Sub(entry).Mul(qty)
}
