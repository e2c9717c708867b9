package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Signal actions. Buy opens or adds long exposure; everything else trades
// out of it.
const (
	ActionBuy        = "buy"
	ActionSell       = "sell"
	ActionClose      = "close"
	ActionCloseLong  = "close_long"
	ActionCloseShort = "close_short"
)

// MinSymbolLen is the shortest accepted trading symbol.
const MinSymbolLen = 3

// Signal is the inbound trading decision the engine executes. Quantity is in
// base units; Price of zero requests a market order.
type Signal struct {
	Symbol     string            `json:"symbol"`
	Action     string            `json:"action"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Price      decimal.Decimal   `json:"price,omitempty"`
	StopLoss   decimal.Decimal   `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal   `json:"take_profit,omitempty"`
	StrategyID string            `json:"strategy_id,omitempty"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IsBuyLike reports whether the action opens long exposure.
func (s *Signal) IsBuyLike() bool {
	return strings.ToLower(s.Action) == ActionBuy
}

// Validate checks the signal locally. It never touches the network and
// returns a *ValidationError describing the first problem found.
func (s *Signal) Validate() error {
	if len(strings.TrimSpace(s.Symbol)) < MinSymbolLen {
		return &ValidationError{Field: "symbol", Message: "symbol is empty or too short"}
	}
	switch strings.ToLower(s.Action) {
	case ActionBuy, ActionSell, ActionClose, ActionCloseLong, ActionCloseShort:
	default:
		return &ValidationError{Field: "action", Message: "unknown action: " + s.Action}
	}
	if !s.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Message: "quantity must be positive"}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return &ValidationError{Field: "confidence", Message: "confidence must be within [0,1]"}
	}
	return nil
}
