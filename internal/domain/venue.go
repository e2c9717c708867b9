package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PlaceAck is a venue's acknowledgement of a placed order.
type PlaceAck struct {
	VenueOrderID string
	RawStatus    string
}

// OrderReport is a venue's view of an order's progress. RawStatus carries
// the venue's own vocabulary; the monitor normalizes it.
type OrderReport struct {
	RawStatus  string
	FilledQty  decimal.Decimal
	FillPrice  decimal.Decimal
	Commission decimal.Decimal
}

// ExchangeAdapter is the capability a venue must provide. Calls may fail or
// time out; the engine never assumes atomicity between its own state and the
// remote effect.
type ExchangeAdapter interface {
	// PlaceOrder submits the order and returns the venue's acknowledgement.
	PlaceOrder(ctx context.Context, order *Order) (*PlaceAck, error)

	// GetOrder fetches the venue's current view of the order.
	GetOrder(ctx context.Context, venueOrderID, symbol string) (*OrderReport, error)

	// CancelOrder requests cancellation; true means the venue accepted it.
	CancelOrder(ctx context.Context, venueOrderID, symbol string) (bool, error)

	// Name returns the venue identifier, e.g. "binance".
	Name() string
}
