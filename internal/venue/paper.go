// Package venue provides exchange adapters. The paper adapter simulates an
// exchange in memory for paper trading and tests.
package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
)

// paperOrder is the simulated venue-side order record.
type paperOrder struct {
	order      *domain.Order
	status     string
	filledQty  decimal.Decimal
	fillPrice  decimal.Decimal
	commission decimal.Decimal
}

// Paper is an in-memory ExchangeAdapter. Market orders fill immediately at
// the current mark price; limit orders rest until the mark crosses their
// limit. It speaks the binance status vocabulary so the monitor's standard
// normalization table applies.
type Paper struct {
	mu     sync.Mutex
	name   string
	marks  map[string]decimal.Decimal
	orders map[string]*paperOrder

	// commissionBps is charged on the fill notional, in basis points.
	commissionBps decimal.Decimal

	failNext  error
	neverFill bool
}

// NewPaper creates a paper venue with the given commission in basis points.
func NewPaper(name string, commissionBps decimal.Decimal) *Paper {
	return &Paper{
		name:          name,
		marks:         make(map[string]decimal.Decimal),
		orders:        make(map[string]*paperOrder),
		commissionBps: commissionBps,
	}
}

// SetPrice updates the mark price for a symbol and sweeps resting limit
// orders that now cross.
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
	p.sweepLocked(symbol, price)
}

// FailNext makes the next adapter call return err, then clears.
func (p *Paper) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// SetNeverFill freezes all orders as working, for timeout testing.
func (p *Paper) SetNeverFill(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.neverFill = v
}

func (p *Paper) Name() string { return p.name }

// PlaceOrder acknowledges the order and, for market orders, fills it at the
// current mark. An unknown symbol with a market order is an error: there is
// no price to fill against.
func (p *Paper) PlaceOrder(ctx context.Context, order *domain.Order) (*domain.PlaceAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	po := &paperOrder{order: order, status: "NEW"}
	venueID := uuid.New().String()
	p.orders[venueID] = po

	if p.neverFill {
		return &domain.PlaceAck{VenueOrderID: venueID, RawStatus: po.status}, nil
	}

	mark, ok := p.marks[order.Symbol]
	switch {
	case order.Type == domain.TypeMarket && !ok:
		delete(p.orders, venueID)
		return nil, fmt.Errorf("no mark price for %s", order.Symbol)
	case order.Type == domain.TypeMarket:
		p.fillLocked(po, mark)
	case ok && crosses(order, mark):
		p.fillLocked(po, order.Price)
	}

	return &domain.PlaceAck{VenueOrderID: venueID, RawStatus: po.status}, nil
}

// GetOrder returns the simulated venue view.
func (p *Paper) GetOrder(ctx context.Context, venueOrderID, symbol string) (*domain.OrderReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	po, ok := p.orders[venueOrderID]
	if !ok {
		return nil, errors.New("unknown order " + venueOrderID)
	}
	return &domain.OrderReport{
		RawStatus:  po.status,
		FilledQty:  po.filledQty,
		FillPrice:  po.fillPrice,
		Commission: po.commission,
	}, nil
}

// CancelOrder cancels a working order. Filled orders decline.
func (p *Paper) CancelOrder(ctx context.Context, venueOrderID, symbol string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return false, err
	}

	po, ok := p.orders[venueOrderID]
	if !ok {
		return false, nil
	}
	if po.status == "FILLED" || po.status == "CANCELED" {
		return false, nil
	}
	po.status = "CANCELED"
	return true, nil
}

func (p *Paper) takeFailure() error {
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}
	return nil
}

// sweepLocked fills resting limit orders crossed by the new mark.
func (p *Paper) sweepLocked(symbol string, mark decimal.Decimal) {
	if p.neverFill {
		return
	}
	for _, po := range p.orders {
		if po.order.Symbol != symbol || po.status != "NEW" {
			continue
		}
		if po.order.Type != domain.TypeMarket && crosses(po.order, mark) {
			p.fillLocked(po, po.order.Price)
		}
	}
}

// crosses reports whether the mark satisfies a resting limit: buys fill at
// or below the limit, sells at or above.
func crosses(ord *domain.Order, mark decimal.Decimal) bool {
	if !ord.Price.IsPositive() {
		return false
	}
	if ord.Side == domain.SideBuy {
		return mark.LessThanOrEqual(ord.Price)
	}
	return mark.GreaterThanOrEqual(ord.Price)
}

func (p *Paper) fillLocked(po *paperOrder, price decimal.Decimal) {
	po.status = "FILLED"
	po.filledQty = po.order.Quantity
	po.fillPrice = price
	notional := price.Mul(po.order.Quantity)
	po.commission = notional.Mul(p.commissionBps).Div(decimal.NewFromInt(10000))

	slog.Debug("paper fill",
		slog.String("symbol", po.order.Symbol),
		slog.String("qty", po.filledQty.String()),
		slog.String("price", price.String()))
}
