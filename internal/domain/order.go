package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText serializes the side to its canonical string.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText restores a side from its canonical string.
func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSide converts a raw string to a Side.
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("unknown side: %q", raw)
	}
}

// OrderType is the execution style of an order.
type OrderType int

const (
	TypeMarket OrderType = iota
	TypeLimit
	TypeStopLoss
	TypeTakeProfit
	TypeTrailingStop
	TypeBracket
)

func (t OrderType) String() string {
	switch t {
	case TypeMarket:
		return "MARKET"
	case TypeLimit:
		return "LIMIT"
	case TypeStopLoss:
		return "STOP_LOSS"
	case TypeTakeProfit:
		return "TAKE_PROFIT"
	case TypeTrailingStop:
		return "TRAILING_STOP"
	case TypeBracket:
		return "BRACKET"
	default:
		return "UNKNOWN"
	}
}

// MarshalText serializes the order type to its canonical string.
func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText restores an order type from its canonical string.
func (t *OrderType) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseOrderType converts a raw string to an OrderType.
func ParseOrderType(raw string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MARKET":
		return TypeMarket, nil
	case "LIMIT":
		return TypeLimit, nil
	case "STOP_LOSS":
		return TypeStopLoss, nil
	case "TAKE_PROFIT":
		return TypeTakeProfit, nil
	case "TRAILING_STOP":
		return TypeTrailingStop, nil
	case "BRACKET":
		return TypeBracket, nil
	default:
		return 0, fmt.Errorf("unknown order type: %q", raw)
	}
}

// RequiresPrice reports whether the order type needs a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == TypeLimit
}

// RequiresStopPrice reports whether the order type needs a stop price.
func (t OrderType) RequiresStopPrice() bool {
	return t == TypeStopLoss || t == TypeTakeProfit
}

// ExecutionMode selects whether orders reach a real venue or a simulation.
type ExecutionMode int

const (
	ModeLive ExecutionMode = iota
	ModePaper
	ModeDemo
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeLive:
		return "LIVE"
	case ModePaper:
		return "PAPER"
	case ModeDemo:
		return "DEMO"
	default:
		return "UNKNOWN"
	}
}

// MarshalText serializes the mode to its canonical string.
func (m ExecutionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText restores a mode from its canonical string.
func (m *ExecutionMode) UnmarshalText(text []byte) error {
	parsed, err := ParseExecutionMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseExecutionMode converts a raw string to an ExecutionMode.
// An empty string defaults to PAPER.
func ParseExecutionMode(raw string) (ExecutionMode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LIVE":
		return ModeLive, nil
	case "PAPER", "":
		return ModePaper, nil
	case "DEMO":
		return ModeDemo, nil
	default:
		return 0, fmt.Errorf("unknown execution mode: %q", raw)
	}
}

// OrderStatus is the canonical order lifecycle state.
type OrderStatus int

const (
	StatusQueued OrderStatus = iota
	StatusSubmitted
	StatusAcknowledged
	StatusPartiallyFilled
	StatusFullyFilled
	StatusCancellationPending
	StatusCancelled
	StatusRejected
	StatusFailed
	StatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusAcknowledged:
		return "ACKNOWLEDGED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFullyFilled:
		return "FULLY_FILLED"
	case StatusCancellationPending:
		return "CANCELLATION_PENDING"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	case StatusFailed:
		return "FAILED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText serializes the status to its canonical string.
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText restores a status from its canonical string.
func (s *OrderStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseOrderStatus converts a raw string to an OrderStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "QUEUED":
		return StatusQueued, nil
	case "SUBMITTED":
		return StatusSubmitted, nil
	case "ACKNOWLEDGED":
		return StatusAcknowledged, nil
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled, nil
	case "FULLY_FILLED":
		return StatusFullyFilled, nil
	case "CANCELLATION_PENDING":
		return StatusCancellationPending, nil
	case "CANCELLED":
		return StatusCancelled, nil
	case "REJECTED":
		return StatusRejected, nil
	case "FAILED":
		return StatusFailed, nil
	case "EXPIRED":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown order status: %q", raw)
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFullyFilled, StatusCancelled, StatusRejected, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// statusTransitions encodes the forward-only state machine.
// Terminal states have no outgoing edges.
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusQueued: {StatusSubmitted, StatusCancelled, StatusRejected, StatusFailed},
	StatusSubmitted: {
		StatusAcknowledged, StatusPartiallyFilled, StatusFullyFilled,
		StatusCancellationPending, StatusCancelled, StatusRejected, StatusFailed, StatusExpired,
	},
	StatusAcknowledged: {
		StatusPartiallyFilled, StatusFullyFilled,
		StatusCancellationPending, StatusCancelled, StatusRejected, StatusFailed, StatusExpired,
	},
	StatusPartiallyFilled: {
		StatusPartiallyFilled, StatusFullyFilled,
		StatusCancellationPending, StatusCancelled, StatusRejected, StatusFailed, StatusExpired,
	},
	// A cancel request can race a fill on the venue side.
	StatusCancellationPending: {StatusCancelled, StatusFullyFilled, StatusFailed, StatusExpired},
}

// CanTransition reports whether moving from s to next is a legal step.
// Re-entering PARTIALLY_FILLED (more fills) is legal; leaving a terminal
// state never is.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a single order through its whole lifecycle. Zero Price/StopPrice
// means "not set". Concurrent mutation is guarded by the owning
// OrderManager, not by the Order itself.
type Order struct {
	ID           string            `json:"id"`
	VenueOrderID string            `json:"venue_order_id,omitempty"`
	Venue        string            `json:"venue"`
	Symbol       string            `json:"symbol"`
	Side         Side              `json:"side"`
	Type         OrderType         `json:"type"`
	Mode         ExecutionMode     `json:"mode"`
	Status       OrderStatus       `json:"status"`
	Quantity     decimal.Decimal   `json:"quantity"`
	Price        decimal.Decimal   `json:"price,omitempty"`
	StopPrice    decimal.Decimal   `json:"stop_price,omitempty"`
	FilledQty    decimal.Decimal   `json:"filled_qty"`
	AvgFillPrice decimal.Decimal   `json:"avg_fill_price"`
	Commission   decimal.Decimal   `json:"commission"`
	StrategyID   string            `json:"strategy_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	FilledAt     time.Time         `json:"filled_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsOpen reports whether the order is still working on the venue.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}

// RemainingQty returns the unfilled remainder.
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Transition advances the status, enforcing the forward-only machine.
// Transitioning to the current status is a no-op.
func (o *Order) Transition(next OrderStatus) error {
	if o.Status == next {
		return nil
	}
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("illegal order transition %s -> %s", o.Status, next)
	}
	o.Status = next
	if next == StatusFullyFilled {
		o.FilledAt = time.Now()
	}
	return nil
}

// ApplyFill records a cumulative fill report from the venue. Stale reports
// (cumulative quantity below what is already booked) are ignored; a report
// exceeding the requested quantity is an error.
func (o *Order) ApplyFill(cumQty, avgPrice, commission decimal.Decimal) error {
	if cumQty.GreaterThan(o.Quantity) {
		return fmt.Errorf("fill %s exceeds order quantity %s", cumQty, o.Quantity)
	}
	if cumQty.LessThan(o.FilledQty) {
		return nil
	}
	o.FilledQty = cumQty
	if avgPrice.IsPositive() {
		o.AvgFillPrice = avgPrice
	}
	if commission.IsPositive() {
		o.Commission = commission
	}
	return nil
}
