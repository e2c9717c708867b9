package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/infra"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/notify"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/risk"
)

// protection carries a signal's stop-loss/take-profit levels until the
// opening order fills.
type protection struct {
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
}

// Engine orchestrates the execution pipeline: signal validation, risk
// gating, order placement, monitoring, position bookkeeping and
// notification. Every signal produces exactly one ExecutionResult; the
// engine never propagates a panic or error to its caller.
type Engine struct {
	mode          domain.ExecutionMode
	initialEquity decimal.Decimal

	manager  *OrderManager
	monitor  *OrderMonitor
	tracker  *PositionTracker
	guard    *risk.Guard
	notifier notify.Notifier
	metrics  *domain.ExecutionMetrics

	mu            sync.Mutex
	running       bool
	breakerActive bool
	breakerReason string
	totalSignals  int64
	successful    int64
	failed        int64
	pending       map[string]protection
	lastTicks     map[string]decimal.Decimal
}

// NewEngine wires the engine and registers its lifecycle listeners with the
// order manager. notifier may be nil.
func NewEngine(mode domain.ExecutionMode, initialEquity decimal.Decimal, manager *OrderManager, monitor *OrderMonitor, tracker *PositionTracker, guard *risk.Guard, notifier notify.Notifier) *Engine {
	e := &Engine{
		mode:          mode,
		initialEquity: initialEquity,
		manager:       manager,
		monitor:       monitor,
		tracker:       tracker,
		guard:         guard,
		notifier:      notifier,
		pending:       make(map[string]protection),
		lastTicks:     make(map[string]decimal.Decimal),
	}
	if manager.metrics == nil {
		manager.metrics = domain.NewExecutionMetrics()
	}
	e.metrics = manager.metrics
	manager.OnFilled(e.handleFilled)
	manager.OnRejected(e.handleRejected)
	return e
}

// Start marks the engine running.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	slog.Info("execution engine started", slog.String("mode", e.mode.String()))
}

// Shutdown stops accepting signals and drains every monitoring goroutine,
// waiting until they finish or the context expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	slog.Info("execution engine draining monitors")
	return e.manager.Drain(ctx)
}

// ExecuteSignal runs one signal through the full pipeline and returns its
// ExecutionResult. All failures, from validation through the venue call,
// come back as data.
func (e *Engine) ExecuteSignal(ctx context.Context, sig *domain.Signal, venue domain.ExchangeAdapter) (res *domain.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("signal execution panicked", slog.Any("panic", r))
			res = e.fail(fmt.Sprintf("internal error: %v", r))
		}
	}()

	e.mu.Lock()
	e.totalSignals++
	e.mu.Unlock()

	if err := sig.Validate(); err != nil {
		return e.fail(err.Error())
	}

	if e.CircuitBreakerActive() {
		return e.fail("circuit breaker active, signal rejected")
	}

	equity := e.equity()
	proposed := decimal.Zero
	if sig.Price.IsPositive() {
		proposed = sig.Quantity.Mul(sig.Price)
	} else if pos, ok := e.tracker.GetPosition(sig.Symbol); ok {
		proposed = sig.Quantity.Mul(pos.CurrentPrice)
	} else if tick := e.lastTick(sig.Symbol); tick.IsPositive() {
		proposed = sig.Quantity.Mul(tick)
	}

	report := e.guard.CheckAllLimits(e.tracker.OpenCount(), proposed, equity, equity)
	if !report.Allowed {
		// Risk reasons are surfaced verbatim, not wrapped in a
		// generic error.
		return e.fail(strings.Join(report.Reasons(), "; "))
	}

	ord := e.signalToOrder(sig)
	if sig.StopLoss.IsPositive() || sig.TakeProfit.IsPositive() {
		e.mu.Lock()
		e.pending[ord.ID] = protection{stopLoss: sig.StopLoss, takeProfit: sig.TakeProfit}
		e.mu.Unlock()
	}

	placed, err := e.manager.PlaceOrder(ctx, ord, venue)
	if err != nil {
		e.clearPending(ord.ID)
		return e.fail(err.Error())
	}
	if placed == nil {
		e.clearPending(ord.ID)
		snap, _ := e.manager.GetOrder(ord.ID)
		res := e.fail("order submission failed")
		res.Order = &snap
		return res
	}

	var snap domain.Order
	if ord.Type == domain.TypeMarket {
		// Market orders settle immediately; one status fetch collects
		// the fill. The rare market order still working after that
		// falls back to regular monitoring.
		snap = e.monitor.PollOnce(ctx, ord, venue, e.manager)
		if !snap.Status.IsTerminal() {
			e.manager.Watch(ctx, placed, venue)
		}
	} else {
		snap, _ = e.manager.GetOrder(ord.ID)
	}

	// An order that died on the venue is a failed signal even though
	// submission itself went through.
	if snap.Status.IsTerminal() && snap.Status != domain.StatusFullyFilled {
		e.clearPending(ord.ID)
		res := e.fail("order not filled, status " + snap.Status.String())
		res.Order = &snap
		return res
	}

	result := &domain.ExecutionResult{
		Success:   true,
		Order:     &snap,
		Metadata:  map[string]string{"strategy_id": sig.StrategyID},
		Timestamp: time.Now(),
	}
	if pos, ok := e.tracker.GetPosition(sig.Symbol); ok {
		result.Position = &pos
	}

	e.mu.Lock()
	e.successful++
	e.mu.Unlock()
	infra.ObserveSignal("success")

	return result
}

// ClosePosition submits an opposite-side market order sized to the open
// position and realizes its PnL. Failure to submit is reported in the
// result, never raised.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, venue domain.ExchangeAdapter, reason string) *domain.ExecutionResult {
	pos, ok := e.tracker.GetPosition(symbol)
	if !ok {
		return domain.FailedResult("no open position for " + symbol)
	}

	side := domain.SideSell
	if pos.IsShort() {
		side = domain.SideBuy
	}

	ord := &domain.Order{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Side:      side,
		Type:      domain.TypeMarket,
		Mode:      e.mode,
		Status:    domain.StatusQueued,
		Quantity:  pos.Quantity,
		Metadata:  map[string]string{"close_reason": reason},
		CreatedAt: time.Now(),
	}

	placed, err := e.manager.PlaceOrder(ctx, ord, venue)
	if err != nil {
		return domain.FailedResult(err.Error())
	}
	if placed == nil {
		return domain.FailedResult("close order submission failed for " + symbol)
	}

	snap := e.monitor.PollOnce(ctx, ord, venue, e.manager)
	if !snap.Status.IsTerminal() {
		e.manager.Watch(ctx, placed, venue)
	}

	result := &domain.ExecutionResult{
		Success:   snap.Status == domain.StatusFullyFilled,
		Order:     &snap,
		Metadata:  map[string]string{"close_reason": reason},
		Timestamp: time.Now(),
	}
	if !result.Success {
		result.Error = "close order not filled, status " + snap.Status.String()
	}
	return result
}

// EmergencyStopAll cancels every working order and closes every open
// position, continuing through individual failures. The engine breaker is
// set as a side effect. Safe to call repeatedly.
func (e *Engine) EmergencyStopAll(ctx context.Context, venue domain.ExchangeAdapter) *domain.StopReport {
	e.ActivateCircuitBreaker("emergency stop")

	report := &domain.StopReport{
		CancelledOrders: []string{},
		ClosedPositions: []string{},
		Errors:          []string{},
	}

	for _, ord := range e.manager.ActiveOrders() {
		ok, err := e.manager.CancelOrder(ctx, ord.ID, venue)
		switch {
		case err != nil:
			report.Errors = append(report.Errors, fmt.Sprintf("cancel %s: %v", ord.ID, err))
		case ok:
			report.CancelledOrders = append(report.CancelledOrders, ord.ID)
		default:
			report.Errors = append(report.Errors, fmt.Sprintf("cancel %s: venue declined", ord.ID))
		}
	}

	for _, pos := range e.tracker.Snapshot() {
		res := e.ClosePosition(ctx, pos.Symbol, venue, "emergency stop")
		if res.Success {
			report.ClosedPositions = append(report.ClosedPositions, pos.Symbol)
		} else {
			report.Errors = append(report.Errors, fmt.Sprintf("close %s: %s", pos.Symbol, res.Error))
		}
	}

	slog.Warn("emergency stop completed",
		slog.Int("cancelled", len(report.CancelledOrders)),
		slog.Int("closed", len(report.ClosedPositions)),
		slog.Int("errors", len(report.Errors)))
	e.sendNotification(ctx, fmt.Sprintf("EMERGENCY STOP: %d orders cancelled, %d positions closed, %d errors",
		len(report.CancelledOrders), len(report.ClosedPositions), len(report.Errors)))

	return report
}

// ActivateCircuitBreaker trips the engine's manual breaker. Independent of
// the risk guard's equity-derived breaker: either one alone blocks trading.
func (e *Engine) ActivateCircuitBreaker(reason string) {
	e.mu.Lock()
	e.breakerActive = true
	e.breakerReason = reason
	e.mu.Unlock()

	infra.SetBreakerActive(true)
	slog.Warn("engine circuit breaker ACTIVATED", slog.String("reason", reason))
}

// DeactivateCircuitBreaker clears the engine's manual breaker only. The
// risk guard's breaker, if tripped, keeps blocking until its cooldown
// elapses.
func (e *Engine) DeactivateCircuitBreaker() {
	e.mu.Lock()
	e.breakerActive = false
	e.breakerReason = ""
	e.mu.Unlock()

	infra.SetBreakerActive(e.guard.ShouldTriggerCircuitBreaker())
	slog.Info("engine circuit breaker deactivated")
}

// CircuitBreakerActive reports whether either breaker currently blocks
// execution.
func (e *Engine) CircuitBreakerActive() bool {
	e.mu.Lock()
	manual := e.breakerActive
	e.mu.Unlock()
	return manual || e.guard.ShouldTriggerCircuitBreaker()
}

// OnTick feeds a price update into position bookkeeping. Implements the
// feed sink. The last price per symbol is kept so market signals can be
// sized against it even before a position exists.
func (e *Engine) OnTick(symbol string, price decimal.Decimal) {
	if price.IsPositive() {
		e.mu.Lock()
		e.lastTicks[symbol] = price
		e.mu.Unlock()
	}
	e.tracker.UpdatePrice(symbol, price)
}

// lastTick returns the most recent price seen for symbol, zero if none.
func (e *Engine) lastTick(symbol string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTicks[symbol]
}

// EngineStats is the engine-level slice of the performance snapshot.
type EngineStats struct {
	Mode                 string  `json:"mode"`
	IsRunning            bool    `json:"is_running"`
	CircuitBreakerActive bool    `json:"circuit_breaker_active"`
	BreakerReason        string  `json:"breaker_reason,omitempty"`
	TotalSignals         int64   `json:"total_signals"`
	SuccessfulExecutions int64   `json:"successful_executions"`
	FailedExecutions     int64   `json:"failed_executions"`
	SuccessRate          float64 `json:"success_rate"`
}

// PerformanceSnapshot is the composite read model for dashboards.
type PerformanceSnapshot struct {
	Engine     EngineStats            `json:"engine"`
	Positions  Aggregate              `json:"positions"`
	Risk       risk.Status            `json:"risk"`
	Monitoring MonitorStats           `json:"monitoring"`
	Orders     domain.MetricsSnapshot `json:"orders"`
}

// GetPerformanceMetrics assembles the composite snapshot of engine
// counters, position aggregates, risk status and monitoring statistics.
func (e *Engine) GetPerformanceMetrics() PerformanceSnapshot {
	e.mu.Lock()
	st := EngineStats{
		Mode:                 e.mode.String(),
		IsRunning:            e.running,
		BreakerReason:        e.breakerReason,
		TotalSignals:         e.totalSignals,
		SuccessfulExecutions: e.successful,
		FailedExecutions:     e.failed,
	}
	if e.totalSignals > 0 {
		st.SuccessRate = float64(e.successful) / float64(e.totalSignals)
	}
	e.mu.Unlock()
	st.CircuitBreakerActive = e.CircuitBreakerActive()

	return PerformanceSnapshot{
		Engine:     st,
		Positions:  e.tracker.Aggregates(),
		Risk:       e.guard.GetStatus(),
		Monitoring: e.monitor.Stats(),
		Orders:     e.metrics.Snapshot(),
	}
}

// ResetMetrics zeroes the execution counters. Operator action only.
func (e *Engine) ResetMetrics() {
	e.metrics.Reset()
	e.mu.Lock()
	e.totalSignals = 0
	e.successful = 0
	e.failed = 0
	e.mu.Unlock()
}

// signalToOrder converts an accepted signal into an order. Buy-like
// actions map to BUY, everything else trades out (SELL). A given price
// selects a limit order, otherwise market.
func (e *Engine) signalToOrder(sig *domain.Signal) *domain.Order {
	side := domain.SideSell
	if sig.IsBuyLike() {
		side = domain.SideBuy
	}

	typ := domain.TypeMarket
	if sig.Price.IsPositive() {
		typ = domain.TypeLimit
	}

	meta := make(map[string]string, len(sig.Metadata))
	for k, v := range sig.Metadata {
		meta[k] = v
	}

	return &domain.Order{
		ID:         uuid.New().String(),
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       typ,
		Mode:       e.mode,
		Status:     domain.StatusQueued,
		Quantity:   sig.Quantity,
		Price:      sig.Price,
		StrategyID: sig.StrategyID,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	}
}

// handleFilled routes a full fill into position bookkeeping: an order
// opposite to an existing position closes it, anything else opens one.
func (e *Engine) handleFilled(ord domain.Order) {
	ctx := context.Background()

	pos, exists := e.tracker.GetPosition(ord.Symbol)
	closing := exists &&
		((pos.IsLong() && ord.Side == domain.SideSell) ||
			(pos.IsShort() && ord.Side == domain.SideBuy))

	if closing {
		closed, err := e.tracker.ClosePosition(ord.Symbol, ord.AvgFillPrice)
		if err != nil {
			slog.Error("position close failed",
				slog.String("symbol", ord.Symbol),
				slog.Any("error", err))
			return
		}
		if closed.RealizedPnL.IsNegative() {
			e.guard.RecordLoss(closed.RealizedPnL.Neg())
		} else {
			e.guard.RecordProfit(closed.RealizedPnL)
		}
		e.clearPending(ord.ID)
		e.sendNotification(ctx, fmt.Sprintf("Closed %s %s: PnL %s (%.2f%%)",
			closed.Side, closed.Symbol, closed.RealizedPnL, closed.RealizedPnLPct))
		return
	}

	side := domain.PositionLong
	if ord.Side == domain.SideSell {
		side = domain.PositionShort
	}

	e.mu.Lock()
	prot := e.pending[ord.ID]
	delete(e.pending, ord.ID)
	e.mu.Unlock()

	opened := e.tracker.OpenPosition(OpenParams{
		Symbol:     ord.Symbol,
		Side:       side,
		Quantity:   ord.FilledQty,
		EntryPrice: ord.AvgFillPrice,
		StopLoss:   prot.stopLoss,
		TakeProfit: prot.takeProfit,
		Venue:      ord.Venue,
		OrderID:    ord.ID,
	})
	e.sendNotification(ctx, fmt.Sprintf("Opened %s %s: qty %s @ %s",
		opened.Side, opened.Symbol, opened.Quantity, opened.EntryPrice))
}

// handleRejected clears pending protection and counts the failure.
func (e *Engine) handleRejected(ord domain.Order, reason string) {
	e.clearPending(ord.ID)
	slog.Warn("order rejected",
		slog.String("order", ord.ID),
		slog.String("symbol", ord.Symbol),
		slog.String("reason", reason))
}

// equity is the current account value: initial equity plus all realized
// and unrealized PnL.
func (e *Engine) equity() decimal.Decimal {
	agg := e.tracker.Aggregates()
	return e.initialEquity.Add(agg.TotalPnL)
}

func (e *Engine) fail(reason string) *domain.ExecutionResult {
	e.mu.Lock()
	e.failed++
	e.mu.Unlock()
	infra.ObserveSignal("failure")
	return domain.FailedResult(reason)
}

// sendNotification delivers best-effort; failures are logged and swallowed.
func (e *Engine) sendNotification(ctx context.Context, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.SendMessage(ctx, text); err != nil {
		slog.Warn("notification failed", slog.Any("error", err))
	}
}

func (e *Engine) clearPending(orderID string) {
	e.mu.Lock()
	delete(e.pending, orderID)
	e.mu.Unlock()
}
