// Package engine coordinates order submission, status monitoring, position
// bookkeeping and risk gating into one execution pipeline.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/infra"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/storage"
)

// Listener receives an order lifecycle event with a full snapshot of the
// order at dispatch time.
type Listener func(domain.Order)

// RejectListener additionally receives the rejection or timeout reason.
type RejectListener func(domain.Order, string)

// OrderManager validates and submits orders, owns the order registry, and
// dispatches lifecycle callbacks. Venue-level rejections are converted to
// order state, never raised; only local validation returns an error.
type OrderManager struct {
	mu       sync.RWMutex
	active   map[string]*domain.Order
	archived map[string]*domain.Order

	monitor *OrderMonitor
	archive *storage.Archive
	metrics *domain.ExecutionMetrics

	// Supervised set of monitor goroutines, joined on Drain.
	wg sync.WaitGroup

	lmu         sync.RWMutex
	onFilled    []Listener
	onPartial   []Listener
	onCancelled []Listener
	onRejected  []RejectListener

	monitorTimeout time.Duration
	maxPolls       int
}

// NewOrderManager wires the manager with its monitor, audit archive and
// counters. archive may be nil for tests.
func NewOrderManager(monitor *OrderMonitor, archive *storage.Archive, metrics *domain.ExecutionMetrics, monitorTimeout time.Duration, maxPolls int) *OrderManager {
	return &OrderManager{
		active:         make(map[string]*domain.Order),
		archived:       make(map[string]*domain.Order),
		monitor:        monitor,
		archive:        archive,
		metrics:        metrics,
		monitorTimeout: monitorTimeout,
		maxPolls:       maxPolls,
	}
}

// OnFilled registers a listener for full fills.
func (m *OrderManager) OnFilled(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.onFilled = append(m.onFilled, l)
}

// OnPartialFill registers a listener for partial fills.
func (m *OrderManager) OnPartialFill(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.onPartial = append(m.onPartial, l)
}

// OnCancelled registers a listener for cancellations.
func (m *OrderManager) OnCancelled(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.onCancelled = append(m.onCancelled, l)
}

// OnRejected registers a listener for rejections, failures and timeouts.
func (m *OrderManager) OnRejected(l RejectListener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.onRejected = append(m.onRejected, l)
}

// Validate fail-fast checks the order locally. No network call is made.
func (m *OrderManager) Validate(ord *domain.Order) error {
	if len(strings.TrimSpace(ord.Symbol)) < domain.MinSymbolLen {
		return &domain.ValidationError{Field: "symbol", Message: "symbol is empty or too short"}
	}
	if !ord.Quantity.IsPositive() {
		return &domain.ValidationError{Field: "quantity", Message: "quantity must be positive"}
	}
	if ord.Side != domain.SideBuy && ord.Side != domain.SideSell {
		return &domain.ValidationError{Field: "side", Message: "side must be BUY or SELL"}
	}
	if ord.Type.RequiresPrice() && !ord.Price.IsPositive() {
		return &domain.ValidationError{Field: "price", Message: ord.Type.String() + " order requires a price"}
	}
	if ord.Type.RequiresStopPrice() && !ord.StopPrice.IsPositive() {
		return &domain.ValidationError{Field: "stop_price", Message: ord.Type.String() + " order requires a stop price"}
	}
	return nil
}

// PlaceOrder validates and submits the order. The returned error is only
// ever a *domain.ValidationError; venue rejection and submission failure are
// reflected in order state and the rejected callback, with a nil order
// returned.
func (m *OrderManager) PlaceOrder(ctx context.Context, ord *domain.Order, venue domain.ExchangeAdapter) (*domain.Order, error) {
	if err := m.Validate(ord); err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordOrder()
	}

	m.mu.Lock()
	ord.Venue = venue.Name()
	if err := ord.Transition(domain.StatusSubmitted); err != nil {
		m.mu.Unlock()
		return nil, &domain.ValidationError{Field: "status", Message: err.Error()}
	}
	ord.SubmittedAt = time.Now()
	m.mu.Unlock()

	ack, err := venue.PlaceOrder(ctx, ord)
	if err != nil {
		slog.Error("order submission failed",
			slog.String("order", ord.ID),
			slog.String("venue", venue.Name()),
			slog.Any("error", err))
		m.markTerminal(ord, domain.StatusFailed, "submission failed: "+err.Error())
		return nil, nil
	}
	if ack == nil || ack.VenueOrderID == "" {
		slog.Warn("order rejected by venue",
			slog.String("order", ord.ID),
			slog.String("venue", venue.Name()))
		m.markTerminal(ord, domain.StatusRejected, "rejected by venue")
		return nil, nil
	}

	m.mu.Lock()
	ord.VenueOrderID = ack.VenueOrderID
	if err := ord.Transition(domain.StatusAcknowledged); err != nil {
		slog.Warn("unexpected transition on acknowledgement", slog.Any("error", err))
	}
	m.active[ord.ID] = ord
	snap := m.snapshotLocked(ord)
	m.mu.Unlock()

	m.persist(&snap)

	slog.Info("order acknowledged",
		slog.String("order", ord.ID),
		slog.String("venue_order", ack.VenueOrderID),
		slog.String("symbol", ord.Symbol),
		slog.String("side", ord.Side.String()),
		slog.String("type", ord.Type.String()))

	// Market orders execute immediately; everything else gets an
	// independent monitoring task registered in the supervised set.
	if ord.Type != domain.TypeMarket {
		m.Watch(ctx, ord, venue)
	}

	return ord, nil
}

// Watch spawns a supervised monitoring goroutine for a working order. Used
// for every resting order, and for market orders that did not settle on
// their first status fetch.
func (m *OrderManager) Watch(ctx context.Context, ord *domain.Order, venue domain.ExchangeAdapter) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor.Run(ctx, ord, venue, m, m.monitorTimeout, m.maxPolls)
	}()
}

// CancelOrder requests cancellation of a working order. Returns false when
// the order is unknown, already terminal, or the venue declined.
func (m *OrderManager) CancelOrder(ctx context.Context, orderID string, venue domain.ExchangeAdapter) (bool, error) {
	m.mu.Lock()
	ord, ok := m.active[orderID]
	if !ok || ord.Status.IsTerminal() {
		m.mu.Unlock()
		return false, nil
	}
	if err := ord.Transition(domain.StatusCancellationPending); err != nil {
		m.mu.Unlock()
		return false, err
	}
	venueID, symbol := ord.VenueOrderID, ord.Symbol
	m.mu.Unlock()

	ok, err := venue.CancelOrder(ctx, venueID, symbol)
	if err != nil {
		slog.Warn("cancel request failed",
			slog.String("order", orderID),
			slog.Any("error", err))
		return false, err
	}
	if !ok {
		return false, nil
	}

	m.setStatus(ord, domain.StatusCancelled)
	m.finalize(ord, "cancelled")
	return true, nil
}

// GetOrder looks up an order snapshot by engine ID across active and
// archived registries.
func (m *OrderManager) GetOrder(orderID string) (domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ord, ok := m.active[orderID]; ok {
		return m.snapshotLocked(ord), true
	}
	if ord, ok := m.archived[orderID]; ok {
		return m.snapshotLocked(ord), true
	}
	return domain.Order{}, false
}

// ActiveOrders returns snapshots of every non-terminal registered order.
func (m *OrderManager) ActiveOrders() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0, len(m.active))
	for _, ord := range m.active {
		if !ord.Status.IsTerminal() {
			out = append(out, m.snapshotLocked(ord))
		}
	}
	return out
}

// Drain blocks until every monitoring goroutine has finished or the context
// expires.
func (m *OrderManager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyReport folds a venue report into the order under the registry lock
// and returns whether the cumulative fill increased, plus a snapshot.
func (m *OrderManager) applyReport(ord *domain.Order, next domain.OrderStatus, rpt *domain.OrderReport) (bool, domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prevFilled := ord.FilledQty
	if rpt != nil {
		if err := ord.ApplyFill(rpt.FilledQty, rpt.FillPrice, rpt.Commission); err != nil {
			slog.Warn("fill report rejected",
				slog.String("order", ord.ID),
				slog.Any("error", err))
		}
	}
	if err := ord.Transition(next); err != nil {
		// Out-of-order venue reports must not resurrect the order.
		slog.Debug("ignoring status regression",
			slog.String("order", ord.ID),
			slog.String("reported", next.String()))
	}
	return ord.FilledQty.GreaterThan(prevFilled), m.snapshotLocked(ord)
}

// setStatus forces a transition under the lock, logging illegal moves.
func (m *OrderManager) setStatus(ord *domain.Order, next domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ord.Transition(next); err != nil {
		slog.Warn("status transition refused",
			slog.String("order", ord.ID),
			slog.Any("error", err))
	}
}

// markTerminal transitions and finalizes a failed or rejected submission.
func (m *OrderManager) markTerminal(ord *domain.Order, st domain.OrderStatus, reason string) {
	m.setStatus(ord, st)
	m.finalize(ord, reason)
}

// finalize archives a terminal order, updates counters and dispatches the
// matching lifecycle callback. Dispatch happens outside the registry lock.
// Idempotent: a second finalize of the same order is a no-op, so a monitor
// racing an explicit cancel cannot double-dispatch.
func (m *OrderManager) finalize(ord *domain.Order, reason string) domain.Order {
	m.mu.Lock()
	if _, done := m.archived[ord.ID]; done {
		snap := m.snapshotLocked(ord)
		m.mu.Unlock()
		return snap
	}
	delete(m.active, ord.ID)
	m.archived[ord.ID] = ord
	snap := m.snapshotLocked(ord)
	m.mu.Unlock()

	infra.ObserveOrder(snap.Mode.String(), snap.Side.String(), snap.Status.String())
	m.persist(&snap)

	switch snap.Status {
	case domain.StatusFullyFilled:
		if m.metrics != nil {
			m.metrics.RecordSuccess(snap.FilledQty, snap.Commission)
		}
		m.dispatchFilled(snap)
	case domain.StatusCancelled:
		if m.metrics != nil {
			m.metrics.RecordCancel()
		}
		m.dispatchCancelled(snap)
	case domain.StatusRejected, domain.StatusFailed, domain.StatusExpired:
		if m.metrics != nil {
			m.metrics.RecordFailure()
		}
		m.dispatchRejected(snap, reason)
	}
	return snap
}

func (m *OrderManager) persist(snap *domain.Order) {
	if m.archive == nil {
		return
	}
	if err := m.archive.SaveOrder(context.Background(), snap); err != nil {
		slog.Error("order archive write failed",
			slog.String("order", snap.ID),
			slog.Any("error", err))
	}
}

// snapshotLocked copies the order value. Caller holds mu.
func (m *OrderManager) snapshotLocked(ord *domain.Order) domain.Order {
	snap := *ord
	if ord.Metadata != nil {
		snap.Metadata = make(map[string]string, len(ord.Metadata))
		for k, v := range ord.Metadata {
			snap.Metadata[k] = v
		}
	}
	return snap
}

func (m *OrderManager) dispatchFilled(snap domain.Order) {
	m.lmu.RLock()
	listeners := m.onFilled
	m.lmu.RUnlock()
	for _, l := range listeners {
		m.safeDispatch(l, snap, "filled")
	}
}

func (m *OrderManager) dispatchPartial(snap domain.Order) {
	m.lmu.RLock()
	listeners := m.onPartial
	m.lmu.RUnlock()
	for _, l := range listeners {
		m.safeDispatch(l, snap, "partial_fill")
	}
}

func (m *OrderManager) dispatchCancelled(snap domain.Order) {
	m.lmu.RLock()
	listeners := m.onCancelled
	m.lmu.RUnlock()
	for _, l := range listeners {
		m.safeDispatch(l, snap, "cancelled")
	}
}

func (m *OrderManager) dispatchRejected(snap domain.Order, reason string) {
	m.lmu.RLock()
	listeners := m.onRejected
	m.lmu.RUnlock()
	for _, l := range listeners {
		func() {
			defer m.recoverListener(snap.ID, "rejected")
			l(snap, reason)
		}()
	}
}

// safeDispatch shields the lifecycle from a faulty listener.
func (m *OrderManager) safeDispatch(l Listener, snap domain.Order, class string) {
	defer m.recoverListener(snap.ID, class)
	l(snap)
}

func (m *OrderManager) recoverListener(orderID, class string) {
	if r := recover(); r != nil {
		slog.Error("order listener panicked",
			slog.String("order", orderID),
			slog.String("class", class),
			slog.Any("panic", r))
	}
}
