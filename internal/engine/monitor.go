package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/infra"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/pkg/stats"
)

// venueStatusTables maps each venue's raw status vocabulary to the
// canonical machine. Adding a venue means adding a table entry, not new
// branching in the monitor.
var venueStatusTables = map[string]map[string]domain.OrderStatus{
	"binance": {
		"NEW":              domain.StatusAcknowledged,
		"PARTIALLY_FILLED": domain.StatusPartiallyFilled,
		"FILLED":           domain.StatusFullyFilled,
		"CANCELED":         domain.StatusCancelled,
		"PENDING_CANCEL":   domain.StatusCancellationPending,
		"REJECTED":         domain.StatusRejected,
		"EXPIRED":          domain.StatusExpired,
	},
	"bybit": {
		"New":                     domain.StatusAcknowledged,
		"PartiallyFilled":         domain.StatusPartiallyFilled,
		"Filled":                  domain.StatusFullyFilled,
		"Cancelled":               domain.StatusCancelled,
		"PartiallyFilledCanceled": domain.StatusCancelled,
		"Rejected":                domain.StatusRejected,
		"Deactivated":             domain.StatusExpired,
	},
}

// OrderMonitor drives submitted orders to a terminal state by polling the
// venue on an adaptive schedule, and accumulates latency and slippage
// history across all monitored orders.
type OrderMonitor struct {
	mu        sync.Mutex
	latencies []time.Duration
	slippages []float64
	timeouts  int

	limiters *infra.VenueLimiters
}

// NewOrderMonitor creates a monitor sharing one poll budget per venue.
func NewOrderMonitor(limiters *infra.VenueLimiters) *OrderMonitor {
	return &OrderMonitor{limiters: limiters}
}

// NormalizeStatus maps a venue's raw status string to the canonical enum.
// Unknown strings fall back to case-insensitive substring matching; if still
// unmatched the order is assumed to be working (ACKNOWLEDGED) and a warning
// is logged. The monitor never fails on an unrecognized status.
func NormalizeStatus(venue, raw string) domain.OrderStatus {
	if table, ok := venueStatusTables[strings.ToLower(venue)]; ok {
		if st, ok := table[raw]; ok {
			return st
		}
	}
	if st, ok := fuzzyStatus(raw); ok {
		return st
	}
	slog.Warn("unrecognized venue status, assuming order still working",
		slog.String("venue", venue),
		slog.String("raw", raw))
	return domain.StatusAcknowledged
}

func fuzzyStatus(raw string) (domain.OrderStatus, bool) {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "fill") && strings.Contains(s, "partial"):
		return domain.StatusPartiallyFilled, true
	case strings.Contains(s, "fill"):
		return domain.StatusFullyFilled, true
	case strings.Contains(s, "cancel"):
		return domain.StatusCancelled, true
	case strings.Contains(s, "reject"):
		return domain.StatusRejected, true
	case strings.Contains(s, "expire"):
		return domain.StatusExpired, true
	default:
		return 0, false
	}
}

// ComputeSlippage returns the signed slippage percentage between the
// requested and actually filled price. Positive is always unfavorable: a
// buy that paid more, or a sell that received less. Returns 0 unless both
// prices are known.
func ComputeSlippage(side domain.Side, expected, actual decimal.Decimal) float64 {
	if !expected.IsPositive() || !actual.IsPositive() {
		return 0
	}
	var diff decimal.Decimal
	if side == domain.SideBuy {
		diff = actual.Sub(expected)
	} else {
		diff = expected.Sub(actual)
	}
	pct, _ := diff.Div(expected).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Run polls the order until it reaches a terminal state, the wall-clock
// timeout elapses, or the poll ceiling is hit, whichever comes first. On
// timeout the monitor best-effort cancels the order and marks it EXPIRED.
// Returns the final observed status.
func (om *OrderMonitor) Run(ctx context.Context, ord *domain.Order, venue domain.ExchangeAdapter, mgr *OrderManager, timeout time.Duration, maxPolls int) domain.OrderStatus {
	backoff := infra.NewPollBackoff()
	deadline := time.Now().Add(timeout)
	limiter := om.limiters.Get(venue.Name())

	for polls := 0; ; polls++ {
		// The order may have been cancelled out from under the monitor.
		if snap, ok := mgr.GetOrder(ord.ID); ok && snap.Status.IsTerminal() {
			return snap.Status
		}
		if time.Now().After(deadline) {
			return om.expire(ctx, ord, venue, mgr, "monitoring timeout after "+timeout.String())
		}
		if polls >= maxPolls {
			return om.expire(ctx, ord, venue, mgr, "poll ceiling reached")
		}

		// Never oversleep past the monitoring deadline.
		wait := backoff.Current()
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			snap, _ := mgr.GetOrder(ord.ID)
			return snap.Status
		case <-time.After(wait):
		}

		limiter.Wait()
		rpt, err := venue.GetOrder(ctx, ord.VenueOrderID, ord.Symbol)
		if err != nil {
			// Absorbed into the schedule; polling failures never
			// terminate monitoring.
			slog.Warn("status poll failed",
				slog.String("order", ord.ID),
				slog.Any("error", err))
			backoff.Spike()
			continue
		}

		next := NormalizeStatus(venue.Name(), rpt.RawStatus)
		fillIncreased, snap := mgr.applyReport(ord, next, rpt)

		if fillIncreased {
			slip := ComputeSlippage(snap.Side, snap.Price, snap.AvgFillPrice)
			if slip != 0 || (snap.Price.IsPositive() && snap.AvgFillPrice.IsPositive()) {
				om.recordSlippage(slip)
			}
			if snap.Status == domain.StatusPartiallyFilled {
				mgr.dispatchPartial(snap)
			}
		}

		if snap.Status.IsTerminal() {
			om.recordLatency(time.Since(snap.SubmittedAt))
			mgr.finalize(ord, "terminal status "+snap.Status.String())
			slog.Info("order reached terminal state",
				slog.String("order", ord.ID),
				slog.String("status", snap.Status.String()),
				slog.Int("polls", polls+1))
			return snap.Status
		}

		backoff.Next(snap.Status == domain.StatusPartiallyFilled)
	}
}

// PollOnce performs a single status fetch and state application, used for
// market orders that fill immediately. Returns the resulting snapshot.
func (om *OrderMonitor) PollOnce(ctx context.Context, ord *domain.Order, venue domain.ExchangeAdapter, mgr *OrderManager) domain.Order {
	om.limiters.Get(venue.Name()).Wait()

	rpt, err := venue.GetOrder(ctx, ord.VenueOrderID, ord.Symbol)
	if err != nil {
		slog.Warn("status poll failed",
			slog.String("order", ord.ID),
			slog.Any("error", err))
		snap, _ := mgr.GetOrder(ord.ID)
		return snap
	}

	next := NormalizeStatus(venue.Name(), rpt.RawStatus)
	fillIncreased, snap := mgr.applyReport(ord, next, rpt)

	if fillIncreased && snap.Price.IsPositive() && snap.AvgFillPrice.IsPositive() {
		om.recordSlippage(ComputeSlippage(snap.Side, snap.Price, snap.AvgFillPrice))
	}

	if snap.Status.IsTerminal() {
		om.recordLatency(time.Since(snap.SubmittedAt))
		snap = mgr.finalize(ord, "terminal status "+snap.Status.String())
	}
	return snap
}

// expire handles the deadline/poll-ceiling path: best-effort cancel on the
// venue, then a non-fatal EXPIRED terminal state.
func (om *OrderMonitor) expire(ctx context.Context, ord *domain.Order, venue domain.ExchangeAdapter, mgr *OrderManager, reason string) domain.OrderStatus {
	if ok, err := venue.CancelOrder(ctx, ord.VenueOrderID, ord.Symbol); err != nil {
		slog.Warn("best-effort cancel failed on expiry",
			slog.String("order", ord.ID),
			slog.Any("error", err))
	} else if !ok {
		slog.Warn("venue declined cancel on expiry", slog.String("order", ord.ID))
	}

	mgr.setStatus(ord, domain.StatusExpired)
	snap := mgr.finalize(ord, reason)

	om.mu.Lock()
	om.timeouts++
	om.mu.Unlock()
	om.recordLatency(time.Since(snap.SubmittedAt))

	slog.Warn("order expired",
		slog.String("order", ord.ID),
		slog.String("reason", reason))
	return snap.Status
}

func (om *OrderMonitor) recordLatency(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
	infra.ObserveLatency(d.Seconds())
}

func (om *OrderMonitor) recordSlippage(pct float64) {
	om.mu.Lock()
	om.slippages = append(om.slippages, pct)
	om.mu.Unlock()
	infra.ObserveSlippage(pct)
}

// MonitorStats is the monitor's aggregate view for dashboards.
type MonitorStats struct {
	Execution stats.LatencySummary `json:"execution"`
	Slippage  stats.Summary        `json:"slippage"`
	Timeouts  int                  `json:"timeouts"`
}

// Stats summarizes the observed latency and slippage history.
func (om *OrderMonitor) Stats() MonitorStats {
	om.mu.Lock()
	defer om.mu.Unlock()
	return MonitorStats{
		Execution: stats.SummarizeLatency(om.latencies),
		Slippage:  stats.Summarize(om.slippages),
		Timeouts:  om.timeouts,
	}
}
