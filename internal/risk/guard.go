// Package risk enforces pre-trade and continuous trading limits: position
// count and size caps, a peak-equity drawdown ratchet, a daily loss cap, and
// an equity-derived circuit breaker with automatic cooldown.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the guard's limit thresholds.
type Config struct {
	MaxOpenPositions   int
	MaxPositionSizePct float64
	MaxDrawdownPct     float64
	MaxDailyLossPct    float64
	BreakerCooldown    time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxOpenPositions:   10,
		MaxPositionSizePct: 5.0,
		MaxDrawdownPct:     10.0,
		MaxDailyLossPct:    2.0,
		BreakerCooldown:    60 * time.Minute,
	}
}

// Guard is the process-wide risk state. All checks return their outcome as
// data, never as an error. Thread-safe for concurrent use.
type Guard struct {
	mu  sync.Mutex
	cfg Config

	dailyLoss  decimal.Decimal
	peakEquity decimal.Decimal

	tripped    bool
	trippedAt  time.Time
	tripReason string
}

// NewGuard creates a guard with the given limits.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// CheckResult is the outcome of one limit check.
type CheckResult struct {
	OK     bool    `json:"ok"`
	Reason string  `json:"reason,omitempty"`
	Value  float64 `json:"value"`
}

// Report aggregates every limit check for one proposed trade.
type Report struct {
	Allowed   bool        `json:"allowed"`
	Position  CheckResult `json:"position"`
	Drawdown  CheckResult `json:"drawdown"`
	DailyLoss CheckResult `json:"daily_loss"`
	Breaker   CheckResult `json:"breaker"`
}

// Reasons lists the failed checks' reasons verbatim.
func (r *Report) Reasons() []string {
	var out []string
	for _, c := range []CheckResult{r.Position, r.Drawdown, r.DailyLoss, r.Breaker} {
		if !c.OK {
			out = append(out, c.Reason)
		}
	}
	return out
}

// CheckPositionLimits rejects when the open position count is at the cap or
// the proposed size exceeds the per-position share of portfolio value.
func (g *Guard) CheckPositionLimits(openCount int, proposedSize, portfolioValue decimal.Decimal) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkPositionLimits(openCount, proposedSize, portfolioValue)
}

func (g *Guard) checkPositionLimits(openCount int, proposedSize, portfolioValue decimal.Decimal) (bool, string) {
	if openCount >= g.cfg.MaxOpenPositions {
		return false, fmt.Sprintf("max open positions reached (%d/%d)", openCount, g.cfg.MaxOpenPositions)
	}
	if portfolioValue.IsPositive() && proposedSize.IsPositive() {
		pct, _ := proposedSize.Div(portfolioValue).Mul(decimal.NewFromInt(100)).Float64()
		if pct > g.cfg.MaxPositionSizePct {
			return false, fmt.Sprintf("position size %.2f%% exceeds limit %.2f%%", pct, g.cfg.MaxPositionSizePct)
		}
	}
	return true, ""
}

// CheckDrawdown ratchets the stored peak up to currentEquity when exceeded,
// then reports the drawdown from peak. Unsafe at or beyond the configured
// maximum.
func (g *Guard) CheckDrawdown(currentEquity decimal.Decimal) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkDrawdown(currentEquity)
}

func (g *Guard) checkDrawdown(currentEquity decimal.Decimal) (bool, float64) {
	if currentEquity.GreaterThan(g.peakEquity) {
		g.peakEquity = currentEquity
	}
	if !g.peakEquity.IsPositive() {
		return true, 0
	}
	dd, _ := g.peakEquity.Sub(currentEquity).Div(g.peakEquity).Mul(decimal.NewFromInt(100)).Float64()
	if dd < 0 {
		dd = 0
	}
	return dd < g.cfg.MaxDrawdownPct, dd
}

// RecordLoss adds a realized loss to the daily accumulator. Pass the loss as
// a positive amount.
func (g *Guard) RecordLoss(amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyLoss = g.dailyLoss.Add(amount)
}

// RecordProfit offsets the daily loss accumulator, flooring at zero.
func (g *Guard) RecordProfit(amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyLoss = g.dailyLoss.Sub(amount)
	if g.dailyLoss.IsNegative() {
		g.dailyLoss = decimal.Zero
	}
}

// ResetDaily zeroes the daily loss accumulator. Called by the operator (or a
// scheduler above this package) at the day boundary; the guard runs no timer
// of its own.
func (g *Guard) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyLoss = decimal.Zero
	slog.Info("daily loss accumulator reset")
}

// CheckDailyLoss reports whether the accumulated daily loss is still under
// the cap relative to portfolio value.
func (g *Guard) CheckDailyLoss(portfolioValue decimal.Decimal) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkDailyLoss(portfolioValue)
}

func (g *Guard) checkDailyLoss(portfolioValue decimal.Decimal) (bool, float64) {
	if !portfolioValue.IsPositive() {
		return true, 0
	}
	pct, _ := g.dailyLoss.Div(portfolioValue).Mul(decimal.NewFromInt(100)).Float64()
	return pct < g.cfg.MaxDailyLossPct, pct
}

// TriggerCircuitBreaker trips the breaker with a reason. Idempotent while
// already tripped.
func (g *Guard) TriggerCircuitBreaker(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tripped {
		return
	}
	g.tripped = true
	g.trippedAt = time.Now()
	g.tripReason = reason
	slog.Warn("risk circuit breaker TRIPPED", slog.String("reason", reason))
}

// ShouldTriggerCircuitBreaker reports whether the breaker currently blocks
// trading. Once the cooldown has elapsed the tripped flag is cleared as a
// side effect and false is returned.
func (g *Guard) ShouldTriggerCircuitBreaker() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shouldTrigger()
}

func (g *Guard) shouldTrigger() bool {
	if !g.tripped {
		return false
	}
	if time.Since(g.trippedAt) > g.cfg.BreakerCooldown {
		g.tripped = false
		g.tripReason = ""
		slog.Info("risk circuit breaker cooldown elapsed, cleared")
		return false
	}
	return true
}

// CheckAllLimits runs every check against one proposed trade and returns the
// aggregate. It never returns an error; all outcomes are data.
func (g *Guard) CheckAllLimits(openCount int, proposedSize, portfolioValue, currentEquity decimal.Decimal) Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	var rep Report

	ok, reason := g.checkPositionLimits(openCount, proposedSize, portfolioValue)
	rep.Position = CheckResult{OK: ok, Reason: reason}

	safe, dd := g.checkDrawdown(currentEquity)
	rep.Drawdown = CheckResult{OK: safe, Value: dd}
	if !safe {
		rep.Drawdown.Reason = fmt.Sprintf("drawdown %.2f%% at or beyond limit %.2f%%", dd, g.cfg.MaxDrawdownPct)
	}

	safe, lossPct := g.checkDailyLoss(portfolioValue)
	rep.DailyLoss = CheckResult{OK: safe, Value: lossPct}
	if !safe {
		rep.DailyLoss.Reason = fmt.Sprintf("daily loss %.2f%% at or beyond limit %.2f%%", lossPct, g.cfg.MaxDailyLossPct)
	}

	blocked := g.shouldTrigger()
	rep.Breaker = CheckResult{OK: !blocked}
	if blocked {
		rep.Breaker.Reason = "risk circuit breaker active: " + g.tripReason
	}

	rep.Allowed = rep.Position.OK && rep.Drawdown.OK && rep.DailyLoss.OK && rep.Breaker.OK
	return rep
}

// Status is a read-only snapshot of the guard state for dashboards.
type Status struct {
	DailyLoss      decimal.Decimal `json:"daily_loss"`
	PeakEquity     decimal.Decimal `json:"peak_equity"`
	BreakerTripped bool            `json:"breaker_tripped"`
	TrippedAt      time.Time       `json:"tripped_at,omitempty"`
	TripReason     string          `json:"trip_reason,omitempty"`
}

// GetStatus returns the current snapshot.
func (g *Guard) GetStatus() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		DailyLoss:      g.dailyLoss,
		PeakEquity:     g.peakEquity,
		BreakerTripped: g.tripped,
		TrippedAt:      g.trippedAt,
		TripReason:     g.tripReason,
	}
}
