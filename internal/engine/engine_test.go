package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/infra"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/risk"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/venue"
)

func newTestEngine(t *testing.T, riskCfg risk.Config) (*Engine, *venue.Paper) {
	t.Helper()

	paper := venue.NewPaper("binance", decimal.Zero)
	monitor := NewOrderMonitor(infra.NewVenueLimiters(1000, 1000))
	manager := NewOrderManager(monitor, nil, domain.NewExecutionMetrics(), 2*time.Second, 50)
	tracker := NewPositionTracker(false, nil)
	guard := risk.NewGuard(riskCfg)

	e := NewEngine(domain.ModePaper, decimal.NewFromInt(10000), manager, monitor, tracker, guard, nil)
	e.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return e, paper
}

// panicVenue blows up on placement, exercising the engine's panic shield.
type panicVenue struct{}

func (panicVenue) Name() string { return "binance" }
func (panicVenue) PlaceOrder(context.Context, *domain.Order) (*domain.PlaceAck, error) {
	panic("adapter bug")
}
func (panicVenue) GetOrder(context.Context, string, string) (*domain.OrderReport, error) {
	return nil, errors.New("unreachable")
}
func (panicVenue) CancelOrder(context.Context, string, string) (bool, error) {
	return false, nil
}

func buySignal(symbol, qty string) *domain.Signal {
	return &domain.Signal{
		Symbol:     symbol,
		Action:     domain.ActionBuy,
		Quantity:   decimal.RequireFromString(qty),
		StrategyID: "test-strategy",
		Confidence: 0.9,
	}
}

func TestExecuteMarketBuyOpensPosition(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), paper)
	if !res.Success {
		t.Fatalf("execution failed: %s", res.Error)
	}
	if res.Order == nil || res.Order.Status != domain.StatusFullyFilled {
		t.Fatalf("order = %+v, want a full fill", res.Order)
	}
	if res.Position == nil {
		t.Fatal("expected an open position in the result")
	}
	if !res.Position.IsLong() {
		t.Error("buy signal should open a long position")
	}
	if !res.Position.EntryPrice.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("entry = %s, want 50000", res.Position.EntryPrice)
	}

	// A price tick marks the open position.
	e.OnTick("BTCUSDT", decimal.NewFromInt(50500))
	pos, ok := e.tracker.GetPosition("BTCUSDT")
	if !ok {
		t.Fatal("position disappeared")
	}
	if !pos.UnrealizedPnL.Equal(decimal.NewFromInt(5)) {
		t.Errorf("unrealized pnl = %s, want 5", pos.UnrealizedPnL)
	}
	if math.Abs(pos.UnrealizedPnLPct-1.0) > 1e-9 {
		t.Errorf("unrealized pnl pct = %v, want 1.0", pos.UnrealizedPnLPct)
	}
}

func TestExecuteSellClosesPosition(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	if res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), paper); !res.Success {
		t.Fatalf("open failed: %s", res.Error)
	}

	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50500))
	sell := buySignal("BTCUSDT", "0.01")
	sell.Action = domain.ActionSell
	if res := e.ExecuteSignal(context.Background(), sell, paper); !res.Success {
		t.Fatalf("close failed: %s", res.Error)
	}

	if e.tracker.OpenCount() != 0 {
		t.Fatalf("open count = %d, want 0 after close", e.tracker.OpenCount())
	}
	history := e.tracker.History()
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(history))
	}
	if !history[0].RealizedPnL.Equal(decimal.NewFromInt(5)) {
		t.Errorf("realized pnl = %s, want 5", history[0].RealizedPnL)
	}
}

func TestExecuteSignalValidationFailure(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())

	res := e.ExecuteSignal(context.Background(), buySignal("BT", "1"), paper)
	if res.Success {
		t.Fatal("invalid signal must not succeed")
	}
	if !strings.Contains(res.Error, "symbol") {
		t.Errorf("error = %q, want mention of the symbol field", res.Error)
	}
}

func TestCircuitBreakerBlocksExecution(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	e.ActivateCircuitBreaker("maintenance")
	res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), paper)
	if res.Success {
		t.Fatal("breaker must block execution")
	}
	if !strings.Contains(res.Error, "circuit breaker") {
		t.Errorf("error = %q, want circuit breaker mention", res.Error)
	}

	e.DeactivateCircuitBreaker()
	if res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), paper); !res.Success {
		t.Fatalf("execution after deactivation failed: %s", res.Error)
	}
}

func TestExecuteMarketRejectedByVenueFails(t *testing.T) {
	e, _ := newTestEngine(t, risk.DefaultConfig())

	stub := newStubVenue()
	stub.reports = []domain.OrderReport{{RawStatus: "REJECTED"}}

	res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), stub)
	if res.Success {
		t.Fatal("rejected order must not report success")
	}
	if !strings.Contains(res.Error, "REJECTED") {
		t.Errorf("error = %q, want the terminal status named", res.Error)
	}
	if res.Order == nil || res.Order.Status != domain.StatusRejected {
		t.Fatalf("order = %+v, want REJECTED snapshot", res.Order)
	}
	if e.tracker.OpenCount() != 0 {
		t.Errorf("open count = %d, want 0", e.tracker.OpenCount())
	}

	snap := e.GetPerformanceMetrics()
	if snap.Engine.SuccessfulExecutions != 0 || snap.Engine.FailedExecutions != 1 {
		t.Errorf("executions = %d ok / %d failed, want 0/1",
			snap.Engine.SuccessfulExecutions, snap.Engine.FailedExecutions)
	}
}

func TestMarketSignalSizedAgainstLastTick(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.MaxPositionSizePct = 5.0
	e, paper := newTestEngine(t, cfg)
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	// No open position and no signal price: the last routed tick is the
	// reference for the size cap. 0.05 BTC at 50000 is 25% of 10000 equity.
	e.OnTick("BTCUSDT", decimal.NewFromInt(50000))
	res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.05"), paper)
	if res.Success {
		t.Fatal("oversized market signal must be rejected")
	}
	if !strings.Contains(res.Error, "position size") {
		t.Errorf("error = %q, want the size limit named", res.Error)
	}

	// Within the cap the same signal goes through.
	if res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.005"), paper); !res.Success {
		t.Fatalf("sized signal failed: %s", res.Error)
	}
}

func TestRiskBreakerIndependentOfEngineBreaker(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.BreakerCooldown = time.Hour
	e, paper := newTestEngine(t, cfg)
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	e.guard.TriggerCircuitBreaker("equity floor breached")

	// The engine's own breaker is clear, yet execution stays blocked.
	e.DeactivateCircuitBreaker()
	if !e.CircuitBreakerActive() {
		t.Fatal("risk breaker alone must block")
	}
	res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), paper)
	if res.Success {
		t.Fatal("execution must be blocked while the risk breaker is tripped")
	}
}

func TestRiskRejectionCarriesReasons(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.MaxOpenPositions = 1
	e, paper := newTestEngine(t, cfg)
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	paper.SetPrice("ETHUSDT", decimal.NewFromInt(3000))

	if res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.001"), paper); !res.Success {
		t.Fatalf("first open failed: %s", res.Error)
	}

	res := e.ExecuteSignal(context.Background(), buySignal("ETHUSDT", "0.1"), paper)
	if res.Success {
		t.Fatal("second open must be rejected at the position cap")
	}
	if !strings.Contains(res.Error, "max open positions reached (1/1)") {
		t.Errorf("error = %q, want the guard's verbatim reason", res.Error)
	}
}

func TestExecuteSignalNeverPanics(t *testing.T) {
	e, _ := newTestEngine(t, risk.DefaultConfig())

	res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), panicVenue{})
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.Success {
		t.Fatal("panicked execution must not report success")
	}
	if !strings.Contains(res.Error, "internal error") {
		t.Errorf("error = %q, want internal error wrapper", res.Error)
	}
}

func TestEmergencyStopAll(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	paper.SetPrice("ETHUSDT", decimal.NewFromInt(3000))

	for _, sig := range []*domain.Signal{
		buySignal("BTCUSDT", "0.001"),
		buySignal("ETHUSDT", "0.01"),
	} {
		if res := e.ExecuteSignal(context.Background(), sig, paper); !res.Success {
			t.Fatalf("open %s failed: %s", sig.Symbol, res.Error)
		}
	}

	// One resting limit order below the market.
	resting := buySignal("BTCUSDT", "0.001")
	resting.Price = decimal.NewFromInt(40000)
	if res := e.ExecuteSignal(context.Background(), resting, paper); !res.Success {
		t.Fatalf("resting order failed: %s", res.Error)
	}

	report := e.EmergencyStopAll(context.Background(), paper)
	if len(report.CancelledOrders) != 1 {
		t.Errorf("cancelled = %v, want the one resting order", report.CancelledOrders)
	}
	if len(report.ClosedPositions) != 2 {
		t.Errorf("closed = %v, want both positions", report.ClosedPositions)
	}
	if len(report.Errors) != 0 {
		t.Errorf("errors = %v, want none", report.Errors)
	}
	if !e.CircuitBreakerActive() {
		t.Error("emergency stop must leave the breaker active")
	}
	if e.tracker.OpenCount() != 0 {
		t.Errorf("open count = %d, want 0", e.tracker.OpenCount())
	}

	// Repeat-safe: nothing left to stop.
	again := e.EmergencyStopAll(context.Background(), paper)
	if len(again.CancelledOrders) != 0 || len(again.ClosedPositions) != 0 {
		t.Errorf("second stop = %+v, want empty report", again)
	}
}

// flakyVenue fails order placement for selected symbols.
type flakyVenue struct {
	domain.ExchangeAdapter
	failSymbols map[string]bool
}

func (f flakyVenue) PlaceOrder(ctx context.Context, ord *domain.Order) (*domain.PlaceAck, error) {
	if f.failSymbols[ord.Symbol] {
		return nil, errors.New("venue down for " + ord.Symbol)
	}
	return f.ExchangeAdapter.PlaceOrder(ctx, ord)
}

func TestEmergencyStopContinuesThroughFailures(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT"}
	for _, sym := range symbols {
		paper.SetPrice(sym, decimal.NewFromInt(100))
		if res := e.ExecuteSignal(context.Background(), buySignal(sym, "1"), paper); !res.Success {
			t.Fatalf("open %s failed: %s", sym, res.Error)
		}
	}

	// Two of the five closes fail; the stop keeps going through them.
	flaky := flakyVenue{
		ExchangeAdapter: paper,
		failSymbols:     map[string]bool{"ETHUSDT": true, "XRPUSDT": true},
	}
	report := e.EmergencyStopAll(context.Background(), flaky)

	if len(report.ClosedPositions) != 3 {
		t.Errorf("closed = %v, want the three surviving closes", report.ClosedPositions)
	}
	if len(report.Errors) != 2 {
		t.Errorf("errors = %v, want both failures reported", report.Errors)
	}
	if e.tracker.OpenCount() != 2 {
		t.Errorf("open count = %d, want failed symbols still open", e.tracker.OpenCount())
	}
}

func TestPerformanceSnapshot(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	if res := e.ExecuteSignal(context.Background(), buySignal("BTCUSDT", "0.01"), paper); !res.Success {
		t.Fatalf("open failed: %s", res.Error)
	}
	e.ExecuteSignal(context.Background(), buySignal("BT", "1"), paper) // validation failure

	snap := e.GetPerformanceMetrics()
	if snap.Engine.TotalSignals != 2 {
		t.Errorf("total signals = %d, want 2", snap.Engine.TotalSignals)
	}
	if snap.Engine.SuccessfulExecutions != 1 || snap.Engine.FailedExecutions != 1 {
		t.Errorf("success/failed = %d/%d, want 1/1",
			snap.Engine.SuccessfulExecutions, snap.Engine.FailedExecutions)
	}
	if math.Abs(snap.Engine.SuccessRate-0.5) > 1e-9 {
		t.Errorf("success rate = %v, want 0.5", snap.Engine.SuccessRate)
	}
	if !snap.Engine.IsRunning {
		t.Error("engine should report running")
	}
	if snap.Positions.OpenCount != 1 {
		t.Errorf("open count = %d, want 1", snap.Positions.OpenCount)
	}
	if snap.Orders.TotalOrders == 0 {
		t.Error("order counters should have recorded the placement")
	}
}

func TestSignalWithProtectionLevels(t *testing.T) {
	e, paper := newTestEngine(t, risk.DefaultConfig())
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	sig := buySignal("BTCUSDT", "0.01")
	sig.StopLoss = decimal.NewFromInt(48000)
	sig.TakeProfit = decimal.NewFromInt(55000)

	if res := e.ExecuteSignal(context.Background(), sig, paper); !res.Success {
		t.Fatalf("open failed: %s", res.Error)
	}

	pos, ok := e.tracker.GetPosition("BTCUSDT")
	if !ok {
		t.Fatal("no position opened")
	}
	if !pos.StopLoss.Equal(decimal.NewFromInt(48000)) {
		t.Errorf("stop loss = %s, want 48000", pos.StopLoss)
	}
	if !pos.TakeProfit.Equal(decimal.NewFromInt(55000)) {
		t.Errorf("take profit = %s, want 55000", pos.TakeProfit)
	}
}
