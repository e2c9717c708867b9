package domain

import (
	"sync"

	"github.com/shopspring/decimal"
)

// ExecutionMetrics holds process-wide execution counters. Counters only
// increase; Reset is an explicit operator action.
type ExecutionMetrics struct {
	mu sync.Mutex

	totalOrders      int64
	successfulOrders int64
	failedOrders     int64
	cancelledOrders  int64
	executedQty      decimal.Decimal
	totalCommission  decimal.Decimal
}

// NewExecutionMetrics creates a zeroed counter set.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

// RecordOrder counts one placed order.
func (m *ExecutionMetrics) RecordOrder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalOrders++
}

// RecordSuccess counts one fully executed order with its quantity and
// commission.
func (m *ExecutionMetrics) RecordSuccess(qty, commission decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulOrders++
	m.executedQty = m.executedQty.Add(qty)
	m.totalCommission = m.totalCommission.Add(commission)
}

// RecordFailure counts one failed or rejected order.
func (m *ExecutionMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedOrders++
}

// RecordCancel counts one cancelled order.
func (m *ExecutionMetrics) RecordCancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledOrders++
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalOrders      int64           `json:"total_orders"`
	SuccessfulOrders int64           `json:"successful_orders"`
	FailedOrders     int64           `json:"failed_orders"`
	CancelledOrders  int64           `json:"cancelled_orders"`
	ExecutedQty      decimal.Decimal `json:"executed_qty"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
}

// Snapshot returns a consistent copy of all counters.
func (m *ExecutionMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalOrders:      m.totalOrders,
		SuccessfulOrders: m.successfulOrders,
		FailedOrders:     m.failedOrders,
		CancelledOrders:  m.cancelledOrders,
		ExecutedQty:      m.executedQty,
		TotalCommission:  m.totalCommission,
	}
}

// Reset zeroes every counter. Operator action only.
func (m *ExecutionMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalOrders = 0
	m.successfulOrders = 0
	m.failedOrders = 0
	m.cancelledOrders = 0
	m.executedQty = decimal.Zero
	m.totalCommission = decimal.Zero
}
