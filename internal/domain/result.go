package domain

import "time"

// ExecutionResult is the uniform outcome of one signal, serializable for
// logs, dashboards, or any front-end. Failures are carried in Error; the
// engine never propagates a Go error for a signal.
type ExecutionResult struct {
	Success   bool              `json:"success"`
	Order     *Order            `json:"order,omitempty"`
	Position  *Position         `json:"position,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// FailedResult builds a failed ExecutionResult with the given reason.
func FailedResult(reason string) *ExecutionResult {
	return &ExecutionResult{
		Success:   false,
		Error:     reason,
		Timestamp: time.Now(),
	}
}

// StopReport aggregates the outcome of an emergency stop. Partial
// completion with populated Errors is an expected, non-exceptional result.
type StopReport struct {
	CancelledOrders []string `json:"cancelled_orders"`
	ClosedPositions []string `json:"closed_positions"`
	Errors          []string `json:"errors"`
}
