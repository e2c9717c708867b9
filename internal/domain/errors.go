package domain

import "strings"

// ValidationError is a local, synchronous rejection of malformed signal or
// order parameters. It is the only failure mode surfaced as a Go error to
// callers of the order manager; everything later in the pipeline is
// converted to data.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Field + ": " + e.Message
}

// RiskViolation is a soft, expected rejection by the risk guard. It is
// reported through ExecutionResult, never raised.
type RiskViolation struct {
	Reasons []string
}

func (e *RiskViolation) Error() string {
	return "risk check failed: " + strings.Join(e.Reasons, "; ")
}
