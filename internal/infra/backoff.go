package infra

import "time"

const (
	// Reconnect backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a given retry
// count: baseDelay * 2^retryCount, capped at maxDelay. Negative counts return
// baseDelay. Used for connection-level retries.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}

	// 2^30 seconds already exceeds maxDelay by far.
	if retryCount > 30 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retryCount)

	if backoff > maxDelay {
		return maxDelay
	}

	return backoff
}

// Poll backoff constants. Polling speeds up while fills are streaming in and
// slows down while the order just sits there.
const (
	PollFloor   = 500 * time.Millisecond
	PollCeiling = 5 * time.Second
	pollShrink  = 0.8
	pollGrow    = 1.2
)

// PollBackoff is the adaptive delay between successive status polls of one
// order. Not safe for concurrent use; each monitor loop owns its own.
type PollBackoff struct {
	current time.Duration
}

// NewPollBackoff starts at the floor.
func NewPollBackoff() *PollBackoff {
	return &PollBackoff{current: PollFloor}
}

// Current returns the present delay.
func (b *PollBackoff) Current() time.Duration {
	return b.current
}

// Next adjusts the delay and returns it. While fills are active the delay
// shrinks toward the floor; otherwise it grows toward the ceiling.
func (b *PollBackoff) Next(fillsActive bool) time.Duration {
	if fillsActive {
		b.current = time.Duration(float64(b.current) * pollShrink)
		if b.current < PollFloor {
			b.current = PollFloor
		}
	} else {
		b.current = time.Duration(float64(b.current) * pollGrow)
		if b.current > PollCeiling {
			b.current = PollCeiling
		}
	}
	return b.current
}

// Spike jumps straight to the ceiling. Called after a poll error so a flaky
// venue is not hammered.
func (b *PollBackoff) Spike() time.Duration {
	b.current = PollCeiling
	return b.current
}
