package infra

import (
	"testing"
	"time"
)

func TestRateLimiter_BurstThenBlock(t *testing.T) {
	rl := NewRateLimiter(3, 10)

	for i := 0; i < 3; i++ {
		if !rl.TryAcquire() {
			t.Fatalf("burst token %d should be available", i)
		}
	}
	if rl.TryAcquire() {
		t.Error("token beyond burst should not be available immediately")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(1, 100) // refill every 10ms

	if !rl.TryAcquire() {
		t.Fatal("first token should be available")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.TryAcquire() {
		t.Error("token should have refilled")
	}
}

func TestVenueLimiters_SharedPerVenue(t *testing.T) {
	vl := NewVenueLimiters(5, 10)

	a := vl.Get("binance")
	b := vl.Get("binance")
	c := vl.Get("bybit")

	if a != b {
		t.Error("same venue should share one limiter")
	}
	if a == c {
		t.Error("different venues should not share a limiter")
	}
}
