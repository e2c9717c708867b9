// Package stats provides small numeric summaries over observed execution
// history: latency percentiles and slippage distributions.
package stats

import (
	"sort"
	"time"
)

// Percentile returns the p-th percentile (0 < p <= 100) of the samples using
// the nearest-rank method. Returns 0 for an empty slice.
func Percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(float64(len(sorted)) * p / 100)
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// LatencySummary holds the standard latency percentiles.
type LatencySummary struct {
	Count int           `json:"count"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// SummarizeLatency computes p50/p95/p99 over the samples.
func SummarizeLatency(samples []time.Duration) LatencySummary {
	return LatencySummary{
		Count: len(samples),
		P50:   Percentile(samples, 50),
		P95:   Percentile(samples, 95),
		P99:   Percentile(samples, 99),
	}
}

// Summary describes a distribution of signed percentage values.
// PositiveRate is the share of samples strictly above zero.
type Summary struct {
	Count        int     `json:"count"`
	Mean         float64 `json:"mean"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	PositiveRate float64 `json:"positive_rate"`
}

// Summarize computes mean/min/max and the positive-sample rate.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	s := Summary{Count: len(values), Min: values[0], Max: values[0]}
	sum := 0.0
	positive := 0
	for _, v := range values {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		if v > 0 {
			positive++
		}
	}
	s.Mean = sum / float64(len(values))
	s.PositiveRate = float64(positive) / float64(len(values))
	return s
}
