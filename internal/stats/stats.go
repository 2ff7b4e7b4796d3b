// Package stats keeps the pipeline's performance samples: end-to-end
// processing latencies recorded by the workers and summarized for the admin
// status endpoint.
package stats

import (
	"context"
	"sort"
	"time"
)

// maxSamples bounds the rolling latency window.
const maxSamples = 1000

type LatencySummary struct {
	AvgMS   float64 `json:"avg_latency_ms"`
	P95MS   float64 `json:"p95_latency_ms"`
	Samples int     `json:"samples"`
}

// Collector records and summarizes latency samples.
type Collector interface {
	RecordLatency(ctx context.Context, d time.Duration) error
	LatencySummary(ctx context.Context) (LatencySummary, error)
}

func summarize(samples []float64) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	idx := (len(sorted)*95 + 99) / 100 // ceil(0.95 * n)
	if idx > 0 {
		idx--
	}

	return LatencySummary{
		AvgMS:   sum / float64(len(sorted)),
		P95MS:   sorted[idx],
		Samples: len(sorted),
	}
}
