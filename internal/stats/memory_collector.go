package stats

import (
	"context"
	"sync"
	"time"
)

// MemoryCollector is the in-process Collector used by tests.
type MemoryCollector struct {
	mu      sync.Mutex
	samples []float64
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

func (c *MemoryCollector) RecordLatency(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := float64(d.Microseconds()) / 1000.0
	c.samples = append([]float64{ms}, c.samples...)
	if len(c.samples) > maxSamples {
		c.samples = c.samples[:maxSamples]
	}
	return nil
}

func (c *MemoryCollector) LatencySummary(context.Context) (LatencySummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return summarize(c.samples), nil
}
