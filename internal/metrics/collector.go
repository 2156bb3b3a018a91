// Package metrics collects stage timings during an optimization sweep.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/mdoucet/refl-planner/pkg/utils"
)

// Collector accumulates per-stage durations. It is safe for concurrent use
// by the parallel workers.
type Collector struct {
	mu     sync.Mutex
	series map[string][]time.Duration
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		series: make(map[string][]time.Duration),
	}
}

// Observe records one duration for a stage.
func (c *Collector) Observe(stage string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[stage] = append(c.series[stage], d)
}

// Time starts a timer for a stage; the returned function stops it and
// records the elapsed duration.
//
//	defer c.Time("sample")()
func (c *Collector) Time(stage string) func() {
	start := time.Now()
	return func() {
		c.Observe(stage, time.Since(start))
	}
}

// Summary aggregates one stage's observations.
type Summary struct {
	Stage string
	Count int
	Mean  time.Duration
	P95   time.Duration
}

// Summaries returns per-stage aggregates, sorted by stage name.
func (c *Collector) Summaries() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Summary, 0, len(c.series))
	for stage, durations := range c.series {
		values := make([]float64, len(durations))
		for i, d := range durations {
			values[i] = float64(d)
		}
		out = append(out, Summary{
			Stage: stage,
			Count: len(durations),
			Mean:  time.Duration(utils.Mean(values)),
			P95:   time.Duration(utils.P95(values)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
