// Package stats keeps process-wide prediction counters. Counters are
// atomics; concurrent completions never lose updates.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds running totals since process start. Reset only by restart.
type Stats struct {
	predictions atomic.Int64
	failures    atomic.Int64
	latencyUS   atomic.Int64
	startTime   time.Time
}

// Snapshot is a consistent-enough point-in-time read of the counters
type Snapshot struct {
	Predictions    int64         `json:"predictions_count"`
	Failures       int64         `json:"failed_predictions"`
	TotalLatency   time.Duration `json:"-"`
	TotalLatencyMS float64       `json:"total_inference_time_ms"`
	AvgLatencyMS   float64       `json:"avg_inference_time_ms"`
	UptimeSeconds  float64       `json:"uptime_seconds"`
}

// New creates stats anchored at the current time
func New() *Stats {
	return &Stats{startTime: time.Now()}
}

// RecordSuccess folds one completed prediction into the totals
func (s *Stats) RecordSuccess(latency time.Duration) {
	s.predictions.Add(1)
	s.latencyUS.Add(latency.Microseconds())
}

// RecordFailure counts a prediction that errored
func (s *Stats) RecordFailure() {
	s.failures.Add(1)
}

// Predictions returns the completed prediction count
func (s *Stats) Predictions() int64 {
	return s.predictions.Load()
}

// Snapshot reads the counters
func (s *Stats) Snapshot() Snapshot {
	count := s.predictions.Load()
	total := time.Duration(s.latencyUS.Load()) * time.Microsecond

	snap := Snapshot{
		Predictions:    count,
		Failures:       s.failures.Load(),
		TotalLatency:   total,
		TotalLatencyMS: float64(total.Microseconds()) / 1000.0,
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
	}
	if count > 0 {
		snap.AvgLatencyMS = snap.TotalLatencyMS / float64(count)
	}
	return snap
}
