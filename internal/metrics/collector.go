// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpHTTPRequest   = "http_request"
	OpJobPoll       = "job_poll"
	OpCacheFetch    = "cache_fetch"
	OpCacheFallback = "cache_fallback"
	OpUpload        = "upload"
)

// Recorder is the write side of the collector. Components depend on this
// rather than on *Collector so tests can pass Nop.
type Recorder interface {
	RecordTiming(op string, duration time.Duration, err error)
}

// Nop discards all measurements.
var Nop Recorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) RecordTiming(string, time.Duration, error) {}

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count" yaml:"count"`
	Failures    int64   `json:"failures" yaml:"failures"`
	TotalTimeMs int64   `json:"totalTimeMs" yaml:"total_time_ms"`
	AvgTimeMs   float64 `json:"avgTimeMs" yaml:"avg_time_ms"`
	MinTimeMs   int64   `json:"minTimeMs" yaml:"min_time_ms"`
	MaxTimeMs   int64   `json:"maxTimeMs" yaml:"max_time_ms"`
}

// Snapshot represents the collected statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                      `json:"uptimeSeconds" yaml:"uptime_seconds"`
	Operations    map[string]OperationSnapshot `json:"operations" yaml:"operations"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation. A non-nil err counts the
// call as a failure; its duration is still included.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if err != nil {
		m.Failures++
	}

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// snapshotOp creates a snapshot for an operation.
func snapshotOp(m *OperationMetrics) OperationSnapshot {
	return OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
// Operations that were never recorded are omitted.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]OperationSnapshot, len(c.ops))
	for name, m := range c.ops {
		if m.Count == 0 {
			continue
		}
		ops[name] = snapshotOp(m)
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    ops,
	}
}
