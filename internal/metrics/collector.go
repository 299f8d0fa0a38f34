// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds   float64            `json:"uptimeSeconds"`
	RowProcess      *OperationSnapshot `json:"rowProcess,omitempty"`
	TaxonomyResolve *OperationSnapshot `json:"taxonomyResolve,omitempty"`
	Batch           *OperationSnapshot `json:"batch,omitempty"`
	Outcomes        map[string]int64   `json:"outcomes"`
	TaxonomyCreated map[string]int64   `json:"taxonomyCreated"`
}

// Operation names for the collector.
const (
	OpRowProcess      = "row_process"
	OpTaxonomyResolve = "taxonomy_resolve"
	OpBatch           = "batch"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	outcomes  map[string]int64 // Row outcomes and batch statuses
	created   map[string]int64 // Taxonomy kind -> entities created
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		outcomes:  make(map[string]int64),
		created:   make(map[string]int64),
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

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(op, duration)
}

func (c *Collector) recordLocked(op string, duration time.Duration) {
	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordRow records one processed staging row.
func (c *Collector) RecordRow(outcome string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(OpRowProcess, d)
	c.outcomes["row_"+outcome]++
}

// RecordTaxonomy records one taxonomy upsert.
func (c *Collector) RecordTaxonomy(kind string, created bool, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(OpTaxonomyResolve, d)
	if created {
		c.created[kind]++
	}
}

// RecordBatch records one finished batch.
func (c *Collector) RecordBatch(status string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(OpBatch, d)
	c.outcomes["batch_"+status]++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	created := make(map[string]int64, len(c.created))
	for k, v := range c.created {
		created[k] = v
	}

	return Snapshot{
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
		RowProcess:      snapshotOp(c.ops[OpRowProcess]),
		TaxonomyResolve: snapshotOp(c.ops[OpTaxonomyResolve]),
		Batch:           snapshotOp(c.ops[OpBatch]),
		Outcomes:        outcomes,
		TaxonomyCreated: created,
	}
}
