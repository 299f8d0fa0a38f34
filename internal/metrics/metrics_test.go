package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Snapshot(t *testing.T) {
	c := NewCollector()
	c.RecordRow("processed", 10*time.Millisecond)
	c.RecordRow("processed", 30*time.Millisecond)
	c.RecordRow("failed", 20*time.Millisecond)
	c.RecordTaxonomy("category", true, time.Millisecond)
	c.RecordTaxonomy("category", false, time.Millisecond)
	c.RecordBatch("completed_with_errors", time.Second)

	snap := c.Snapshot()
	require.NotNil(t, snap.RowProcess)
	assert.Equal(t, int64(3), snap.RowProcess.Count)
	assert.Equal(t, int64(60), snap.RowProcess.TotalTimeMs)
	assert.Equal(t, int64(10), snap.RowProcess.MinTimeMs)
	assert.Equal(t, int64(30), snap.RowProcess.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.RowProcess.AvgTimeMs, 0.001)

	require.NotNil(t, snap.TaxonomyResolve)
	assert.Equal(t, int64(2), snap.TaxonomyResolve.Count)
	require.NotNil(t, snap.Batch)

	assert.Equal(t, int64(2), snap.Outcomes["row_processed"])
	assert.Equal(t, int64(1), snap.Outcomes["row_failed"])
	assert.Equal(t, int64(1), snap.Outcomes["batch_completed_with_errors"])
	assert.Equal(t, map[string]int64{"category": 1}, snap.TaxonomyCreated)
}

func TestCollector_EmptySnapshot(t *testing.T) {
	snap := NewCollector().Snapshot()
	assert.Nil(t, snap.RowProcess)
	assert.Nil(t, snap.TaxonomyResolve)
	assert.Nil(t, snap.Batch)
	assert.Empty(t, snap.Outcomes)
}

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.RecordRow("processed", time.Millisecond)
	p.RecordRow("processed", time.Millisecond)
	p.RecordRow("partial_success", time.Millisecond)
	p.RecordTaxonomy("domain", true, time.Millisecond)
	p.RecordBatch("completed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.rowsTotal.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rowsTotal.WithLabelValues("partial_success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.taxonomyTotal.WithLabelValues("domain", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.batchesTotal.WithLabelValues("completed")))

	n, err := testutil.GatherAndCount(reg, "kbstudio_import_rows_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	Multi{a, b}.RecordRow("failed", time.Millisecond)
	assert.Equal(t, int64(1), a.Snapshot().Outcomes["row_failed"])
	assert.Equal(t, int64(1), b.Snapshot().Outcomes["row_failed"])
}
