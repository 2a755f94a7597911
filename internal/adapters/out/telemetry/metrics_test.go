package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/snapkeep/internal/boundaries/out"
)

var _ out.JobRecorder = (*Metrics)(nil)

func TestMetricsRecordJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.JobFinished("backup", "scheduled", "success", 2*time.Second, 4096)
	m.JobFinished("backup", "scheduled", "success", time.Second, 1024)
	m.JobFinished("backup", "manual", "failed", time.Second, 0)
	m.JobRejected("AlreadyRunning")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("backup", "scheduled", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("backup", "manual", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsRejected.WithLabelValues("AlreadyRunning")))

	count, err := testutil.GatherAndCount(reg, "snapkeep_artifact_size_bytes")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() != "snapkeep_artifact_size_bytes" {
			continue
		}
		found = true
		h := f.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(2), h.GetSampleCount(), "failed jobs carry no artifact")
		assert.Equal(t, 5120.0, h.GetSampleSum())
	}
	assert.True(t, found)
}

func TestMetricsRecordRetention(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RetentionDeleted(3)
	m.RetentionDeleted(0)
	m.RetentionFailed()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RetentionDeletions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetentionFailures))
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
