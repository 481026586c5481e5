package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("reconcile").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("reconcile", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("reconcile", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("reconcile")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddDrift(2)
	m.AddDrift(0)
	m.AddInconsistency("delete_sale")
	m.AddPurged(5)

	require.Equal(t, 2.0, testutil.ToFloat64(m.drift))
	require.Equal(t, 1.0, testutil.ToFloat64(m.inconsistent.WithLabelValues("delete_sale")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.keysPurged))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddDrift(1)
	m.AddInconsistency("x")
	m.AddPurged(1)
	require.NoError(t, m.Track("x").End(nil))
}
