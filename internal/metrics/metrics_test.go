// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestPrometheusCollector_CounterIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := New(reg)

	collector.Counter("frames_emitted")
	collector.Counter("frames_emitted")

	require.Equal(t, float64(2), counterValue(t, collector.framesEmitted))
}

func TestPrometheusCollector_UnknownNameIsNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := New(reg)

	require.Nil(t, collector.Counter("not_a_real_metric"))
	require.Nil(t, collector.Gauge("not_a_real_metric"))
	require.Nil(t, collector.Histogram("not_a_real_metric"))
}

func TestPrometheusCollector_GaugeAddsDelta(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := New(reg)

	collector.Gauge("active_sessions", float64(3))
	collector.Gauge("active_sessions", float64(-1))

	var m dto.Metric
	require.NoError(t, collector.activeSessions.Write(&m))
	require.Equal(t, float64(2), m.GetGauge().GetValue())
}
