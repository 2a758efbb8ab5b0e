// SPDX-License-Identifier: MIT

// Package metrics implements rfb.MetricsCollector on top of
// prometheus/client_golang, registering the gauges, counters, and
// histograms the broadcaster and registry report into.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deskbridge/rfbgateway"
)

// PrometheusCollector implements rfb.MetricsCollector, routing named
// metrics to pre-registered Prometheus instruments. Unknown metric names
// are ignored: nothing is recorded and the methods return nil.
type PrometheusCollector struct {
	registry *prometheus.Registry

	broadcasterTicks   prometheus.Counter
	broadcasterLatency prometheus.Histogram
	framesEmitted      prometheus.Counter
	activeSessions     prometheus.Gauge
	activeSubscribers  prometheus.Gauge
}

// New constructs a PrometheusCollector and registers its instruments
// against registry. Pass prometheus.NewRegistry() for an isolated
// registry, or prometheus.DefaultRegisterer's registry to expose via the
// global /metrics handler.
func New(registry *prometheus.Registry) *PrometheusCollector {
	factory := promauto.With(registry)
	return &PrometheusCollector{
		registry: registry,
		broadcasterTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfb_broadcaster_ticks_total",
			Help: "Total number of broadcaster tick iterations across all sessions.",
		}),
		broadcasterLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rfb_broadcaster_tick_seconds",
			Help:    "Wall-clock duration of one broadcaster tick (snapshot + encode + fan-out).",
			Buckets: prometheus.DefBuckets,
		}),
		framesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfb_frames_emitted_total",
			Help: "Total number of update/frame messages sent to subscribers.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rfb_active_sessions",
			Help: "Number of RFB sessions currently Ready in the registry.",
		}),
		activeSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rfb_active_subscribers",
			Help: "Number of subscriber connections currently attached across all sessions.",
		}),
	}
}

// Counter returns the matching prometheus.Counter for known names, else
// nil. Known names: "broadcaster_ticks", "frames_emitted".
func (c *PrometheusCollector) Counter(name string, tags ...interface{}) interface{} {
	switch name {
	case "broadcaster_ticks":
		c.broadcasterTicks.Inc()
		return c.broadcasterTicks
	case "frames_emitted":
		c.framesEmitted.Inc()
		return c.framesEmitted
	default:
		return nil
	}
}

// Gauge returns the matching prometheus.Gauge for known names, else nil.
// Known names: "active_sessions", "active_subscribers". tags[0], if
// present, is used as a delta (float64) to Add; otherwise the gauge is
// left unchanged and simply returned.
func (c *PrometheusCollector) Gauge(name string, tags ...interface{}) interface{} {
	var g prometheus.Gauge
	switch name {
	case "active_sessions":
		g = c.activeSessions
	case "active_subscribers":
		g = c.activeSubscribers
	default:
		return nil
	}
	if len(tags) > 0 {
		if delta, ok := tags[0].(float64); ok {
			g.Add(delta)
		}
	}
	return g
}

// Histogram returns the matching prometheus.Histogram for known names,
// else nil. Known names: "broadcaster_tick_seconds". tags[0], if present,
// is the observed value (float64 seconds).
func (c *PrometheusCollector) Histogram(name string, tags ...interface{}) interface{} {
	if name != "broadcaster_tick_seconds" {
		return nil
	}
	if len(tags) > 0 {
		if v, ok := tags[0].(float64); ok {
			c.broadcasterLatency.Observe(v)
		}
	}
	return c.broadcasterLatency
}

var _ rfb.MetricsCollector = (*PrometheusCollector)(nil)
