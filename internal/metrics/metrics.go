// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes conversion and readiness counters for Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdiddy/scad2stl/pkg/types"
)

const namespace = "scad2stl"

var readinessStates = []types.ReadinessState{types.EngineNotReady, types.EngineReady, types.EngineFailed}

// Metrics holds the collectors on a private registry so tests and multiple
// servers in one process do not collide on the default registry.
type Metrics struct {
	registry *prometheus.Registry

	conversions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	outputBytes prometheus.Histogram
	facets      prometheus.Histogram
	readiness   *prometheus.GaugeVec
}

// New creates and registers the collectors. Process and Go runtime
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Conversion attempts that reached the engine, by result.",
			},
			[]string{"backend", "status"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Conversion attempts rejected before the engine was called.",
			},
			[]string{"reason"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conversion_duration_seconds",
				Help:      "Wall time of conversions that reached the engine.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"backend"},
		),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "output_bytes",
			Help:      "Size of produced STL files.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		facets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "output_facets",
			Help:      "Triangle count of produced STL files.",
			Buckets:   prometheus.ExponentialBuckets(12, 4, 10),
		}),
		readiness: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_readiness",
				Help:      "1 for the current engine readiness state, 0 otherwise.",
			},
			[]string{"state"},
		),
	}

	m.registry.MustRegister(
		m.conversions, m.rejections, m.duration, m.outputBytes, m.facets, m.readiness,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.ObserveReadiness(types.Readiness{State: types.EngineNotReady})
	return m
}

// Observe counts a finished conversion.
func (m *Metrics) Observe(_ context.Context, rec types.ConversionRecord) {
	m.conversions.WithLabelValues(rec.Backend, string(rec.Status)).Inc()
	m.duration.WithLabelValues(rec.Backend).Observe(rec.Duration.Seconds())
	if rec.Status == types.ConversionDone {
		m.outputBytes.Observe(float64(rec.OutputBytes))
		m.facets.Observe(float64(rec.Facets))
	}
}

// ObserveRejection counts an attempt turned away by a precondition.
func (m *Metrics) ObserveRejection(status types.ConversionStatus) {
	m.rejections.WithLabelValues(string(status)).Inc()
}

// ObserveReadiness sets the readiness gauge to r.State.
func (m *Metrics) ObserveReadiness(r types.Readiness) {
	for _, s := range readinessStates {
		v := 0.0
		if s == r.State {
			v = 1
		}
		m.readiness.WithLabelValues(string(s)).Set(v)
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
