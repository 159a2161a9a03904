// Package metrics exposes Prometheus collectors for the yeet server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/registry"
)

// StatsSource provides the registry summary exported as gauges.
type StatsSource interface {
	Stats() registry.Stats
}

type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	actions       *prometheus.CounterVec
	snapshotSaves *prometheus.CounterVec
}

func New(source StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "yeet",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "yeet",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "The HTTP request latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "yeet",
				Name:      "agent_actions_total",
				Help:      "Actions returned to agents by system checks.",
			},
			[]string{"action"},
		),
		snapshotSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "yeet",
				Subsystem: "snapshot",
				Name:      "saves_total",
				Help:      "State snapshot save attempts by result.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(m.requests, m.duration, m.actions, m.snapshotSaves)
	if source != nil {
		m.registry.MustRegister(newRegistryCollector(source))
	}
	return m
}

// Registerer returns the metrics registerer.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the exposition format for the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latencies by matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RecordAction(action hosts.AgentAction) {
	m.actions.WithLabelValues(action.Kind.String()).Inc()
}

func (m *Metrics) RecordSnapshotSave(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.snapshotSaves.WithLabelValues(result).Inc()
}
