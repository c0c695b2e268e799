// Package metrics exposes marketpulse counters and gauges to Prometheus.
//
// A Manager owns its own registry; nothing is registered on the process
// default. It is the pipeline observer, a feed call recorder, the limiter
// wait hook and the loop iteration hook at once.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/marketpulse/pulse/budget"
)

// Option configures a Manager
type Option func(*Manager)

// WithNamespace sets the metric namespace
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers metrics on registry instead of a fresh one
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// Manager holds every marketpulse metric
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	entitiesProcessed *prometheus.CounterVec
	entityFailures    *prometheus.CounterVec
	entityDuration    prometheus.Histogram

	batches        *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	batchLastUnix  prometheus.Gauge
	batchLastCount *prometheus.GaugeVec

	feedCalls        *prometheus.CounterVec
	feedCallDuration *prometheus.HistogramVec
	limiterWaits     prometheus.Counter
	limiterWaitTotal prometheus.Counter

	loopIterations *prometheus.CounterVec

	memoryUsed      prometheus.Gauge
	memoryAvailable prometheus.Gauge
	goroutines      prometheus.Gauge
}

// NewManager creates a manager with all metrics registered
func NewManager(opts ...Option) *Manager {
	m := &Manager{namespace: "marketpulse"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.entitiesProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "pipeline",
		Name: "entities_processed_total",
		Help: "Entities run through the pipeline, by result",
	}, []string{"result"})
	m.entityFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "pipeline",
		Name: "entity_failures_total",
		Help: "Entity failures by the stage they failed in",
	}, []string{"stage"})
	m.entityDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "pipeline",
		Name:    "entity_duration_seconds",
		Help:    "Wall time of one entity run",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	m.batches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "pipeline",
		Name: "batches_total",
		Help: "Completed batches by trigger",
	}, []string{"trigger"})
	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "pipeline",
		Name:    "batch_duration_seconds",
		Help:    "Wall time of one batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.batchLastUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "pipeline",
		Name: "last_batch_completed_unix",
		Help: "Unix time the last batch completed",
	})
	m.batchLastCount = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "pipeline",
		Name: "last_batch_entities",
		Help: "Entities of the last batch, by result",
	}, []string{"result"})

	m.feedCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "feed",
		Name: "calls_total",
		Help: "Outbound feed attempts by endpoint and HTTP status (0 when no response)",
	}, []string{"endpoint", "status"})
	m.feedCallDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "feed",
		Name:    "call_duration_seconds",
		Help:    "Latency of feed attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	m.limiterWaits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "feed",
		Name: "rate_limit_waits_total",
		Help: "Times the limiter made a caller wait",
	})
	m.limiterWaitTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "feed",
		Name: "rate_limit_wait_seconds_total",
		Help: "Time spent waiting for the limiter",
	})

	m.loopIterations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "runner",
		Name: "loop_iterations_total",
		Help: "Trigger iterations by trigger and result",
	}, []string{"trigger", "result"})

	m.memoryUsed = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "system",
		Name: "memory_used_bytes",
		Help: "Host memory in use",
	})
	m.memoryAvailable = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "system",
		Name: "memory_available_bytes",
		Help: "Host memory available",
	})
	m.goroutines = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "system",
		Name: "goroutines",
		Help: "Goroutines in this process",
	})
}

// Registry returns the registry metrics are registered on
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EntityProcessed counts one entity run. An empty failedStage is a success.
func (m *Manager) EntityProcessed(failedStage string, elapsed time.Duration) {
	if failedStage == "" {
		m.entitiesProcessed.WithLabelValues("ok").Inc()
	} else {
		m.entitiesProcessed.WithLabelValues("failed").Inc()
		m.entityFailures.WithLabelValues(failedStage).Inc()
	}
	m.entityDuration.Observe(elapsed.Seconds())
}

// BatchCompleted records the summary of one batch
func (m *Manager) BatchCompleted(trigger string, processed, failed int, elapsed time.Duration) {
	m.batches.WithLabelValues(trigger).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
	m.batchLastUnix.SetToCurrentTime()
	m.batchLastCount.WithLabelValues("ok").Set(float64(processed - failed))
	m.batchLastCount.WithLabelValues("failed").Set(float64(failed))
}

// Record counts one feed attempt
func (m *Manager) Record(_ context.Context, c budget.Call) error {
	m.feedCalls.WithLabelValues(c.Endpoint, strconv.Itoa(c.StatusCode)).Inc()
	m.feedCallDuration.WithLabelValues(c.Endpoint).Observe(c.Duration.Seconds())
	return nil
}

// LimiterWaited records one limiter wait
func (m *Manager) LimiterWaited(d time.Duration) {
	m.limiterWaits.Inc()
	m.limiterWaitTotal.Add(d.Seconds())
}

// LoopIteration counts one trigger iteration
func (m *Manager) LoopIteration(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loopIterations.WithLabelValues(trigger, result).Inc()
}

// ObserveSystem publishes a host sample
func (m *Manager) ObserveSystem(s SystemSample) {
	m.memoryUsed.Set(float64(s.MemoryUsed))
	m.memoryAvailable.Set(float64(s.MemoryAvailable))
	m.goroutines.Set(float64(s.Goroutines))
}
