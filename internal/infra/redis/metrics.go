package redis

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Redis-related Prometheus metrics.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	lockAttempts *prometheus.CounterVec
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics *Metrics

func init() {
	DefaultMetrics = NewMetrics("vulnsync")
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{}
	m.initOperationMetrics(namespace)
	m.initCacheMetrics(namespace)
	m.initLockMetrics(namespace)
	return m
}

func (m *Metrics) initOperationMetrics(namespace string) {
	m.operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
	m.operationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_errors_total",
			Help:      "Total number of Redis operation errors",
		},
		[]string{"operation"},
	)
}

func (m *Metrics) initCacheMetrics(namespace string) {
	m.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"},
	)
	m.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)
}

func (m *Metrics) initLockMetrics(namespace string) {
	m.lockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "lock_attempts_total",
			Help:      "Total number of distributed lock attempts by result",
		},
		[]string{"lock", "result"}, // result: "acquired", "held", "error"
	)
}

// ObserveOperation records the duration and result of a Redis operation.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordCacheHits adds n hits for the given cache name.
func (m *Metrics) RecordCacheHits(cacheName string, n int) {
	m.cacheHits.WithLabelValues(cacheName).Add(float64(n))
}

// RecordCacheMisses adds n misses for the given cache name.
func (m *Metrics) RecordCacheMisses(cacheName string, n int) {
	m.cacheMisses.WithLabelValues(cacheName).Add(float64(n))
}

// RecordLockAttempt records the outcome of a lock acquisition.
func (m *Metrics) RecordLockAttempt(lockName, result string) {
	m.lockAttempts.WithLabelValues(lockName, result).Inc()
}
