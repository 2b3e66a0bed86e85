// Package observability holds the Prometheus metrics for resolution,
// caching and evaluation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aoi"

// Metrics holds the Prometheus counters, histograms, and gauges for the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cache metrics, labelled by cache name (geometry, evaluation).
	CacheLookups   *prometheus.CounterVec // labels: cache, result={hit,miss}
	CacheEvictions *prometheus.CounterVec // labels: cache

	// Request queue metrics.
	QueueDepth   prometheus.Gauge
	QueueRunning prometheus.Gauge
	QueueTasks   *prometheus.CounterVec // labels: outcome={completed,failed}

	// Evaluation metrics.
	Evaluations        *prometheus.CounterVec   // labels: outcome={cached,computed,partial,timeout,error}
	EvaluationDuration *prometheus.HistogramVec // labels: operation

	// Resolver metrics.
	ResolverOutcomes *prometheus.CounterVec // labels: strategy (or "none" on exhaustion)
}

func newMetrics(help bool) *Metrics {
	h := func(s string) string {
		if help {
			return s
		}
		return ""
	}
	return &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      h("Cache lookups by cache and result."),
		}, []string{"cache", "result"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      h("Entries evicted from a full cache."),
		}, []string{"cache"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      h("Tasks waiting for a concurrency slot."),
		}),
		QueueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_running",
			Help:      h("Tasks currently executing."),
		}),
		QueueTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      h("Settled queue tasks by outcome."),
		}, []string{"outcome"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      h("Evaluation requests by outcome."),
		}, []string{"outcome"}),
		EvaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      h("Duration of remote evaluations that reached the platform."),
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		ResolverOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_outcomes_total",
			Help:      h("Place resolutions by the strategy that matched."),
		}, []string{"strategy"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CacheLookups,
		m.CacheEvictions,
		m.QueueDepth,
		m.QueueRunning,
		m.QueueTasks,
		m.Evaluations,
		m.EvaluationDuration,
		m.ResolverOutcomes,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsWithRegistry registers all metrics with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) (*Metrics, error) {
	m := newMetrics(true)
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// CacheHit implements cache.Observer.
func (m *Metrics) CacheHit(name string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(name, "hit").Inc()
}

// CacheMiss implements cache.Observer.
func (m *Metrics) CacheMiss(name string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(name, "miss").Inc()
}

// CacheEviction implements cache.Observer.
func (m *Metrics) CacheEviction(name string) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(name).Inc()
}

// QueueState records the queue's waiting and running counts.
func (m *Metrics) QueueState(queued, running int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(queued))
	m.QueueRunning.Set(float64(running))
}

// TaskSettled counts a finished queue task.
func (m *Metrics) TaskSettled(failed bool) {
	if m == nil {
		return
	}
	outcome := "completed"
	if failed {
		outcome = "failed"
	}
	m.QueueTasks.WithLabelValues(outcome).Inc()
}

// Evaluation counts an evaluation request by outcome.
func (m *Metrics) Evaluation(outcome string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
}

// ObserveEvaluation records how long a remote evaluation of operation took.
func (m *Metrics) ObserveEvaluation(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Resolution counts a place resolution by the strategy that produced it.
func (m *Metrics) Resolution(strategy string) {
	if m == nil {
		return
	}
	m.ResolverOutcomes.WithLabelValues(strategy).Inc()
}
