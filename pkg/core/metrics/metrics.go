//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package metrics holds the prometheus collectors for decisions, the decision cache and policy reloads.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tgate"

// Cache lookup results.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheError  = "error"
	CacheBypass = "bypass"
)

// Metrics is the set of collectors used by the engine.  A nil *Metrics records nothing.
type Metrics struct {
	decisions  *prometheus.CounterVec
	violations *prometheus.CounterVec
	duration   prometheus.Histogram
	cache      *prometheus.CounterVec
	reloads    *prometheus.CounterVec
	batches    prometheus.Counter
	batchSize  prometheus.Histogram
	batchTime  prometheus.Histogram
}

// register adds c to reg, reusing the collector already registered under the same description.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// New creates the collectors and registers them with reg.  Registering twice against the same registry
// returns collectors that share the first registration's series.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		decisions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Authorization decisions by outcome.",
		}, []string{"outcome"})),
		violations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Violations reported in decisions, by type.",
		}, []string{"type"})),
		duration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time to produce a decision, including cache lookups.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		})),
		cache: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_cache_requests_total",
			Help:      "Decision cache lookups by result.",
		}, []string{"result"})),
		reloads: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_reloads_total",
			Help:      "Policy file reloads by result.",
		}, []string{"result"})),
		batches: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_evaluations_total",
			Help:      "Batch authorization calls.",
		})),
		batchSize: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Requests per batch authorization call.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		})),
		batchTime: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to decide a whole batch.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		})),
	}
}

// Default returns collectors registered with the prometheus default registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// ObserveDecision records one decision's outcome, violation types and latency.
func (m *Metrics) ObserveDecision(allow bool, violations []string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allow {
		outcome = "allow"
	}
	m.decisions.WithLabelValues(outcome).Inc()
	for _, v := range violations {
		m.violations.WithLabelValues(v).Inc()
	}
	m.duration.Observe(elapsed.Seconds())
}

// ObserveBatch records one batch authorization call.
func (m *Metrics) ObserveBatch(size int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchSize.Observe(float64(size))
	m.batchTime.Observe(elapsed.Seconds())
}

// CacheResult counts a cache lookup.
func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

// Reload counts a policy reload attempt.
func (m *Metrics) Reload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reloads.WithLabelValues(result).Inc()
}
