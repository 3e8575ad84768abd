//
//  Copyright © Manetu Inc. All rights reserved.
//

package metrics

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDecision(true, nil, time.Millisecond)
	m.ObserveDecision(false, []string{"vpn_required", "mfa_required"}, 2*time.Millisecond)
	m.ObserveDecision(false, []string{"vpn_required"}, time.Millisecond)
	m.CacheResult(CacheHit)
	m.CacheResult(CacheMiss)
	m.CacheResult(CacheMiss)
	m.Reload(nil)
	m.Reload(errors.New("bad"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("allow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("deny")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.violations.WithLabelValues("vpn_required")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cache.WithLabelValues(CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	m.ObserveBatch(3, 4*time.Millisecond)
	m.ObserveBatch(40, 9*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchSize))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchTime))

	// a second registration shares series
	again := New(reg)
	again.CacheResult(CacheHit)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cache.WithLabelValues(CacheHit)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision(true, nil, time.Second)
		m.CacheResult(CacheError)
		m.Reload(nil)
		m.ObserveBatch(1, time.Second)
	})
}
