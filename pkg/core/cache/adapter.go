//
//  Copyright © Manetu Inc. All rights reserved.
//

package cache

import (
	"context"
	"time"

	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/core/metrics"
	"github.com/manetu/toolgate/pkg/core/types"
)

var logger = logging.GetLogger("toolgate.cache")

const agent = "cache"

// DefaultTimeout bounds each store round trip.
const DefaultTimeout = 50 * time.Millisecond

// Evaluator produces a fresh decision.
type Evaluator func(ctx context.Context) (*types.Decision, error)

// Adapter wraps an Evaluator with get-or-compute semantics against a Store.  Store failures never change a
// decision: they are logged, counted, and treated as a miss.
type Adapter struct {
	store   Store
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewAdapter creates an adapter.  A nil store disables caching; a non-positive timeout means DefaultTimeout.
func NewAdapter(store Store, timeout time.Duration, m *metrics.Metrics) *Adapter {
	if store == nil {
		store = NullStore{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{store: store, timeout: timeout, metrics: m}
}

// Store returns the underlying store.
func (a *Adapter) Store() Store {
	return a.store
}

// Decide returns the cached decision for key unless bypass is set, otherwise evaluates and stores the result
// when it is cacheable.  The second return value reports a cache hit.
func (a *Adapter) Decide(ctx context.Context, key string, bypass bool, evaluate Evaluator) (*types.Decision, bool, error) {
	if bypass {
		a.metrics.CacheResult(metrics.CacheBypass)
	} else if d := a.lookup(ctx, key); d != nil {
		return d, true, nil
	}

	d, err := evaluate(ctx)
	if err != nil {
		return nil, false, err
	}

	if d.Cache.Cacheable {
		a.write(ctx, entry(key, d))
	}
	return d, false, nil
}

func entry(key string, d *types.Decision) Entry {
	return Entry{Key: key, Decision: d, TTL: time.Duration(d.Cache.TTLSeconds) * time.Second}
}

func (a *Adapter) write(ctx context.Context, e Entry) {
	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.store.Set(sctx, e.Key, e.Decision, e.TTL); err != nil {
		logger.Warnf(agent, "Decide", "cache store failed for %s: %v", e.Key, err)
		a.metrics.CacheResult(metrics.CacheError)
	}
}

// BatchEvaluator produces a fresh decision for the i'th key of a batch.
type BatchEvaluator func(ctx context.Context, i int) (*types.Decision, error)

// DecideBatch is Decide over many keys.  A BatchStore is read once for every key and written once for every
// cacheable miss; other stores are visited key by key.  The second slice reports cache hits by index.
func (a *Adapter) DecideBatch(ctx context.Context, keys []string, bypass bool, evaluate BatchEvaluator) ([]*types.Decision, []bool, error) {
	decisions := make([]*types.Decision, len(keys))
	hits := make([]bool, len(keys))
	if bypass {
		for range keys {
			a.metrics.CacheResult(metrics.CacheBypass)
		}
	} else {
		decisions = a.lookupMany(ctx, keys)
	}

	var entries []Entry
	for i := range keys {
		if decisions[i] != nil {
			hits[i] = true
			continue
		}
		d, err := evaluate(ctx, i)
		if err != nil {
			return nil, nil, err
		}
		decisions[i] = d
		if d.Cache.Cacheable {
			entries = append(entries, entry(keys[i], d))
		}
	}
	a.writeMany(ctx, entries)
	return decisions, hits, nil
}

func (a *Adapter) lookupMany(ctx context.Context, keys []string) []*types.Decision {
	bs, ok := a.store.(BatchStore)
	if !ok {
		out := make([]*types.Decision, len(keys))
		for i, key := range keys {
			out[i] = a.lookup(ctx, key)
		}
		return out
	}

	gctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	found, err := bs.GetMany(gctx, keys)
	if err != nil || len(found) != len(keys) {
		logger.Warnf(agent, "DecideBatch", "batch cache lookup of %d keys failed: %v", len(keys), err)
		for range keys {
			a.metrics.CacheResult(metrics.CacheError)
		}
		return make([]*types.Decision, len(keys))
	}
	for _, d := range found {
		if d == nil {
			a.metrics.CacheResult(metrics.CacheMiss)
		} else {
			a.metrics.CacheResult(metrics.CacheHit)
		}
	}
	return found
}

func (a *Adapter) writeMany(ctx context.Context, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	bs, ok := a.store.(BatchStore)
	if !ok {
		for _, e := range entries {
			a.write(ctx, e)
		}
		return
	}

	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := bs.SetMany(sctx, entries); err != nil {
		logger.Warnf(agent, "DecideBatch", "batch cache store of %d entries failed: %v", len(entries), err)
		a.metrics.CacheResult(metrics.CacheError)
	}
}

func (a *Adapter) lookup(ctx context.Context, key string) *types.Decision {
	gctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	d, err := a.store.Get(gctx, key)
	switch {
	case err != nil:
		logger.Warnf(agent, "Decide", "cache lookup failed for %s: %v", key, err)
		a.metrics.CacheResult(metrics.CacheError)
		return nil
	case d == nil:
		a.metrics.CacheResult(metrics.CacheMiss)
		return nil
	}
	a.metrics.CacheResult(metrics.CacheHit)
	return d
}

// InvalidatePrincipal removes a principal's cached decisions.  Stores that cannot enumerate keys report zero.
func (a *Adapter) InvalidatePrincipal(ctx context.Context, principalID string) (int, error) {
	inv, ok := a.store.(Invalidator)
	if !ok {
		return 0, nil
	}
	n, err := inv.InvalidatePrincipal(ctx, principalID)
	if err != nil {
		return n, err
	}
	logger.Debugf(agent, "InvalidatePrincipal", "removed %d decisions for %s", n, principalID)
	return n, nil
}

// Close releases the store's connections, if it holds any.
func (a *Adapter) Close() error {
	if c, ok := a.store.(Closer); ok {
		return c.Close()
	}
	return nil
}
