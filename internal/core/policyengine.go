//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/accesslog"
	"github.com/manetu/toolgate/pkg/core/cache"
	"github.com/manetu/toolgate/pkg/core/clock"
	"github.com/manetu/toolgate/pkg/core/config"
	"github.com/manetu/toolgate/pkg/core/metrics"
	"github.com/manetu/toolgate/pkg/core/opa"
	"github.com/manetu/toolgate/pkg/core/options"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

// PolicyEngine holds the long-lived parts of the decision path: the active policy, the decision cache and the
// audit stream.
type PolicyEngine struct {
	audit    accesslog.Stream
	source   policyconfig.Source
	cache    *cache.Adapter
	clock    clock.Clock
	metrics  *metrics.Metrics
	auditEnv map[string]string
}

var logger = logging.GetLogger("toolgate")

const agent string = "toolgate"

// NewPolicyEngine assembles an engine, filling every part the options leave unset from configuration.
func NewPolicyEngine(engineOptions *options.EngineOptions) (*PolicyEngine, error) {
	m := metrics.Default()
	if engineOptions.Registerer != nil {
		m = metrics.New(engineOptions.Registerer)
	}

	clk := engineOptions.Clock
	if clk == nil {
		clk = clock.System()
	}

	source := engineOptions.PolicySource
	if source == nil {
		compilerOptions := append(engineOptions.CompilerOptions, opa.WithUnsafeBuiltins(getUnsafeBuiltins()))
		s, err := newSource(compilerOptions, m)
		if err != nil {
			return nil, err
		}
		source = s
	}

	store := engineOptions.CacheStore
	if store == nil {
		s, err := newStore(clk)
		if err != nil {
			_ = source.Close()
			return nil, err
		}
		store = s
	}

	al, err := engineOptions.AccessLogFactory.NewStream()
	if err != nil {
		_ = source.Close()
		return nil, errors.Wrap(err, "error creating access log")
	}

	return &PolicyEngine{
		audit:    al,
		source:   source,
		cache:    cache.NewAdapter(store, config.VConfig.GetDuration(config.CacheTimeout), m),
		clock:    clk,
		metrics:  m,
		auditEnv: config.GetAuditEnv(),
	}, nil
}

// Policy returns the active policy.
func (pe *PolicyEngine) Policy() *policyconfig.Policy {
	return pe.source.Current()
}

func (pe *PolicyEngine) policyFor(aos *options.AuthzOptions) *policyconfig.Policy {
	if aos.Policy != nil {
		return aos.Policy
	}
	return pe.source.Current()
}

// prepare copies req and pins its evaluation instant to the clock when the request carries none.
func (pe *PolicyEngine) prepare(req *types.Request) (*types.Request, time.Time, error) {
	r, ok := deepcopy.Copy(req).(*types.Request)
	if !ok || r == nil {
		return nil, time.Time{}, common.NewError(common.InvalidRequest, "request is required")
	}
	if r.Context.Timestamp == nil {
		now := pe.clock.Now()
		r.Context.Timestamp = &now
	}
	return r, *r.Context.Timestamp, nil
}

// Authorize decides req, consulting the decision cache unless bypassed.  The caller's request is never modified.
func (pe *PolicyEngine) Authorize(ctx context.Context, req *types.Request, aos *options.AuthzOptions) (*types.Decision, error) {
	start := time.Now()

	policy := pe.policyFor(aos)
	r, at, err := pe.prepare(req)
	if err != nil {
		return nil, err
	}

	key := cache.Key(r, policy.Fingerprint(), at)
	decision, cached, err := pe.cache.Decide(ctx, key, aos.BypassCache, func(ctx context.Context) (*types.Decision, error) {
		return Evaluate(ctx, r, policy, at), nil
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	pe.metrics.ObserveDecision(decision.Allow, decision.ViolationTypes(), elapsed)
	pe.auditDecision(aos, r, decision, cached, elapsed)

	return decision, nil
}

// AuthorizeBatch decides every request against the same policy snapshot.  The cache is consulted for the whole
// batch at once.  Decisions are returned in request order; each is audited on its own with an equal share of
// the batch latency.
func (pe *PolicyEngine) AuthorizeBatch(ctx context.Context, reqs []*types.Request, aos *options.AuthzOptions) ([]*types.Decision, error) {
	start := time.Now()
	if len(reqs) == 0 {
		return []*types.Decision{}, nil
	}

	policy := pe.policyFor(aos)
	rs := make([]*types.Request, len(reqs))
	ats := make([]time.Time, len(reqs))
	keys := make([]string, len(reqs))
	for i, req := range reqs {
		r, at, err := pe.prepare(req)
		if err != nil {
			return nil, common.Errorf(common.InvalidRequest, "request %d is required", i)
		}
		rs[i], ats[i] = r, at
		keys[i] = cache.Key(r, policy.Fingerprint(), at)
	}

	decisions, cached, err := pe.cache.DecideBatch(ctx, keys, aos.BypassCache, func(ctx context.Context, i int) (*types.Decision, error) {
		return Evaluate(ctx, rs[i], policy, ats[i]), nil
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	pe.metrics.ObserveBatch(len(reqs), elapsed)
	share := elapsed / time.Duration(len(reqs))
	for i, d := range decisions {
		pe.metrics.ObserveDecision(d.Allow, d.ViolationTypes(), share)
		pe.auditDecision(aos, rs[i], d, cached[i], share)
	}
	logger.Debugf(agent, "AuthorizeBatch", "decided %d requests in %s", len(reqs), elapsed)

	return decisions, nil
}

func (pe *PolicyEngine) auditDecision(aos *options.AuthzOptions, req *types.Request, decision *types.Decision, cached bool, elapsed time.Duration) {
	record := &accesslog.AccessRecord{
		Metadata: accesslog.Metadata{
			ID:        uuid.New().String(),
			Timestamp: pe.clock.Now(),
			Env:       pe.auditEnv,
		},
		Principal: accesslog.Principal{
			Subject: req.Principal.ID,
			Role:    string(req.Principal.Role),
			Teams:   req.Principal.Teams,
		},
		Operation:   string(req.Action),
		Resource:    req.Resource.ID,
		Sensitivity: req.Resource.Sensitivity.String(),
		Decision:    accesslog.Deny,
		Reason:      decision.Reason,
		Violations:  decision.ViolationTypes(),
		Cached:      cached,
		LatencyUS:   elapsed.Microseconds(),
	}
	if decision.Allow {
		record.Decision = accesslog.Grant
	}
	if data, err := json.Marshal(req); err == nil {
		record.Request = data
	}

	if logger.IsDebugEnabled() {
		logger.Debugf(agent, "auditDecision", "resource: %s, reason: %s, options: %+v, cached: %t", req.Resource.ID, decision.Reason, aos, cached)
		logger.Debug(agent, "auditDecision", "access record:")
		common.PrettyPrint(record)
	}

	if pe.audit != nil && !aos.Probe {
		if err := pe.audit.Send(record); err != nil {
			logger.Errorf(agent, "auditDecision", "unable to send message for accesslog %+v", err)
		}
	}
}

// InvalidatePrincipal drops every cached decision for the principal.
func (pe *PolicyEngine) InvalidatePrincipal(ctx context.Context, principalID string) (int, error) {
	return pe.cache.InvalidatePrincipal(ctx, principalID)
}

// Close stops the policy source and releases the cache and audit stream.
func (pe *PolicyEngine) Close() error {
	err := pe.source.Close()
	if cerr := pe.cache.Close(); err == nil {
		err = cerr
	}
	if pe.audit != nil {
		pe.audit.Close()
	}
	return err
}
