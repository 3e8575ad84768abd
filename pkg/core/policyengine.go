//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package core provides the primary interface for toolgate, the policy
// decision engine that governs which AI tools and tool servers a caller may
// register, read, update, delete or invoke.
//
// A decision combines six rule modules (RBAC, team membership, sensitivity,
// time windows, IP filtering and MFA) plus an optional rego extension.  Any
// explicit deny wins, and a request no module allows is denied.
//
// # Quick Start
//
// Create a policy engine with default options (stdout access log, built-in
// policy, in-memory decision cache):
//
//	pe, err := core.NewPolicyEngine()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pe.Close()
//
// Make an authorization decision:
//
//	decision, err := pe.Authorize(ctx, `{
//	    "principal": {"id": "alice", "role": "developer", "authenticated": true},
//	    "resource": {"id": "search", "sensitivity_level": "low"},
//	    "action": "tool:invoke",
//	    "context": {"client_ip": "10.1.2.3"}
//	}`)
//
// # Configuration
//
// Parts of the engine can be replaced via functional options:
//
//	pe, err := core.NewPolicyEngine(
//	    options.WithPolicySource(watcher),
//	    options.WithCacheStore(cache.NewRedisStore(client)),
//	    options.WithAccessLog(accesslog.NewStdoutFactory()),
//	)
//
// # Probe Mode
//
// For UI capabilities discovery without impacting audit logs, use probe mode:
//
//	decision, err := pe.Authorize(ctx, req, options.SetProbeMode(true))
//
// See the [options] package for all available configuration options.
package core

import (
	"context"

	"github.com/manetu/toolgate/internal/core"
	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/accesslog"
	"github.com/manetu/toolgate/pkg/core/config"
	"github.com/manetu/toolgate/pkg/core/options"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("toolgate")
var agent = "toolgate"

// PolicyEngine is the primary interface for making authorization decisions.
//
// Implementations of PolicyEngine are safe for concurrent use by multiple
// goroutines.
type PolicyEngine interface {
	// Authorize evaluates an authorization request and returns the decision.
	//
	// The request may be a JSON string or byte slice, a map, a [types.Request]
	// or a *[types.Request].  See [types.UnmarshalRequest].
	//
	// Denials are ordinary decisions, not errors.  An error is returned only
	// when the request cannot be decoded.
	Authorize(ctx context.Context, request types.AnyRequest, authzOptions ...options.AuthzOptionsFunc) (*types.Decision, error)

	// AuthorizeBatch evaluates many requests against one policy snapshot and
	// returns their decisions in order.  Cache reads and writes for the batch
	// go to the store in one round trip each when the store supports it.  If
	// any request cannot be decoded, nothing is evaluated and the error names
	// its index.
	AuthorizeBatch(ctx context.Context, requests []types.AnyRequest, authzOptions ...options.AuthzOptionsFunc) ([]*types.Decision, error)

	// InvalidatePrincipal drops every cached decision for a principal, for
	// example after a role change.  It returns the number of entries removed.
	InvalidatePrincipal(ctx context.Context, principalID string) (int, error)

	// Policy returns the active policy.
	Policy() *policyconfig.Policy

	// Close stops any policy watcher and releases the cache and access log.
	Close() error
}

// PolicyEngineImpl is the default implementation of the [PolicyEngine] interface.
//
// Use [NewPolicyEngine] to create a properly initialized instance.
type PolicyEngineImpl struct {
	instance *core.PolicyEngine
}

// NewPolicyEngine creates and initializes a new [PolicyEngine] instance.
//
// NewPolicyEngine loads configuration from environment variables and config
// files before initializing the engine.  See the [config] package for the keys
// that select the policy file, cache store and redis connection.
//
// Returns an error if configuration loading fails, the policy does not
// compile, or the access log cannot be opened.
func NewPolicyEngine(engineOptions ...options.EngineOptionsFunc) (PolicyEngine, error) {
	err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	opts := &options.EngineOptions{
		AccessLogFactory: accesslog.NewStdoutFactory(),
	}
	for _, o := range engineOptions {
		o(opts)
	}

	instance, err := core.NewPolicyEngine(opts)
	if err != nil {
		return nil, err
	}

	return &PolicyEngineImpl{
		instance: instance,
	}, nil
}

// Authorize evaluates an authorization request and returns the decision.
//
//	// skip the access log
//	decision, err := pe.Authorize(ctx, req, options.SetProbeMode(true))
//
//	// ignore any cached decision for a safety-critical operation
//	decision, err := pe.Authorize(ctx, req, options.SetBypassCache(true))
func (pe *PolicyEngineImpl) Authorize(ctx context.Context, request types.AnyRequest, authzOptions ...options.AuthzOptionsFunc) (*types.Decision, error) {
	logger.Debug(agent, "Authorize", "Enter")
	defer logger.Debug(agent, "Authorize", "Exit")

	opts := &options.AuthzOptions{}
	for _, o := range authzOptions {
		o(opts)
	}

	req, err := types.UnmarshalRequest(request)
	if err != nil {
		return nil, err
	}

	decision, err := pe.instance.Authorize(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	logger.Debugf(agent, "Authorize", "returned from authorize(): %t (%s)", decision.Allow, decision.Reason)

	return decision, nil
}

// AuthorizeBatch evaluates a batch of requests and returns the decisions in request order.
func (pe *PolicyEngineImpl) AuthorizeBatch(ctx context.Context, requests []types.AnyRequest, authzOptions ...options.AuthzOptionsFunc) ([]*types.Decision, error) {
	opts := &options.AuthzOptions{}
	for _, o := range authzOptions {
		o(opts)
	}

	reqs := make([]*types.Request, len(requests))
	for i, request := range requests {
		req, err := types.UnmarshalRequest(request)
		if err != nil {
			var perr *common.PolicyError
			if errors.As(err, &perr) {
				return nil, common.Errorf(perr.ReasonCode, "request %d: %s", i, perr.Reason)
			}
			return nil, errors.Wrapf(err, "request %d", i)
		}
		reqs[i] = req
	}

	return pe.instance.AuthorizeBatch(ctx, reqs, opts)
}

// InvalidatePrincipal drops every cached decision for a principal.
func (pe *PolicyEngineImpl) InvalidatePrincipal(ctx context.Context, principalID string) (int, error) {
	return pe.instance.InvalidatePrincipal(ctx, principalID)
}

// Policy returns the active policy.
func (pe *PolicyEngineImpl) Policy() *policyconfig.Policy {
	return pe.instance.Policy()
}

// Close stops any policy watcher and releases the cache and access log.
func (pe *PolicyEngineImpl) Close() error {
	return pe.instance.Close()
}
