//
//  Copyright © Manetu Inc. All rights reserved.
//
// shared between pkg/core and internal/core, and thus must be in a separate package to avoid circular dependencies

package options

import (
	"github.com/manetu/toolgate/pkg/core/accesslog"
	"github.com/manetu/toolgate/pkg/core/cache"
	"github.com/manetu/toolgate/pkg/core/clock"
	"github.com/manetu/toolgate/pkg/core/opa"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineOptions defines the parts a policy engine is assembled from.  Nil fields are filled from configuration.
type EngineOptions struct {
	AccessLogFactory accesslog.Factory
	PolicySource     policyconfig.Source
	CacheStore       cache.Store
	Clock            clock.Clock
	Registerer       prometheus.Registerer
	CompilerOptions  []opa.CompilerOptionFunc
}

// EngineOptionsFunc is a function that modifies EngineOptions.
type EngineOptionsFunc func(*EngineOptions)

// WithAccessLog configures the access log stream for the engine.
func WithAccessLog(factory accesslog.Factory) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.AccessLogFactory = factory
	}
}

// WithPolicy pins the engine to a single compiled policy.
func WithPolicy(policy *policyconfig.Policy) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.PolicySource = policyconfig.Static(policy)
	}
}

// WithPolicySource configures where the engine reads the active policy from, such as a [policyconfig.Watcher].
// The engine closes the source when it is closed.
func WithPolicySource(source policyconfig.Source) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.PolicySource = source
	}
}

// WithCacheStore configures the decision cache store.  Use [cache.NullStore] to disable caching.
func WithCacheStore(store cache.Store) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.CacheStore = store
	}
}

// WithClock configures the clock used for evaluation instants.
func WithClock(c clock.Clock) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Clock = c
	}
}

// WithMetrics registers the engine's collectors with reg instead of the default registry.
func WithMetrics(reg prometheus.Registerer) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Registerer = reg
	}
}

// WithCompilerOptions configures the OPA compiler options used for extension rules.
func WithCompilerOptions(opts ...opa.CompilerOptionFunc) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.CompilerOptions = opts
	}
}

// AuthzOptions represents configuration options for Authorize operations.
type AuthzOptions struct {
	Probe       bool
	BypassCache bool
	Policy      *policyconfig.Policy
}

// AuthzOptionsFunc is a function that modifies AuthzOptions.
type AuthzOptionsFunc func(*AuthzOptions)

// SetProbeMode configures the probe mode for Authorize operations.  Probe mode evaluates policies but does not
// log decisions, which is helpful for returning information about what a user may do without impacting the audit
// trail.  For instance, a UI may ask whether a user could invoke a tool before rendering the button.  It would be
// unfair to generate an audit record that suggests the user tried to invoke it when the caller was merely testing.
//
// Probe mode is disabled by default.
func SetProbeMode(probe bool) AuthzOptionsFunc {
	return func(o *AuthzOptions) {
		o.Probe = probe
	}
}

// SetBypassCache forces a fresh evaluation even when a cached decision exists.  The fresh decision is still
// written back when it is cacheable.  Callers use this for operations they consider safety-critical.
func SetBypassCache(bypass bool) AuthzOptionsFunc {
	return func(o *AuthzOptions) {
		o.BypassCache = bypass
	}
}

// WithPolicyOverride evaluates a single request against policy instead of the engine's active policy.
func WithPolicyOverride(policy *policyconfig.Policy) AuthzOptionsFunc {
	return func(o *AuthzOptions) {
		o.Policy = policy
	}
}
