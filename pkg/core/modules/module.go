//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package modules implements the rule modules that make up an authorization decision.  Each module is a pure
// function of an Input: a set of allow clauses combined by OR, and a separate set of deny clauses that overrides
// them.
package modules

import (
	"context"
	"net/netip"
	"time"

	"github.com/manetu/toolgate/pkg/core/netmatch"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
)

// Input is everything a module may look at.  It is built once per request and shared read-only.
type Input struct {
	Request *types.Request
	Policy  *policyconfig.Policy
	Now     time.Time

	// ClientIP is the resolved client address as given; Addr is its parsed form when AddrValid.
	ClientIP  string
	Addr      netip.Addr
	AddrValid bool

	TimeBypassed    bool
	InBusinessHours bool
	InBusinessDay   bool
}

// NewInput resolves the evaluation instant (the request timestamp, else now) and the derived facts.
func NewInput(req *types.Request, policy *policyconfig.Policy, now time.Time) *Input {
	in := &Input{
		Request: req,
		Policy:  policy,
		Now:     now,
	}
	if ts := req.Context.Timestamp; ts != nil {
		in.Now = *ts
	}

	in.ClientIP = req.Context.ResolvedClientIP()
	if addr, err := netmatch.Parse(in.ClientIP); err == nil {
		in.Addr = addr
		in.AddrValid = true
	}

	in.TimeBypassed = req.Context.IgnoreTimeConstraints && policy.AllowBypass()
	in.InBusinessHours = in.TimeBypassed || policy.BusinessHours(in.Now)
	in.InBusinessDay = in.TimeBypassed || policy.BusinessDay(in.Now)
	return in
}

func (in *Input) principal() *types.Principal { return &in.Request.Principal }

func (in *Input) resource() *types.Resource { return &in.Request.Resource }

func (in *Input) action() types.Action { return in.Request.Action }

func (in *Input) sensitivity() types.Sensitivity { return in.Request.Resource.Sensitivity }

func (in *Input) role() types.Role { return in.Request.Principal.Role }

func (in *Input) documentedOverride() bool { return in.Request.Context.EmergencyOverride.Documented() }

// Module evaluates one aspect of a request.
type Module interface {
	Name() types.ModuleName
	Evaluate(ctx context.Context, in *Input) types.ModuleResult
}

type predicate func(in *Input) bool

type clause struct {
	label     string
	violation types.ViolationType
	holds     predicate
	// describe, when set, replaces label as the reason
	describe func(in *Input) string
}

func (c *clause) reason(in *Input) string {
	if c.describe != nil {
		return c.describe(in)
	}
	return c.label
}

// ruleSet is the common shape of the built-in modules.  Every clause is evaluated; any holding deny clause
// wins, otherwise the first holding allow clause decides, otherwise the result is silent with noMatch's
// violations.  Deny clauses run even when applies is false.
type ruleSet struct {
	name       types.ModuleName
	applies    predicate
	allow      []clause
	deny       []clause
	noMatch    func(in *Input) []types.Violation
	advisories func(in *Input) []types.Violation
}

func (r *ruleSet) Name() types.ModuleName { return r.name }

func (r *ruleSet) violation(t types.ViolationType, msg string) types.Violation {
	return types.Violation{Type: t, Module: r.name, Message: msg}
}

func (r *ruleSet) Evaluate(_ context.Context, in *Input) types.ModuleResult {
	var denied []types.Violation
	reason := ""
	for i := range r.deny {
		c := &r.deny[i]
		if c.holds(in) {
			if reason == "" {
				reason = c.reason(in)
			}
			denied = append(denied, r.violation(c.violation, c.reason(in)))
		}
	}
	if len(denied) > 0 {
		return types.ModuleResult{Deny: true, Applicable: true, Reason: reason, Violations: denied}
	}

	if r.applies != nil && !r.applies(in) {
		return types.ModuleResult{Reason: "not applicable"}
	}

	var advisories []types.Violation
	if r.advisories != nil {
		advisories = r.advisories(in)
	}

	allowed := ""
	for i := range r.allow {
		c := &r.allow[i]
		if c.holds(in) && allowed == "" {
			allowed = c.reason(in)
		}
	}
	if allowed != "" {
		return types.ModuleResult{Allow: true, Applicable: true, Reason: allowed, Violations: advisories}
	}

	var violations []types.Violation
	if r.noMatch != nil {
		violations = r.noMatch(in)
	}
	reason = "no rule matched"
	if len(violations) > 0 {
		reason = violations[0].Message
	}
	return types.ModuleResult{
		Applicable: true,
		Reason:     reason,
		Violations: append(violations, advisories...),
	}
}

// Builtin returns the six built-in modules in evaluation order.
func Builtin() []Module {
	return []Module{RBAC(), Team(), Sensitivity(), TimeWindow(), IPFilter(), MFA()}
}

// ForPolicy returns the built-in modules plus the extension module when the policy defines one.
func ForPolicy(p *policyconfig.Policy) []Module {
	mods := Builtin()
	if ext := p.Extension(); ext != nil {
		mods = append(mods, NewExtension(ext))
	}
	return mods
}

func newViolation(m types.ModuleName, t types.ViolationType, msg string) types.Violation {
	return types.Violation{Type: t, Module: m, Message: msg}
}

// atMost reports whether the resource is no more sensitive than level.
func atMost(level types.Sensitivity) predicate {
	return func(in *Input) bool { return in.sensitivity() <= level }
}

func all(preds ...predicate) predicate {
	return func(in *Input) bool {
		for _, p := range preds {
			if !p(in) {
				return false
			}
		}
		return true
	}
}
