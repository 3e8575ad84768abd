//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"context"
	"time"

	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/cache"
	"github.com/manetu/toolgate/pkg/core/modules"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
)

// ReasonGranted is the reason attached to every allowed decision.
const ReasonGranted = "access granted"

// passes reports whether one module's result permits the request.  The team module may also stand aside when
// the resource has no team assignment.
func passes(name types.ModuleName, res types.ModuleResult) bool {
	if res.Deny {
		return false
	}
	if name == types.ModuleTeam && !res.Applicable {
		return true
	}
	return res.Allow
}

// Evaluate runs every module for req against policy at now and combines the results.  It performs no I/O and
// reads no state beyond its arguments; the request must already be normalized.
func Evaluate(ctx context.Context, req *types.Request, policy *policyconfig.Policy, now time.Time) *types.Decision {
	in := modules.NewInput(req, policy, now)
	mods := modules.ForPolicy(policy)

	d := &types.Decision{
		Allow:      true,
		PerModule:  make(map[types.ModuleName]types.ModuleResult, len(mods)),
		Violations: []types.Violation{},
	}
	for _, m := range mods {
		res := m.Evaluate(ctx, in)
		d.PerModule[m.Name()] = res
		d.Violations = append(d.Violations, res.Violations...)
		if !passes(m.Name(), res) && d.Allow {
			d.Allow = false
			d.Reason = res.Reason
		}
	}
	if d.Allow {
		d.Reason = ReasonGranted
	}

	level := req.Resource.Sensitivity
	d.Compliance = types.Compliance{
		Sensitivity:        level,
		TeamsInvolved:      common.SortedUnion(req.Principal.Teams, req.Resource.Teams),
		WorkHoursCompliant: workHoursCompliant(level, in.InBusinessHours, in.InBusinessDay),
	}
	d.Cache = cache.Hints(req, policy, in.Now, modules.SessionExpiry(in))
	return d
}
