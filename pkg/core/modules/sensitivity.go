//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"strings"

	"github.com/manetu/toolgate/pkg/core/types"
)

// requirement applies to every level at or above minLevel, so the set for a level always contains the set for
// the level below it.
type requirement struct {
	minLevel types.Sensitivity
	label    string
	holds    predicate
}

var requirements = []requirement{
	{types.SensitivityLow, "authenticated", func(in *Input) bool { return in.principal().Authenticated }},
	{types.SensitivityMedium, "developer or admin role", hasRole(types.RoleDeveloper, types.RoleAdmin)},
	{types.SensitivityHigh, "team membership", teamMember},
	{types.SensitivityHigh, "business hours", func(in *Input) bool {
		return in.InBusinessHours || in.documentedOverride()
	}},
	{types.SensitivityHigh, "audit enabled for invocation", func(in *Input) bool {
		return !in.action().IsInvoke() || in.Request.Context.AuditEnabled
	}},
	{types.SensitivityCritical, "team manager", teamManager},
	{types.SensitivityCritical, "business day", func(in *Input) bool {
		return in.InBusinessDay || in.documentedOverride()
	}},
	{types.SensitivityCritical, "audit enabled", func(in *Input) bool { return in.Request.Context.AuditEnabled }},
	{types.SensitivityCritical, "mfa verified for invocation", func(in *Input) bool {
		return !in.action().IsInvoke() || in.principal().MFAVerified
	}},
}

// requirementsFor lists the labels that apply at level.
func requirementsFor(level types.Sensitivity) []string {
	var out []string
	for _, r := range requirements {
		if r.minLevel <= level {
			out = append(out, r.label)
		}
	}
	return out
}

func unmet(in *Input) []string {
	var out []string
	for _, r := range requirements {
		if r.minLevel <= in.sensitivity() && !r.holds(in) {
			out = append(out, r.label)
		}
	}
	return out
}

func reclassification(in *Input) (types.Sensitivity, bool) {
	if ns := in.Request.Context.NewSensitivity; ns != nil {
		return *ns, true
	}
	return 0, false
}

func upgrade(in *Input) bool {
	ns, ok := reclassification(in)
	return ok && ns > in.sensitivity()
}

func downgrade(in *Input) bool {
	ns, ok := reclassification(in)
	return ok && ns < in.sensitivity()
}

var sensitivity = &ruleSet{
	name: types.ModuleSensitivity,
	deny: []clause{
		{
			label:     "audit must be enabled for high and critical resources",
			violation: types.ViolationAuditRequired,
			holds: func(in *Input) bool {
				return in.sensitivity() >= types.SensitivityHigh && !in.Request.Context.AuditEnabled
			},
		},
		{
			label:     "outside business hours without a documented emergency override",
			violation: types.ViolationOutsideBusinessHours,
			holds: func(in *Input) bool {
				if in.documentedOverride() {
					return false
				}
				switch in.sensitivity() {
				case types.SensitivityHigh:
					return !in.InBusinessHours
				case types.SensitivityCritical:
					return !in.InBusinessHours || !in.InBusinessDay
				}
				return false
			},
		},
		{
			label:     "only admins may lower a resource's sensitivity",
			violation: types.ViolationSensitivityDowngrade,
			holds: func(in *Input) bool {
				return downgrade(in) && in.role() != types.RoleAdmin
			},
		},
	},
	allow: []clause{
		{
			holds: func(in *Input) bool { return len(unmet(in)) == 0 },
			describe: func(in *Input) string {
				return "meets " + in.sensitivity().String() + " sensitivity requirements"
			},
		},
		{
			label: "owner raising sensitivity",
			holds: all(isOwner, upgrade),
		},
		{
			label: "admin lowering sensitivity",
			holds: all(hasRole(types.RoleAdmin), downgrade),
		},
	},
	noMatch: func(in *Input) []types.Violation {
		return []types.Violation{newViolation(types.ModuleSensitivity, types.ViolationSensitivityRequirements,
			in.sensitivity().String()+" sensitivity requirements not met: "+strings.Join(unmet(in), ", "))}
	},
}

// Sensitivity enforces the cumulative requirements of the resource's classification and guards
// reclassification.
func Sensitivity() Module {
	return sensitivity
}
