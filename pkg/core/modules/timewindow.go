//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"strings"

	"github.com/manetu/toolgate/pkg/core/types"
)

// RestrictionType distinguishes gating restrictions from preferences.
type RestrictionType string

// Restriction types.
const (
	BusinessHoursOnly      RestrictionType = "business_hours_only"
	BusinessHoursPreferred RestrictionType = "business_hours_preferred"
)

// Restriction is one time rule that applies to a request.
type Restriction struct {
	Name        string
	Type        RestrictionType
	ExemptRoles []types.Role
}

func (r *Restriction) hard() bool { return r.Type == BusinessHoursOnly }

func (r *Restriction) exempts(role types.Role) bool {
	for _, e := range r.ExemptRoles {
		if e == role {
			return true
		}
	}
	return false
}

var adminOnly = []types.Role{types.RoleAdmin}

// Restrictions assembles the time rules for a request from its sensitivity, action and role.
func Restrictions(in *Input) []Restriction {
	var out []Restriction
	switch in.sensitivity() {
	case types.SensitivityCritical:
		out = append(out, Restriction{Name: "critical sensitivity", Type: BusinessHoursOnly, ExemptRoles: adminOnly})
	case types.SensitivityHigh:
		out = append(out, Restriction{Name: "high sensitivity", Type: BusinessHoursPreferred})
	}
	if in.action().In(types.ServerDelete, types.ToolDeploy) {
		out = append(out, Restriction{Name: string(in.action()), Type: BusinessHoursOnly, ExemptRoles: adminOnly})
	}
	if in.role() == types.RoleViewer {
		out = append(out, Restriction{Name: "viewer role", Type: BusinessHoursOnly, ExemptRoles: adminOnly})
	}
	return out
}

// liftedBy names what satisfies a hard restriction, or "" if nothing does.
func liftedBy(in *Input, r *Restriction) string {
	switch {
	case in.InBusinessHours:
		return "business hours"
	case r.exempts(in.role()):
		return "exempt role " + string(in.role())
	case in.Policy.MaintenanceAllows(in.Now, in.action()):
		return "maintenance window"
	case in.documentedOverride():
		return "emergency override"
	}
	return ""
}

func unsatisfied(in *Input) []Restriction {
	var out []Restriction
	for _, r := range Restrictions(in) {
		if r.hard() && liftedBy(in, &r) == "" {
			out = append(out, r)
		}
	}
	return out
}

func timeReason(in *Input) string {
	var lifted []string
	for _, r := range Restrictions(in) {
		if !r.hard() {
			continue
		}
		if by := liftedBy(in, &r); by != "business hours" {
			lifted = append(lifted, r.Name+" lifted by "+by)
		}
	}
	if len(lifted) == 0 {
		return "time restrictions satisfied"
	}
	reason := strings.Join(lifted, "; ")
	if why := strings.TrimSpace(in.Request.Context.TimeOverrideReason); why != "" {
		reason += " (" + why + ")"
	}
	return reason
}

var timeWindow = &ruleSet{
	name: types.ModuleTime,
	allow: []clause{
		{
			holds:    func(in *Input) bool { return len(unsatisfied(in)) == 0 },
			describe: timeReason,
		},
	},
	noMatch: func(in *Input) []types.Violation {
		var out []types.Violation
		for _, r := range unsatisfied(in) {
			out = append(out, newViolation(types.ModuleTime, types.ViolationTimeRestriction,
				r.Name+" is restricted to business hours"))
		}
		return out
	},
	advisories: func(in *Input) []types.Violation {
		if in.InBusinessHours {
			return nil
		}
		var out []types.Violation
		for _, r := range Restrictions(in) {
			if !r.hard() {
				v := newViolation(types.ModuleTime, types.ViolationTimePreference, r.Name+" prefers business hours")
				v.Advisory = true
				out = append(out, v)
			}
		}
		return out
	},
}

// TimeWindow gates requests on business hours, maintenance windows and emergency overrides.
func TimeWindow() Module {
	return timeWindow
}
