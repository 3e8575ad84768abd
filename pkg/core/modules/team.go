//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/types"
)

func teamMember(in *Input) bool {
	return common.Intersects(in.principal().MemberTeams(), in.resource().Teams)
}

func teamManager(in *Input) bool {
	return common.Intersects(in.principal().ManagerOfTeams, in.resource().Teams)
}

func crossTeam(in *Input) bool {
	return common.Intersects(in.principal().MemberTeams(), in.resource().AllowedTeams)
}

func managedAction(a types.Action) bool {
	return a.IsUpdate() || a.IsDelete() || a == types.ToolDeploy || a == types.ResourceShare
}

var team = &ruleSet{
	name: types.ModuleTeam,
	applies: func(in *Input) bool {
		r := in.resource()
		if in.action().IsPolicyManagement() || in.action() == types.PolicyRead {
			return false
		}
		return len(r.Teams) > 0 || len(r.AllowedTeams) > 0
	},
	deny: []clause{
		{
			label:     "high and critical resources must be registered with a team",
			violation: types.ViolationMissingTeamAssignment,
			holds: func(in *Input) bool {
				return in.action().IsRegister() && in.sensitivity() >= types.SensitivityHigh && len(in.resource().Teams) == 0
			},
		},
		{
			label:     "critical tool invocation requires a manager of the tool's team",
			violation: types.ViolationTeamManagerRequired,
			holds: func(in *Input) bool {
				return in.action() == types.ToolInvoke && in.sensitivity() == types.SensitivityCritical && !teamManager(in)
			},
		},
	},
	allow: []clause{
		{
			label: "team member access",
			holds: all(teamMember, func(in *Input) bool {
				return in.action().IsRead() || in.action().IsInvoke()
			}),
		},
		{
			label: "team manager change at low/medium sensitivity",
			holds: all(teamManager, atMost(types.SensitivityMedium), func(in *Input) bool {
				return managedAction(in.action())
			}),
		},
		{
			label: "registration by team member",
			holds: all(teamMember, atMost(types.SensitivityHigh), func(in *Input) bool {
				return in.action().IsRegister()
			}),
		},
		{
			label: "critical registration by team manager",
			holds: all(teamManager, func(in *Input) bool {
				return in.action().IsRegister() && in.sensitivity() == types.SensitivityCritical
			}),
		},
		{
			label: "public low sensitivity read",
			holds: all(atMost(types.SensitivityLow), func(in *Input) bool {
				return in.action().IsRead() && in.resource().IsPublic()
			}),
		},
		{
			label: "cross-team read",
			holds: all(crossTeam, func(in *Input) bool {
				return in.action().IsRead()
			}),
		},
	},
	noMatch: func(in *Input) []types.Violation {
		a := in.action()
		needsManager := managedAction(a) || (a.IsRegister() && in.sensitivity() == types.SensitivityCritical)
		switch {
		case needsManager && !teamManager(in):
			return []types.Violation{newViolation(types.ModuleTeam, types.ViolationTeamManagerRequired,
				string(a)+" requires a manager of the resource's team")}
		case needsManager:
			return []types.Violation{newViolation(types.ModuleTeam, types.ViolationSensitivityRequirements,
				"team managers may only change low and medium sensitivity resources")}
		}
		return []types.Violation{newViolation(types.ModuleTeam, types.ViolationNotTeamMember,
			"principal is not a member of the resource's teams")}
	},
}

// Team grants access through team membership and management.  It is not applicable to resources without any
// team assignment, nor to policy actions, whose target is a policy document rather than a team-owned server or
// tool.
func Team() Module {
	return team
}
