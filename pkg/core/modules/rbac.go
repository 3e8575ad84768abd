//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"github.com/manetu/toolgate/pkg/core/types"
)

func hasRole(roles ...types.Role) predicate {
	return func(in *Input) bool {
		for _, r := range roles {
			if in.role() == r {
				return true
			}
		}
		return false
	}
}

func isOwner(in *Input) bool {
	return in.resource().HasOwner(in.principal().ID)
}

var rbac = &ruleSet{
	name: types.ModuleRBAC,
	deny: []clause{
		{
			label:     "authentication required",
			violation: types.ViolationAuthenticationRequired,
			holds:     func(in *Input) bool { return !in.principal().Authenticated },
		},
		{
			label:     "policy management requires the admin role",
			violation: types.ViolationAdminRequired,
			holds: func(in *Input) bool {
				return in.action().IsPolicyManagement() && in.role() != types.RoleAdmin
			},
		},
		{
			label:     "critical tool invocation outside business hours",
			violation: types.ViolationCriticalOutsideHours,
			holds: func(in *Input) bool {
				return in.role() == types.RoleAdmin &&
					in.action() == types.ToolInvoke &&
					in.sensitivity() == types.SensitivityCritical &&
					!in.InBusinessHours &&
					!in.documentedOverride()
			},
		},
	},
	allow: []clause{
		{
			label: "admin full access",
			holds: hasRole(types.RoleAdmin),
		},
		{
			label: "developer register or invoke at low/medium sensitivity",
			holds: all(hasRole(types.RoleDeveloper), atMost(types.SensitivityMedium), func(in *Input) bool {
				return in.action().IsRegister() || in.action().IsInvoke()
			}),
		},
		{
			label: "developer updating an owned resource",
			holds: all(hasRole(types.RoleDeveloper), isOwner, func(in *Input) bool {
				return in.action().IsUpdate()
			}),
		},
		{
			label: "developer deleting an owned low/medium resource",
			holds: all(hasRole(types.RoleDeveloper), isOwner, atMost(types.SensitivityMedium), func(in *Input) bool {
				return in.action().IsDelete()
			}),
		},
		{
			label: "read access",
			holds: all(hasRole(types.RoleViewer, types.RoleDeveloper), func(in *Input) bool {
				return in.action().IsRead()
			}),
		},
		{
			label: "policy read for authenticated principals",
			holds: func(in *Input) bool {
				return in.action() == types.PolicyRead && in.principal().Authenticated
			},
		},
		{
			label: "service scope grants action",
			holds: all(hasRole(types.RoleService), atMost(types.SensitivityMedium), func(in *Input) bool {
				return in.principal().HasScope(string(in.action()))
			}),
		},
	},
	noMatch: func(in *Input) []types.Violation {
		return []types.Violation{newViolation(types.ModuleRBAC, types.ViolationInsufficientRole,
			"insufficient role permissions: "+string(in.role())+" may not "+string(in.action()))}
	},
}

// RBAC maps role, action and sensitivity to a verdict.
func RBAC() Module {
	return rbac
}
