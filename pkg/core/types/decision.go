//
//  Copyright © Manetu Inc. All rights reserved.
//

package types

// ModuleName identifies a rule module in a Decision.
type ModuleName string

// Rule modules, listed in evaluation order.
const (
	ModuleRBAC        ModuleName = "rbac"
	ModuleTeam        ModuleName = "team"
	ModuleSensitivity ModuleName = "sensitivity"
	ModuleTime        ModuleName = "time_window"
	ModuleIP          ModuleName = "ip_filtering"
	ModuleMFA         ModuleName = "mfa"
	ModuleExtension   ModuleName = "extension"
)

// ModuleOrder is the order in which modules run and in which the first failing reason is chosen.
var ModuleOrder = []ModuleName{
	ModuleRBAC, ModuleTeam, ModuleSensitivity, ModuleTime, ModuleIP, ModuleMFA, ModuleExtension,
}

// ViolationType is a stable tag callers can render without matching free text.
type ViolationType string

// Violation types.
const (
	ViolationAuthenticationRequired  ViolationType = "authentication_required"
	ViolationInsufficientRole        ViolationType = "insufficient_role_permissions"
	ViolationAdminRequired           ViolationType = "admin_required"
	ViolationCriticalOutsideHours    ViolationType = "critical_outside_business_hours"
	ViolationMissingTeamAssignment   ViolationType = "missing_team_assignment"
	ViolationNotTeamMember           ViolationType = "not_team_member"
	ViolationTeamManagerRequired     ViolationType = "team_manager_required"
	ViolationSensitivityRequirements ViolationType = "sensitivity_requirements_not_met"
	ViolationAuditRequired           ViolationType = "audit_required"
	ViolationOutsideBusinessHours    ViolationType = "outside_business_hours"
	ViolationSensitivityDowngrade    ViolationType = "sensitivity_downgrade"
	ViolationTimeRestriction         ViolationType = "time_restriction"
	ViolationTimePreference          ViolationType = "time_preference"
	ViolationClientIPMissing         ViolationType = "client_ip_missing"
	ViolationInvalidClientIP         ViolationType = "invalid_client_ip"
	ViolationIPBlocked               ViolationType = "ip_blocked"
	ViolationIPNotAllowed            ViolationType = "ip_not_allowed"
	ViolationVPNRequired             ViolationType = "vpn_required"
	ViolationRoleNetworkRestricted   ViolationType = "role_network_restricted"
	ViolationGeoRestricted           ViolationType = "geo_restricted"
	ViolationMFARequired             ViolationType = "mfa_required"
	ViolationMFASessionExpired       ViolationType = "mfa_session_expired"
	ViolationStepUpRequired          ViolationType = "step_up_required"
	ViolationExtensionDeny           ViolationType = "extension_deny"
	ViolationExtensionError          ViolationType = "extension_error"
)

// Violation explains one reason a module did not allow.  Advisory violations are informational only.
type Violation struct {
	Type     ViolationType `json:"type"`
	Module   ModuleName    `json:"module"`
	Message  string        `json:"message"`
	Advisory bool          `json:"advisory,omitempty"`
}

// ModuleResult is the tri-state output of one module: silent (neither flag), allow, or explicit deny.
// Allow and Deny are never both true.  Applicable is false only when the module had nothing to evaluate.
type ModuleResult struct {
	Allow      bool        `json:"allow"`
	Deny       bool        `json:"deny"`
	Applicable bool        `json:"applicable"`
	Reason     string      `json:"reason"`
	Violations []Violation `json:"violations,omitempty"`
}

// Compliance summarizes audit-relevant facts about the request.
type Compliance struct {
	Sensitivity        Sensitivity `json:"sensitivity"`
	TeamsInvolved      []string    `json:"teams_involved"`
	WorkHoursCompliant bool        `json:"work_hours_compliant"`
}

// CacheHints tells the caller whether and how long the decision may be reused.
type CacheHints struct {
	Cacheable  bool   `json:"cacheable"`
	TTLSeconds int    `json:"ttl_seconds"`
	Key        string `json:"key"`
}

// Decision is the combined outcome of all modules.
type Decision struct {
	Allow      bool                        `json:"allow"`
	Reason     string                      `json:"reason"`
	PerModule  map[ModuleName]ModuleResult `json:"per_module"`
	Violations []Violation                 `json:"violations"`
	Compliance Compliance                  `json:"compliance"`
	Cache      CacheHints                  `json:"cache"`
}

// HasViolation reports whether any violation of type t was recorded.
func (d *Decision) HasViolation(t ViolationType) bool {
	for _, v := range d.Violations {
		if v.Type == t {
			return true
		}
	}
	return false
}

// ViolationTypes lists the blocking (non-advisory) violation types in order.
func (d *Decision) ViolationTypes() []string {
	out := []string{}
	for _, v := range d.Violations {
		if !v.Advisory {
			out = append(out, string(v.Type))
		}
	}
	return out
}
