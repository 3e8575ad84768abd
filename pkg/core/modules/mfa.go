//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"time"

	"github.com/manetu/toolgate/pkg/core/netmatch"
	"github.com/manetu/toolgate/pkg/core/types"
)

var (
	mfaHighActions        = []types.Action{types.ToolInvoke, types.ServerUpdate, types.ServerDelete, types.ToolDelete}
	mfaDestructiveActions = []types.Action{types.ServerDelete, types.ToolDelete, types.PolicyDelete}
	mfaAdminActions       = []types.Action{types.PolicyCreate, types.PolicyUpdate, types.PolicyDelete, types.ResourceShare}
	mfaStepUpActions      = []types.Action{types.ToolInvoke, types.ServerDelete}
)

func corporateNetwork(in *Input) bool {
	return in.AddrValid && (netmatch.IsPrivate(in.Addr) || in.Policy.IP().Corporate.Matches(in.Addr))
}

// mfaRequired returns why a second factor is needed, or "" when it is not.
func mfaRequired(in *Input) string {
	a := in.action()
	s := in.sensitivity()
	high := s >= types.SensitivityHigh
	switch {
	case s == types.SensitivityCritical:
		return "critical sensitivity"
	case s == types.SensitivityHigh && a.In(mfaHighActions...):
		return "high sensitivity " + string(a)
	case a.In(mfaDestructiveActions...):
		return "destructive action " + string(a)
	case in.role() == types.RoleAdmin && a.In(mfaAdminActions...):
		return "admin action " + string(a)
	case in.Policy.MFA().RequiresTool(in.resource().Name, in.resource().ID):
		return "tool requires mfa"
	case high && !in.InBusinessHours:
		return "sensitive access outside business hours"
	case high && !corporateNetwork(in):
		return "sensitive access from outside the corporate network"
	}
	return ""
}

type mfaSession struct {
	verified bool
	age      time.Duration
}

// session resolves the verification age.  A token presented with the request counts as verification at the
// evaluation instant; a verified session without a timestamp is treated as expired.
func session(in *Input) mfaSession {
	if in.Request.Context.HasMFAToken() {
		return mfaSession{verified: true}
	}
	p := in.principal()
	if !p.MFAVerified {
		return mfaSession{}
	}
	if p.MFAVerifiedAt == nil {
		return mfaSession{verified: true, age: in.Policy.MFA().Timeout + time.Second}
	}
	age := in.Now.Sub(*p.MFAVerifiedAt)
	if age < 0 {
		age = 0
	}
	return mfaSession{verified: true, age: age}
}

func stepUpNeeded(in *Input, s mfaSession) bool {
	return in.sensitivity() == types.SensitivityCritical &&
		in.action().In(mfaStepUpActions...) &&
		s.age > in.Policy.MFA().StepUp &&
		!in.Request.Context.StepUpVerified
}

// SessionExpiry returns the instant after which the principal's mfa session no longer satisfies the MFA module
// for this request.  It is zero when the outcome does not depend on session age: mfa is not required, a token
// or api key or override stands in for the session, or the session has already lapsed.
func SessionExpiry(in *Input) time.Time {
	if mfaRequired(in) == "" || in.Request.Context.HasMFAToken() {
		return time.Time{}
	}
	p := in.principal()
	switch {
	case in.role() == types.RoleService && p.HasValidAPIKey():
		return time.Time{}
	case in.role() == types.RoleAdmin && in.documentedOverride():
		return time.Time{}
	case !p.MFAVerified || p.MFAVerifiedAt == nil:
		return time.Time{}
	}

	end := p.MFAVerifiedAt.Add(in.Policy.MFA().Timeout)
	if in.sensitivity() == types.SensitivityCritical && in.action().In(mfaStepUpActions...) && !in.Request.Context.StepUpVerified {
		if stepUp := p.MFAVerifiedAt.Add(in.Policy.MFA().StepUp); stepUp.Before(end) {
			end = stepUp
		}
	}
	if !end.After(in.Now) {
		return time.Time{}
	}
	return end
}

var mfa = &ruleSet{
	name: types.ModuleMFA,
	allow: []clause{
		{
			label: "mfa not required",
			holds: func(in *Input) bool { return mfaRequired(in) == "" },
		},
		{
			label: "service account with a valid api key",
			holds: func(in *Input) bool {
				return in.role() == types.RoleService && in.principal().HasValidAPIKey()
			},
		},
		{
			label: "admin emergency override",
			holds: func(in *Input) bool {
				return in.role() == types.RoleAdmin && in.documentedOverride()
			},
		},
		{
			holds: func(in *Input) bool {
				s := session(in)
				return s.verified && s.age <= in.Policy.MFA().Timeout && !stepUpNeeded(in, s)
			},
			describe: func(in *Input) string { return "mfa verified: " + mfaRequired(in) },
		},
	},
	noMatch: func(in *Input) []types.Violation {
		s := session(in)
		why := mfaRequired(in)
		switch {
		case !s.verified:
			return []types.Violation{newViolation(types.ModuleMFA, types.ViolationMFARequired, "mfa required: "+why)}
		case s.age > in.Policy.MFA().Timeout:
			return []types.Violation{newViolation(types.ModuleMFA, types.ViolationMFASessionExpired,
				"mfa session expired; verify again")}
		}
		return []types.Violation{newViolation(types.ModuleMFA, types.ViolationStepUpRequired,
			"step-up verification required for critical "+string(in.action()))}
	},
}

// MFA requires a recent second factor for sensitive, destructive and administrative requests.
func MFA() Module {
	return mfa
}
