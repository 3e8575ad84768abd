//
//  Copyright © Manetu Inc. All rights reserved.
//

package types

import (
	"strings"
	"time"
)

// EmergencyOverride is a break-glass justification attached to a request.
type EmergencyOverride struct {
	Reason   string `json:"reason" yaml:"reason"`
	Approver string `json:"approver" yaml:"approver"`
}

// Documented reports whether the override is present with both a reason and an approver.
func (o *EmergencyOverride) Documented() bool {
	return o != nil && strings.TrimSpace(o.Reason) != "" && strings.TrimSpace(o.Approver) != ""
}

// Context carries the per-request environment.  Every field is optional; the comment on each states the
// value the engine assumes when it is absent.
type Context struct {
	// Timestamp is the instant to evaluate at.  Absent: the engine clock.
	Timestamp *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	// IgnoreTimeConstraints treats every instant as inside business hours.  It is honoured only when the
	// active policy sets time.allow_bypass.  Absent: false.
	IgnoreTimeConstraints bool `json:"ignore_time_constraints,omitempty" yaml:"ignore_time_constraints,omitempty"`
	// ClientIP is the caller address.  Absent: the first X-Forwarded-For entry, else unknown.
	ClientIP string `json:"client_ip,omitempty" yaml:"client_ip,omitempty"`
	// ForwardedFor is the raw X-Forwarded-For value.
	ForwardedFor string `json:"forwarded_for,omitempty" yaml:"forwarded_for,omitempty"`
	// AuditEnabled reports that the caller will persist an audit trail.  Absent: false.
	AuditEnabled bool `json:"audit_enabled" yaml:"audit_enabled"`
	// EmergencyOverride is a documented break-glass request.  Absent: none.
	EmergencyOverride *EmergencyOverride `json:"emergency_override,omitempty" yaml:"emergency_override,omitempty"`
	// MFAToken is a second factor presented with this request.  Absent: none.
	MFAToken string `json:"mfa_token,omitempty" yaml:"mfa_token,omitempty"`
	// StepUpVerified reports a fresh re-verification.  Absent: false.
	StepUpVerified bool `json:"step_up_verified,omitempty" yaml:"step_up_verified,omitempty"`
	// TimeOverrideReason is recorded when a hard time restriction is lifted.
	TimeOverrideReason string `json:"time_override_reason,omitempty" yaml:"time_override_reason,omitempty"`
	// Country is the ISO 3166 alpha-2 origin of the request.  Absent: unknown.
	Country string `json:"country,omitempty" yaml:"country,omitempty"`
	// NewSensitivity is the requested classification on a reclassifying update.  Absent: no change.
	NewSensitivity *Sensitivity `json:"new_sensitivity,omitempty" yaml:"new_sensitivity,omitempty"`
}

// ResolvedClientIP returns ClientIP, falling back to the first X-Forwarded-For hop.
func (c *Context) ResolvedClientIP() string {
	if ip := strings.TrimSpace(c.ClientIP); ip != "" {
		return ip
	}
	first, _, _ := strings.Cut(c.ForwardedFor, ",")
	return strings.TrimSpace(first)
}

// HasMFAToken reports a non-empty token.
func (c *Context) HasMFAToken() bool {
	return strings.TrimSpace(c.MFAToken) != ""
}
