//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package cache computes decision cache hints and wraps decision evaluation with a get-or-compute cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
)

// KeyPrefix starts every decision key.
const KeyPrefix = "tgate:decision:"

// FallbackTTL applies to a sensitivity outside the known levels.
const FallbackTTL = 120

var ttls = map[types.Sensitivity]int{
	types.SensitivityLow:      300,
	types.SensitivityMedium:   180,
	types.SensitivityHigh:     60,
	types.SensitivityCritical: 30,
}

// TTL returns the cache lifetime in seconds for a sensitivity.
func TTL(s types.Sensitivity) int {
	if ttl, ok := ttls[s]; ok {
		return ttl
	}
	return FallbackTTL
}

// Cacheable reports whether decisions for action at level may be reused: read-like actions at Low or Medium
// sensitivity only.
func Cacheable(action types.Action, level types.Sensitivity) bool {
	if !level.Valid() || level > types.SensitivityMedium {
		return false
	}
	return action.IsRead() || action.IsInvoke()
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PrincipalPrefix is the key prefix shared by every decision cached for a principal.
func PrincipalPrefix(principalID string) string {
	return KeyPrefix + hash(principalID)[:16] + ":"
}

// canonical lists every request attribute a decision depends on.  Field order is fixed and every set is
// sorted, so equal requests encode to equal bytes.
type canonical struct {
	Action         types.Action      `json:"action"`
	ResourceID     string            `json:"resource_id"`
	ResourceName   string            `json:"resource_name"`
	Kind           string            `json:"kind"`
	Sensitivity    types.Sensitivity `json:"sensitivity"`
	ResourceTeams  []string          `json:"resource_teams"`
	AllowedTeams   []string          `json:"allowed_teams"`
	Owner          string            `json:"owner"`
	Visibility     string            `json:"visibility"`
	Role           types.Role        `json:"role"`
	Teams          []string          `json:"teams"`
	ManagerOf      []string          `json:"manager_of"`
	Scopes         []string          `json:"scopes"`
	Authenticated  bool              `json:"authenticated"`
	AuthMethod     string            `json:"auth_method"`
	MFAVerified    bool              `json:"mfa_verified"`
	MFAVerifiedAt  string            `json:"mfa_verified_at"`
	ClientIP       string            `json:"client_ip"`
	Audit          bool              `json:"audit"`
	Override       bool              `json:"override"`
	HasMFAToken    bool              `json:"has_mfa_token"`
	StepUp         bool              `json:"step_up"`
	Country        string            `json:"country"`
	NewSensitivity string            `json:"new_sensitivity"`
	IgnoreTime     bool              `json:"ignore_time"`
	Policy         string            `json:"policy"`
	Hour           string            `json:"hour"`
}

// Key derives the cache key for a request evaluated at now under the policy with the given fingerprint.  The
// hour bucket keeps entries from outliving a business-hours boundary.  The raw MFA token never enters the key.
func Key(req *types.Request, fingerprint string, now time.Time) string {
	p := &req.Principal
	r := &req.Resource
	c := &req.Context

	k := canonical{
		Action:        req.Action,
		ResourceID:    r.ID,
		ResourceName:  r.Name,
		Kind:          string(r.Kind),
		Sensitivity:   r.Sensitivity,
		ResourceTeams: common.SortedUnion(r.Teams),
		AllowedTeams:  common.SortedUnion(r.AllowedTeams),
		Owner:         r.Owner,
		Visibility:    string(r.Visibility),
		Role:          p.Role,
		Teams:         common.SortedUnion(p.Teams),
		ManagerOf:     common.SortedUnion(p.ManagerOfTeams),
		Scopes:        common.SortedUnion(p.Scopes),
		Authenticated: p.Authenticated,
		AuthMethod:    string(p.AuthMethod),
		MFAVerified:   p.MFAVerified,
		ClientIP:      c.ResolvedClientIP(),
		Audit:         c.AuditEnabled,
		Override:      c.EmergencyOverride.Documented(),
		HasMFAToken:   c.HasMFAToken(),
		StepUp:        c.StepUpVerified,
		Country:       c.Country,
		IgnoreTime:    c.IgnoreTimeConstraints,
		Policy:        fingerprint,
		Hour:          now.UTC().Truncate(time.Hour).Format(time.RFC3339),
	}
	if p.MFAVerifiedAt != nil {
		k.MFAVerifiedAt = p.MFAVerifiedAt.UTC().Format(time.RFC3339Nano)
	}
	if c.NewSensitivity != nil {
		k.NewSensitivity = c.NewSensitivity.String()
	}

	// a struct of strings, bools and string slices always marshals
	data, _ := json.Marshal(&k)
	return PrincipalPrefix(p.ID) + hash(string(data))
}

// Hints computes the cache hints for a request evaluated at now.  The lifetime is the sensitivity TTL, cut short
// at sessionExpiry (when non-zero) and at the next business-hours or maintenance-window boundary, so a cached
// decision never outlives a fact it was derived from.  A decision with no whole second left is not cacheable.
func Hints(req *types.Request, policy *policyconfig.Policy, now, sessionExpiry time.Time) types.CacheHints {
	level := req.Resource.Sensitivity
	hints := types.CacheHints{
		Cacheable:  Cacheable(req.Action, level),
		TTLSeconds: TTL(level),
		Key:        Key(req, policy.Fingerprint(), now),
	}
	if !hints.Cacheable {
		return hints
	}

	end := now.Add(time.Duration(hints.TTLSeconds) * time.Second)
	if !sessionExpiry.IsZero() && sessionExpiry.Before(end) {
		end = sessionExpiry
	}
	if edge, ok := policy.NextScheduleChange(now, end); ok {
		end = edge
	}

	hints.TTLSeconds = int(end.Sub(now) / time.Second)
	if hints.TTLSeconds <= 0 {
		hints.Cacheable = false
		hints.TTLSeconds = 0
	}
	return hints
}
