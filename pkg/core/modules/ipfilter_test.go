//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"testing"

	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/stretchr/testify/assert"
)

func TestIPFilter(t *testing.T) {
	vpn := compile(t, `ip: {vpn_ranges: ["203.0.113.0/24"]}`)
	lists := compile(t, `ip: {allow: ["198.51.100.0/24"], block: ["198.51.100.66", "10.0.0.66"], allow_private: false}`)
	blockOnly := compile(t, `ip: {block: ["10.0.0.66"]}`)
	roles := compile(t, `ip: {role_ranges: {admin: {actions: [policy:update], ranges: ["10.10.*"]}}}`)
	geo := compile(t, `ip: {geo: {enabled: true, allowed_countries: [US]}}`)

	critical := []option{action(types.ToolInvoke), level(types.SensitivityCritical)}
	with := func(extra ...option) []option { return append(append([]option{}, critical...), extra...) }
	xff := func(v string) option {
		return func(q *types.Request) {
			q.Context.ClientIP = ""
			q.Context.ForwardedFor = v
		}
	}

	tests := []struct {
		name      string
		policy    *policyconfig.Policy
		opts      []option
		expect    outcome
		violation types.ViolationType
	}{
		{"not required", defaultPolicy, []option{clientIP("8.8.8.8")}, allowed, ""},
		{"not required without address", defaultPolicy, []option{clientIP("")}, allowed, ""},
		{"critical public", defaultPolicy, with(clientIP("8.8.8.8")), silent, types.ViolationVPNRequired},
		{"critical private", defaultPolicy, with(), allowed, ""},
		{"critical loopback v6", defaultPolicy, with(clientIP("::1")), allowed, ""},
		{"critical ula", defaultPolicy, with(clientIP("fd00::1")), allowed, ""},
		{"critical public v6", defaultPolicy, with(clientIP("2001:db8::1")), silent, types.ViolationVPNRequired},
		{"critical missing", defaultPolicy, with(clientIP("")), silent, types.ViolationClientIPMissing},
		{"critical garbage", defaultPolicy, with(clientIP("not-an-ip")), silent, types.ViolationInvalidClientIP},
		{"forwarded fallback", defaultPolicy, with(xff("10.1.1.1, 8.8.8.8")), allowed, ""},
		{"forwarded public", defaultPolicy, with(xff("8.8.8.8, 10.1.1.1")), silent, types.ViolationVPNRequired},
		{"destructive public", defaultPolicy, []option{action(types.PolicyDelete), clientIP("8.8.8.8")}, silent, types.ViolationVPNRequired},
		{"vpn range", vpn, with(clientIP("203.0.113.9")), allowed, ""},
		{"allow list hit", lists, []option{clientIP("198.51.100.4")}, allowed, ""},
		{"allow list miss", lists, []option{clientIP("8.8.8.8")}, silent, types.ViolationIPNotAllowed},
		{"private not permitted", lists, []option{clientIP("10.0.0.5")}, silent, types.ViolationIPNotAllowed},
		{"blocked inside allow list", lists, []option{clientIP("198.51.100.66")}, denied, types.ViolationIPBlocked},
		{"blocked private", blockOnly, []option{clientIP("10.0.0.66")}, denied, types.ViolationIPBlocked},
		{"block list permits others", blockOnly, []option{clientIP("8.8.8.8")}, allowed, ""},
		{"block list needs address", blockOnly, []option{clientIP("")}, silent, types.ViolationClientIPMissing},
		{"role range outside", roles, []option{role(types.RoleAdmin), action(types.PolicyUpdate)}, silent, types.ViolationRoleNetworkRestricted},
		{"role range inside", roles, []option{role(types.RoleAdmin), action(types.PolicyUpdate), clientIP("10.10.1.1")}, allowed, ""},
		{"role range other action", roles, []option{role(types.RoleAdmin), action(types.PolicyRead), clientIP("8.8.8.8")}, allowed, ""},
		{"geo allowed", geo, with(country("us")), allowed, ""},
		{"geo denied", geo, with(country("FR")), silent, types.ViolationGeoRestricted},
		{"geo missing", geo, with(), silent, types.ViolationGeoRestricted},
		{"geo only for critical", geo, []option{country("FR"), clientIP("8.8.8.8")}, allowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := eval(IPFilter(), tt.policy, wednesdayMorning, tt.opts...)
			assertOutcome(t, tt.expect, r)
			assert.True(t, r.Applicable)
			if tt.violation != "" {
				assert.Contains(t, violationTypes(r), tt.violation)
			} else {
				assert.Empty(t, r.Violations)
			}
		})
	}
}

func TestIPFilter_CombinedViolations(t *testing.T) {
	geo := compile(t, `ip: {geo: {enabled: true, allowed_countries: [US]}}`)
	r := eval(IPFilter(), geo, wednesdayMorning, action(types.ToolInvoke), level(types.SensitivityCritical),
		clientIP("8.8.8.8"), country("FR"))
	assert.Equal(t, []types.ViolationType{types.ViolationVPNRequired, types.ViolationGeoRestricted}, violationTypes(r))
}
