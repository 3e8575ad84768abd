//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"github.com/manetu/toolgate/pkg/core/netmatch"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
)

var destructiveNetworkActions = []types.Action{
	types.ServerDelete, types.ToolDelete, types.PolicyDelete, types.ToolDeploy,
}

type networkCheck struct {
	listsConfigured bool
	vpnNeeded       bool
	roleRange       *policyconfig.RoleRange
	geo             bool
}

func networkChecks(in *Input) networkCheck {
	ip := in.Policy.IP()
	c := networkCheck{
		listsConfigured: !ip.Allow.Empty() || !ip.Block.Empty(),
		vpnNeeded:       in.action().In(destructiveNetworkActions...) || in.sensitivity() >= types.SensitivityHigh,
		geo:             ip.GeoEnabled && in.sensitivity() == types.SensitivityCritical,
	}
	if rr, ok := ip.RoleRanges[in.role()]; ok && rr.Covers(in.action()) {
		c.roleRange = rr
	}
	return c
}

func (c networkCheck) required() bool {
	return c.listsConfigured || c.vpnNeeded || c.roleRange != nil || c.geo
}

func (c networkCheck) failures(in *Input) []types.Violation {
	ip := in.Policy.IP()
	var out []types.Violation
	add := func(t types.ViolationType, msg string) {
		out = append(out, newViolation(types.ModuleIP, t, msg))
	}

	switch {
	case in.ClientIP == "":
		add(types.ViolationClientIPMissing, "client address required for this request")
	case !in.AddrValid:
		add(types.ViolationInvalidClientIP, "unparseable client address "+in.ClientIP)
	default:
		private := netmatch.IsPrivate(in.Addr)
		if !(ip.Allow.Empty() || ip.Allow.Matches(in.Addr) || (private && ip.AllowPrivate)) {
			add(types.ViolationIPNotAllowed, in.ClientIP+" is not in the allow list")
		}
		if c.vpnNeeded && !private && !ip.VPN.Matches(in.Addr) {
			add(types.ViolationVPNRequired, "destructive or sensitive actions require a VPN or private network")
		}
		if c.roleRange != nil && !c.roleRange.Ranges.Matches(in.Addr) {
			add(types.ViolationRoleNetworkRestricted, string(in.role())+" may only "+string(in.action())+" from designated networks")
		}
	}
	if c.geo && !ip.CountryAllowed(in.Request.Context.Country) {
		add(types.ViolationGeoRestricted, "request origin country is not allowed for critical resources")
	}
	return out
}

var ipFilter = &ruleSet{
	name: types.ModuleIP,
	deny: []clause{
		{
			label:     "client address is blocked",
			violation: types.ViolationIPBlocked,
			holds: func(in *Input) bool {
				return in.AddrValid && in.Policy.IP().Block.Matches(in.Addr)
			},
		},
	},
	allow: []clause{
		{
			label: "ip filtering not required",
			holds: func(in *Input) bool { return !networkChecks(in).required() },
		},
		{
			label: "network checks passed",
			holds: func(in *Input) bool {
				c := networkChecks(in)
				return len(c.failures(in)) == 0
			},
		},
	},
	noMatch: func(in *Input) []types.Violation {
		return networkChecks(in).failures(in)
	},
}

// IPFilter applies allow and block lists, VPN equivalence, role network ranges and the country allow list.
func IPFilter() Module {
	return ipFilter
}
