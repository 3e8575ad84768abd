//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"context"
	"testing"
	"time"

	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/stretchr/testify/require"
)

var (
	// 2025-06-04 is a Wednesday
	wednesdayMorning = time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)
	wednesdayNight   = time.Date(2025, 6, 4, 22, 0, 0, 0, time.UTC)
	saturdayMorning  = time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)

	defaultPolicy = policyconfig.MustCompile(policyconfig.Default())
)

type option func(*types.Request)

func request(opts ...option) *types.Request {
	r := &types.Request{
		Principal: types.Principal{ID: "alice", Role: types.RoleDeveloper, Authenticated: true, AuthMethod: types.AuthJWT},
		Resource:  types.Resource{ID: "srv-1", Name: "search", Kind: types.KindTool, Sensitivity: types.SensitivityMedium},
		Action:    types.ToolRead,
		Context:   types.Context{ClientIP: "10.0.0.5"},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func role(r types.Role) option { return func(q *types.Request) { q.Principal.Role = r } }

func action(a types.Action) option { return func(q *types.Request) { q.Action = a } }

func level(s types.Sensitivity) option { return func(q *types.Request) { q.Resource.Sensitivity = s } }

func teams(t ...string) option { return func(q *types.Request) { q.Principal.Teams = t } }

func manages(t ...string) option { return func(q *types.Request) { q.Principal.ManagerOfTeams = t } }

func resourceTeams(t ...string) option { return func(q *types.Request) { q.Resource.Teams = t } }

func allowedTeams(t ...string) option { return func(q *types.Request) { q.Resource.AllowedTeams = t } }

func owner(id string) option { return func(q *types.Request) { q.Resource.Owner = id } }

func public() option { return func(q *types.Request) { q.Resource.Visibility = types.VisibilityPublic } }

func audit() option { return func(q *types.Request) { q.Context.AuditEnabled = true } }

func clientIP(ip string) option { return func(q *types.Request) { q.Context.ClientIP = ip } }

func country(c string) option { return func(q *types.Request) { q.Context.Country = c } }

func unauthenticated() option { return func(q *types.Request) { q.Principal.Authenticated = false } }

func override() option {
	return func(q *types.Request) {
		q.Context.EmergencyOverride = &types.EmergencyOverride{Reason: "incident 42", Approver: "bob"}
	}
}

func newSensitivity(s types.Sensitivity) option {
	return func(q *types.Request) { q.Context.NewSensitivity = &s }
}

func verifiedAt(t time.Time) option {
	return func(q *types.Request) {
		q.Principal.MFAVerified = true
		q.Principal.MFAVerifiedAt = &t
	}
}

func compile(t *testing.T, yaml string) *policyconfig.Policy {
	t.Helper()
	cfg, err := policyconfig.Parse([]byte(yaml))
	require.NoError(t, err)
	p, err := policyconfig.Compile(cfg)
	require.NoError(t, err)
	return p
}

func eval(m Module, p *policyconfig.Policy, now time.Time, opts ...option) types.ModuleResult {
	return m.Evaluate(context.Background(), NewInput(request(opts...), p, now))
}

func violationTypes(r types.ModuleResult) []types.ViolationType {
	var out []types.ViolationType
	for _, v := range r.Violations {
		out = append(out, v.Type)
	}
	return out
}
