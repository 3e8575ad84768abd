//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"fmt"
	"testing"
	"time"

	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/stretchr/testify/assert"
)

func TestSensitivity(t *testing.T) {
	critical := []option{role(types.RoleAdmin), manages("ml"), resourceTeams("ml"), level(types.SensitivityCritical), audit()}
	with := func(base []option, extra ...option) []option {
		return append(append([]option{}, base...), extra...)
	}

	tests := []struct {
		name      string
		now       time.Time
		opts      []option
		expect    outcome
		violation types.ViolationType
	}{
		{"low authenticated", wednesdayMorning, []option{role(types.RoleViewer), level(types.SensitivityLow)}, allowed, ""},
		{"low unauthenticated", wednesdayMorning, []option{unauthenticated(), level(types.SensitivityLow)}, silent, types.ViolationSensitivityRequirements},
		{"medium viewer", wednesdayMorning, []option{role(types.RoleViewer)}, silent, types.ViolationSensitivityRequirements},
		{"medium developer", wednesdayMorning, []option{}, allowed, ""},
		{"high member invoke", wednesdayMorning, []option{level(types.SensitivityHigh), teams("ml"), resourceTeams("ml"), action(types.ToolInvoke), audit()}, allowed, ""},
		{"high without audit", wednesdayMorning, []option{level(types.SensitivityHigh), teams("ml"), resourceTeams("ml")}, denied, types.ViolationAuditRequired},
		{"high outsider", wednesdayMorning, []option{level(types.SensitivityHigh), teams("web"), resourceTeams("ml"), audit()}, silent, types.ViolationSensitivityRequirements},
		{"high after hours", wednesdayNight, []option{level(types.SensitivityHigh), teams("ml"), resourceTeams("ml"), audit()}, denied, types.ViolationOutsideBusinessHours},
		{"high after hours with override", wednesdayNight, []option{level(types.SensitivityHigh), teams("ml"), resourceTeams("ml"), audit(), override()}, allowed, ""},
		{"critical invoke verified", wednesdayMorning, with(critical, action(types.ToolInvoke), verifiedAt(wednesdayMorning)), allowed, ""},
		{"critical invoke unverified", wednesdayMorning, with(critical, action(types.ToolInvoke)), silent, types.ViolationSensitivityRequirements},
		{"critical read unverified", wednesdayMorning, with(critical, action(types.ToolRead)), allowed, ""},
		{"critical member only", wednesdayMorning, []option{role(types.RoleAdmin), teams("ml"), resourceTeams("ml"), level(types.SensitivityCritical), audit()}, silent, types.ViolationSensitivityRequirements},
		{"critical at weekend", saturdayMorning, critical, denied, types.ViolationOutsideBusinessHours},
		{"critical at weekend with override", saturdayMorning, with(critical, override()), allowed, ""},
		{"owner upgrade", wednesdayMorning, []option{role(types.RoleViewer), owner("alice"), action(types.ServerUpdate), newSensitivity(types.SensitivityHigh)}, allowed, ""},
		{"stranger upgrade", wednesdayMorning, []option{role(types.RoleViewer), owner("bob"), action(types.ServerUpdate), newSensitivity(types.SensitivityHigh)}, silent, types.ViolationSensitivityRequirements},
		{"developer downgrade", wednesdayMorning, []option{owner("alice"), action(types.ServerUpdate), newSensitivity(types.SensitivityLow)}, denied, types.ViolationSensitivityDowngrade},
		{"admin downgrade", wednesdayMorning, []option{role(types.RoleAdmin), action(types.ServerUpdate), newSensitivity(types.SensitivityLow)}, allowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := eval(Sensitivity(), defaultPolicy, tt.now, tt.opts...)
			assertOutcome(t, tt.expect, r)
			if tt.violation != "" {
				assert.Contains(t, violationTypes(r), tt.violation)
			}
		})
	}
}

func TestSensitivity_Reason(t *testing.T) {
	r := eval(Sensitivity(), defaultPolicy, wednesdayMorning)
	assert.Equal(t, "meets medium sensitivity requirements", r.Reason)

	r = eval(Sensitivity(), defaultPolicy, wednesdayMorning, role(types.RoleViewer))
	assert.Equal(t, "medium sensitivity requirements not met: developer or admin role", r.Reason)
}

func TestSensitivity_Monotonic(t *testing.T) {
	levels := []types.Sensitivity{types.SensitivityLow, types.SensitivityMedium, types.SensitivityHigh, types.SensitivityCritical}

	for i := 1; i < len(levels); i++ {
		lower := requirementsFor(levels[i-1])
		higher := requirementsFor(levels[i])
		assert.Subset(t, higher, lower)
		assert.Greater(t, len(higher), len(lower))
	}

	// for any request, whatever fails at a level also fails at every higher level
	roles := []types.Role{types.RoleAdmin, types.RoleDeveloper, types.RoleViewer, types.RoleService}
	times := []time.Time{wednesdayMorning, wednesdayNight, saturdayMorning}
	actions := []types.Action{types.ToolRead, types.ToolInvoke, types.ServerUpdate}
	for _, rl := range roles {
		for _, now := range times {
			for _, a := range actions {
				for mask := 0; mask < 16; mask++ {
					opts := []option{role(rl), action(a), resourceTeams("ml")}
					if mask&1 != 0 {
						opts = append(opts, teams("ml"))
					}
					if mask&2 != 0 {
						opts = append(opts, manages("ml"))
					}
					if mask&4 != 0 {
						opts = append(opts, audit())
					}
					if mask&8 != 0 {
						opts = append(opts, verifiedAt(now))
					}
					var previous []string
					for _, l := range levels {
						in := NewInput(request(append(opts, level(l))...), defaultPolicy, now)
						failed := unmet(in)
						assert.Subset(t, failed, previous, fmt.Sprintf("%s %s %s mask %d at %s", rl, now, a, mask, l))
						previous = failed
					}
				}
			}
		}
	}
}
