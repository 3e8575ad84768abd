//
//  Copyright © Manetu Inc. All rights reserved.
//

package policyconfig

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-06-04 is a Wednesday
func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDefault(t *testing.T) {
	p := MustCompile(Default())

	assert.True(t, p.BusinessHours(at("2025-06-04T09:00:00Z")))
	assert.True(t, p.BusinessHours(at("2025-06-04T16:59:59Z")))
	assert.False(t, p.BusinessHours(at("2025-06-04T17:00:00Z")))
	assert.False(t, p.BusinessHours(at("2025-06-04T08:59:59Z")))
	assert.False(t, p.BusinessHours(at("2025-06-07T10:00:00Z")))

	assert.True(t, p.BusinessDay(at("2025-06-06T23:00:00Z")))
	assert.False(t, p.BusinessDay(at("2025-06-08T10:00:00Z")))
	assert.True(t, p.IsWeekend(at("2025-06-08T10:00:00Z")))
	assert.False(t, p.IsWeekend(at("2025-06-04T10:00:00Z")))

	assert.True(t, p.IP().AllowPrivate)
	assert.Equal(t, time.Hour, p.MFA().Timeout)
	assert.Equal(t, 5*time.Minute, p.MFA().StepUp)
	assert.Nil(t, p.Extension())
	assert.False(t, p.AllowBypass())
	assert.Len(t, p.Fingerprint(), 64)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
apiVersion: toolgate.manetu.io/v1
kind: PolicyConfig
business_hours:
  timezone: America/New_York
  days:
    mon: {start: 8, end: 18}
    Saturday: {start: 10, end: 12}
maintenance_windows:
  - name: patch
    start: "2025-06-07T00:00:00Z"
    end: "2025-06-07T04:00:00Z"
    allowed_actions: [server:delete]
ip:
  allow: ["203.0.113.0/24"]
  block: ["203.0.113.66"]
  allow_private: false
  role_ranges:
    admin:
      actions: [policy:update]
      ranges: ["10.10.*"]
  geo:
    enabled: true
    allowed_countries: [us, "GB"]
mfa:
  timeout_seconds: 1800
  required_tools: [shell]
time:
  allow_bypass: true
`))
	require.NoError(t, err)

	p, err := Compile(cfg)
	require.NoError(t, err)

	// 13:00Z is 09:00 in New York during DST
	assert.True(t, p.BusinessHours(at("2025-06-02T13:00:00Z")))
	assert.False(t, p.BusinessHours(at("2025-06-02T11:59:00Z")))
	assert.False(t, p.BusinessDay(at("2025-06-04T15:00:00Z")))
	assert.True(t, p.BusinessHours(at("2025-06-07T14:30:00Z")))
	assert.True(t, p.IsWeekend(at("2025-06-07T14:30:00Z")))

	assert.True(t, p.MaintenanceAllows(at("2025-06-07T00:00:00Z"), types.ServerDelete))
	assert.False(t, p.MaintenanceAllows(at("2025-06-07T04:00:00Z"), types.ServerDelete))
	assert.False(t, p.MaintenanceAllows(at("2025-06-07T01:00:00Z"), types.ToolDeploy))

	ip := p.IP()
	assert.False(t, ip.AllowPrivate)
	assert.True(t, ip.Allow.MatchString("203.0.113.7"))
	assert.True(t, ip.Block.MatchString("203.0.113.66"))
	assert.True(t, ip.CountryAllowed("US"))
	assert.True(t, ip.CountryAllowed("gb"))
	assert.False(t, ip.CountryAllowed("FR"))
	require.Contains(t, ip.RoleRanges, types.RoleAdmin)
	assert.True(t, ip.RoleRanges[types.RoleAdmin].Covers(types.PolicyUpdate))
	assert.False(t, ip.RoleRanges[types.RoleAdmin].Covers(types.ToolInvoke))
	assert.True(t, ip.RoleRanges[types.RoleAdmin].Ranges.MatchString("10.10.3.4"))

	assert.Equal(t, 30*time.Minute, p.MFA().Timeout)
	assert.True(t, p.MFA().RequiresTool("other", "shell"))
	assert.False(t, p.MFA().RequiresTool(""))
	assert.True(t, p.AllowBypass())
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("kind: PolicyDomain\n"))
	assert.True(t, common.HasCode(err, common.ConfigError))

	_, err = Parse([]byte("busines_hours: {}\n"))
	assert.True(t, common.HasCode(err, common.ConfigError))

	_, err = Parse([]byte("ip: [\n"))
	assert.True(t, common.HasCode(err, common.ConfigError))

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, cfg.BusinessHours.Timezone)
}

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		expect string
	}{
		{"weekday", "business_hours: {days: {funday: {start: 9, end: 17}}}", "unknown weekday"},
		{"hours range", "business_hours: {days: {mon: {start: 9, end: 25}}}", "invalid window"},
		{"empty window", "business_hours: {days: {mon: {start: 9, end: 9}}}", "invalid window"},
		{"duplicate day", "business_hours: {days: {mon: {start: 9, end: 17}, monday: {start: 9, end: 17}}}", "listed twice"},
		{"timezone", "business_hours: {timezone: Mars/Olympus}", "timezone"},
		{"cidr", "ip: {allow: [\"10.0.0.0/33\"]}", "ip.allow"},
		{"wildcard", "ip: {vpn_ranges: [\"10.*.1.*\"]}", "ip.vpn_ranges"},
		{"role", "ip: {role_ranges: {root: {ranges: [\"10.0.0.0/8\"]}}}", "unknown role"},
		{"role range", "ip: {role_ranges: {admin: {ranges: [\"nope\"]}}}", "ip.role_ranges.admin"},
		{"window order", "maintenance_windows: [{name: w, start: \"2025-06-07T04:00:00Z\", end: \"2025-06-07T00:00:00Z\"}]", "end must be after start"},
		{"window format", "maintenance_windows: [{name: w, start: yesterday, end: today}]", "RFC3339"},
		{"mfa timeout", "mfa: {timeout_seconds: -1}", "mfa.timeout_seconds"},
		{"rego", "extension: {inline: {x.rego: \"package x\\ndeny contains msg if {\"}}", "extension"},
		{"rego version", "extension: {rego_version: v9, inline: {x.rego: \"package x\"}}", "rego_version"},
		{"module path", "extension: {modules: [missing.rego]}", "extension.modules"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			p, err := Compile(cfg)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, common.HasCode(err, common.ConfigError))
			assert.Contains(t, err.Error(), tt.expect)
		})
	}
}

func TestNextScheduleChange(t *testing.T) {
	p := MustCompile(Default())
	cfg, err := Parse([]byte(`
business_hours: {timezone: Asia/Kolkata}
maintenance_windows:
  - {name: patching, start: "2025-06-04T05:10:00Z", end: "2025-06-04T05:20:00Z", allowed_actions: [server:delete]}
`))
	require.NoError(t, err)
	kolkata := MustCompile(cfg)

	tests := []struct {
		name   string
		policy *Policy
		from   string
		until  string
		expect string
	}{
		{"closing", p, "2025-06-04T16:58:00Z", "2025-06-04T17:03:00Z", "2025-06-04T17:00:00Z"},
		{"opening", p, "2025-06-04T08:59:00Z", "2025-06-04T09:04:00Z", "2025-06-04T09:00:00Z"},
		{"steady hour edge", p, "2025-06-04T11:58:00Z", "2025-06-04T12:03:00Z", ""},
		{"weekday rolls into saturday", p, "2025-06-06T23:58:00Z", "2025-06-07T00:03:00Z", "2025-06-07T00:00:00Z"},
		{"edge at until", p, "2025-06-04T16:55:00Z", "2025-06-04T17:00:00Z", "2025-06-04T17:00:00Z"},
		// Kolkata is UTC+5:30, so 17:00 local is 11:30Z
		{"half-hour offset", kolkata, "2025-06-04T11:28:00Z", "2025-06-04T11:33:00Z", "2025-06-04T11:30:00Z"},
		{"maintenance opens", kolkata, "2025-06-04T05:08:00Z", "2025-06-04T05:13:00Z", "2025-06-04T05:10:00Z"},
		{"maintenance closes", kolkata, "2025-06-04T05:18:00Z", "2025-06-04T05:23:00Z", "2025-06-04T05:20:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := tt.policy.NextScheduleChange(at(tt.from), at(tt.until))
			if tt.expect == "" {
				assert.False(t, ok, "unexpected change at %s", next)
				return
			}
			require.True(t, ok)
			assert.True(t, at(tt.expect).Equal(next), "got %s", next)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := MustCompile(Default())
	b := MustCompile(Default())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	cfg := Default()
	cfg.MFA.TimeoutSeconds = 60
	c := MustCompile(cfg)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

const extensionSrc = `package toolgate.extension

deny contains "shell is disabled" if input.resource.name == "shell"
`

func TestLoad_Extension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ext.rego"), []byte(extensionSrc), 0o600))
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extension:\n  modules: [ext.rego]\n"), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, p.Extension())
	assert.Equal(t, DefaultExtensionQuery, p.Extension().Query)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, common.HasCode(err, common.ConfigError))
}

func TestLoad_ExtensionAuxData(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ext.rego"), []byte(extensionSrc), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "aux"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aux", "quarantine"), []byte("scraper"), 0o600))
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extension:\n  modules: [ext.rego]\n  auxdata: aux\n"), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"quarantine": "scraper"}, p.Extension().AuxData)

	// auxdata content is part of the policy identity
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aux", "quarantine"), []byte("scraper\nspam-bot"), 0o600))
	q, err := LoadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, p.Fingerprint(), q.Fingerprint())

	require.NoError(t, os.WriteFile(path, []byte("extension:\n  modules: [ext.rego]\n  auxdata: missing\n"), 0o600))
	_, err = LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension.auxdata")
}

func TestStatic(t *testing.T) {
	p := MustCompile(Default())
	s := Static(p)
	assert.Same(t, p, s.Current())
	assert.NoError(t, s.Close())
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mfa: {timeout_seconds: 600}\n"), 0o600))

	var failures atomic.Int32
	w, err := NewWatcher(path,
		WithDebounce(50*time.Millisecond),
		WithReloadHook(func(_ *Policy, err error) {
			if err != nil {
				failures.Add(1)
			}
		}))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Equal(t, 10*time.Minute, w.Current().MFA().Timeout)

	require.NoError(t, os.WriteFile(path, []byte("mfa: {timeout_seconds: 900}\n"), 0o600))
	require.Eventually(t, func() bool {
		return w.Current().MFA().Timeout == 15*time.Minute
	}, 5*time.Second, 20*time.Millisecond)
	good := w.Current()

	require.NoError(t, os.WriteFile(path, []byte("mfa: {timeout_seconds: -5}\n"), 0o600))
	require.Eventually(t, func() bool { return failures.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Same(t, good, w.Current())

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("time: {allow_bypass: false}\n"), 0o600))

	w, err := NewWatcher(path, WithDebounce(time.Hour))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, os.WriteFile(path, []byte("time: {allow_bypass: true}\n"), 0o600))
	require.NoError(t, w.Reload())
	assert.True(t, w.Current().AllowBypass())
}

func TestWatcher_NoReloadAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("time: {allow_bypass: false}\n"), 0o600))

	var reloads atomic.Int32
	w, err := NewWatcher(path,
		WithDebounce(100*time.Millisecond),
		WithReloadHook(func(*Policy, error) { reloads.Add(1) }))
	require.NoError(t, err)
	before := w.Current()

	// a change is pending in the debounce window when the watcher closes
	require.NoError(t, os.WriteFile(path, []byte("time: {allow_bypass: true}\n"), 0o600))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Close())

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, reloads.Load())
	assert.Same(t, before, w.Current())
	assert.ErrorIs(t, w.Reload(), ErrWatcherClosed)
}

func TestNewWatcher_InvalidInitial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mfa: {timeout_seconds: -5}\n"), 0o600))

	_, err := NewWatcher(path)
	assert.Error(t, err)
}
