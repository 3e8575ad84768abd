//
//  Copyright © Manetu Inc. All rights reserved.
//

package policyconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/auxdata"
	"github.com/manetu/toolgate/pkg/core/netmatch"
	"github.com/manetu/toolgate/pkg/core/opa"
	"github.com/manetu/toolgate/pkg/core/types"
)

var logger = logging.GetLogger("toolgate.policyconfig")

const agent = "policyconfig"

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

type maintenanceWindow struct {
	name    string
	start   time.Time
	end     time.Time
	any     bool
	actions map[types.Action]struct{}
}

// RoleRange restricts a role to Ranges for Actions (every action when Actions is empty).
type RoleRange struct {
	Actions []types.Action
	Ranges  *netmatch.Matcher
}

// Covers reports whether the restriction applies to action.
func (r *RoleRange) Covers(action types.Action) bool {
	return len(r.Actions) == 0 || action.In(r.Actions...)
}

// IPRules are the compiled network rules.
type IPRules struct {
	Allow            *netmatch.Matcher
	Block            *netmatch.Matcher
	AllowPrivate     bool
	VPN              *netmatch.Matcher
	Corporate        *netmatch.Matcher
	RoleRanges       map[types.Role]*RoleRange
	GeoEnabled       bool
	AllowedCountries map[string]struct{}
}

// CountryAllowed matches an ISO code case-insensitively.
func (r *IPRules) CountryAllowed(country string) bool {
	_, ok := r.AllowedCountries[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}

// MFARules are the compiled MFA settings.
type MFARules struct {
	Timeout       time.Duration
	StepUp        time.Duration
	RequiredTools map[string]struct{}
}

// RequiresTool reports whether any of names is on the required-tools list.
func (r *MFARules) RequiresTool(names ...string) bool {
	for _, n := range names {
		if _, ok := r.RequiredTools[n]; ok && n != "" {
			return true
		}
	}
	return false
}

// Extension is a compiled set of rego rules and the query that yields their deny messages.
type Extension struct {
	Query   string
	Ast     *opa.Ast
	AuxData map[string]interface{}
}

// Policy is an immutable, validated policy snapshot.  It is safe for concurrent use.
type Policy struct {
	config      Config
	location    *time.Location
	days        map[time.Weekday]HourWindow
	maintenance []maintenanceWindow
	ip          IPRules
	mfa         MFARules
	extension   *Extension
	fingerprint string
}

type fingerprinted struct {
	Config  Config                 `json:"config"`
	Sources map[string]string      `json:"sources"`
	AuxData map[string]interface{} `json:"auxdata,omitempty"`
}

// Compile validates cfg and builds a Policy.  Any malformed entry is returned as a CONFIG_ERROR; nothing is
// deferred to evaluation time.
func Compile(cfg *Config, options ...opa.CompilerOptionFunc) (*Policy, error) {
	c := *cfg
	c.applyDefaults()

	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	p := &Policy{config: c, days: map[time.Weekday]HourWindow{}}

	loc, err := time.LoadLocation(c.BusinessHours.Timezone)
	if err != nil {
		fail("business_hours.timezone: %v", err)
	}
	p.location = loc

	for name, w := range c.BusinessHours.Days {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok {
			fail("business_hours.days: unknown weekday %q", name)
			continue
		}
		if w.Start < 0 || w.End > 24 || w.Start >= w.End {
			fail("business_hours.days.%s: invalid window %d-%d", name, w.Start, w.End)
			continue
		}
		if _, dup := p.days[day]; dup {
			fail("business_hours.days: %s listed twice", name)
			continue
		}
		p.days[day] = w
	}

	for i, mw := range c.MaintenanceWindows {
		start, serr := time.Parse(time.RFC3339, mw.Start)
		end, eerr := time.Parse(time.RFC3339, mw.End)
		if serr != nil || eerr != nil {
			fail("maintenance_windows[%d] %s: start and end must be RFC3339", i, mw.Name)
			continue
		}
		if !end.After(start) {
			fail("maintenance_windows[%d] %s: end must be after start", i, mw.Name)
			continue
		}
		w := maintenanceWindow{name: mw.Name, start: start, end: end, actions: map[types.Action]struct{}{}}
		for _, a := range mw.AllowedActions {
			if a == "*" {
				w.any = true
			}
			w.actions[types.Action(a)] = struct{}{}
		}
		p.maintenance = append(p.maintenance, w)
	}

	matcher := func(field string, patterns []string) *netmatch.Matcher {
		m, err := netmatch.Compile(patterns)
		if err != nil {
			fail("%s: %v", field, err)
			return netmatch.MustCompile()
		}
		return m
	}

	p.ip = IPRules{
		Allow:            matcher("ip.allow", c.IP.Allow),
		Block:            matcher("ip.block", c.IP.Block),
		AllowPrivate:     *c.IP.AllowPrivate,
		VPN:              matcher("ip.vpn_ranges", c.IP.VPNRanges),
		Corporate:        matcher("ip.corporate_ranges", c.IP.CorporateRanges),
		RoleRanges:       map[types.Role]*RoleRange{},
		GeoEnabled:       c.IP.Geo.Enabled,
		AllowedCountries: map[string]struct{}{},
	}
	for role, rr := range c.IP.RoleRanges {
		if !types.Role(role).Known() {
			fail("ip.role_ranges: unknown role %q", role)
			continue
		}
		r := &RoleRange{Ranges: matcher("ip.role_ranges."+role, rr.Ranges)}
		for _, a := range rr.Actions {
			r.Actions = append(r.Actions, types.Action(a))
		}
		p.ip.RoleRanges[types.Role(role)] = r
	}
	for _, cc := range c.IP.Geo.AllowedCountries {
		p.ip.AllowedCountries[strings.ToUpper(strings.TrimSpace(cc))] = struct{}{}
	}

	if c.MFA.TimeoutSeconds <= 0 {
		fail("mfa.timeout_seconds must be positive")
	}
	if c.MFA.StepUpSeconds <= 0 {
		fail("mfa.step_up_seconds must be positive")
	}
	p.mfa = MFARules{
		Timeout:       time.Duration(c.MFA.TimeoutSeconds) * time.Second,
		StepUp:        time.Duration(c.MFA.StepUpSeconds) * time.Second,
		RequiredTools: map[string]struct{}{},
	}
	for _, t := range c.MFA.RequiredTools {
		p.mfa.RequiredTools[t] = struct{}{}
	}

	sources, serr := c.ExtensionSources()
	if serr != nil {
		fail("%s", serr.Reason)
	}

	var aux map[string]interface{}
	if c.Extension.AuxData != "" {
		aux, err = auxdata.LoadAuxData(c.resolve(c.Extension.AuxData))
		if err != nil {
			fail("extension.auxdata: %v", err)
		}
	}

	if len(errs) == 0 && len(sources) > 0 {
		version, err := opa.ParseRegoVersion(c.Extension.RegoVersion)
		if err != nil {
			fail("extension.rego_version: %v", err)
		} else {
			compiler := opa.NewCompiler(append([]opa.CompilerOptionFunc{opa.WithRegoVersion(version)}, options...)...)
			ast, err := compiler.Compile("extension", sources)
			if err != nil {
				fail("extension: %v", err)
			} else {
				p.extension = &Extension{Query: c.Extension.Query, Ast: ast, AuxData: aux}
			}
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, common.NewError(common.ConfigError, strings.Join(errs, "; "))
	}

	data, err := json.Marshal(fingerprinted{Config: c, Sources: sources, AuxData: aux})
	if err != nil {
		return nil, common.Errorf(common.ConfigError, "fingerprint: %v", err)
	}
	sum := sha256.Sum256(data)
	p.fingerprint = hex.EncodeToString(sum[:])

	logger.Debugf(agent, "Compile", "compiled policy %s", p.fingerprint)
	return p, nil
}

// MustCompile is Compile for known-good configs; it panics on error.
func MustCompile(cfg *Config, options ...opa.CompilerOptionFunc) *Policy {
	p, err := Compile(cfg, options...)
	if err != nil {
		panic(err)
	}
	return p
}

// Config returns the document the policy was compiled from, with defaults applied.
func (p *Policy) Config() Config {
	return p.config
}

// Fingerprint is the sha256 of the canonical policy, so equal policies share cache entries.
func (p *Policy) Fingerprint() string {
	return p.fingerprint
}

// Location is the business-hours timezone.
func (p *Policy) Location() *time.Location {
	return p.location
}

// BusinessDay reports whether t falls on a weekday that has a business-hours window.
func (p *Policy) BusinessDay(t time.Time) bool {
	_, ok := p.days[t.In(p.location).Weekday()]
	return ok
}

// BusinessHours reports whether t is inside that weekday's [start, end) window.
func (p *Policy) BusinessHours(t time.Time) bool {
	local := t.In(p.location)
	w, ok := p.days[local.Weekday()]
	if !ok {
		return false
	}
	return local.Hour() >= w.Start && local.Hour() < w.End
}

// IsWeekend reports Saturday or Sunday in the policy timezone.
func (p *Policy) IsWeekend(t time.Time) bool {
	d := t.In(p.location).Weekday()
	return d == time.Saturday || d == time.Sunday
}

// MaintenanceAllows reports whether a maintenance window covering t lists action.
func (p *Policy) MaintenanceAllows(t time.Time, action types.Action) bool {
	for _, w := range p.maintenance {
		if t.Before(w.start) || !t.Before(w.end) {
			continue
		}
		if _, ok := w.actions[action]; ok || w.any {
			logger.Debugf(agent, "MaintenanceAllows", "window %s covers %s", w.name, action)
			return true
		}
	}
	return false
}

// NextScheduleChange returns the first instant in (from, until] at which the business-hours state changes or a
// maintenance window opens or closes.  Business hours only change on local hour boundaries, so those are the
// only instants probed.
func (p *Policy) NextScheduleChange(from, until time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	consider := func(t time.Time) {
		if t.After(from) && !t.After(until) && (!found || t.Before(next)) {
			next = t
			found = true
		}
	}

	for _, w := range p.maintenance {
		consider(w.start)
		consider(w.end)
	}

	hours, day := p.BusinessHours(from), p.BusinessDay(from)
	local := from.In(p.location)
	for h := 1; ; h++ {
		edge := time.Date(local.Year(), local.Month(), local.Day(), local.Hour()+h, 0, 0, 0, p.location)
		if edge.After(until) || (found && !edge.Before(next)) {
			break
		}
		if !edge.After(from) {
			continue
		}
		if p.BusinessHours(edge) != hours || p.BusinessDay(edge) != day {
			consider(edge)
			break
		}
	}
	return next, found
}

// AllowBypass reports whether requests may set ignore_time_constraints.
func (p *Policy) AllowBypass() bool {
	return p.config.Time.AllowBypass
}

// IP returns the compiled network rules.
func (p *Policy) IP() *IPRules {
	return &p.ip
}

// MFA returns the compiled MFA settings.
func (p *Policy) MFA() *MFARules {
	return &p.mfa
}

// Extension returns the compiled rego extension, or nil when none is configured.
func (p *Policy) Extension() *Extension {
	return p.extension
}

// ExtensionSources returns the inline and file-based extension modules keyed by name.  Module paths resolve
// against the policy file's directory.
func (c *Config) ExtensionSources() (opa.Modules, *common.PolicyError) {
	sources := opa.Modules{}
	for name, src := range c.Extension.Inline {
		sources[name] = src
	}

	var missing []string
	for _, path := range c.Extension.Modules {
		data, err := os.ReadFile(c.resolve(path)) // #nosec G304 -- operator-supplied module path
		if err != nil {
			missing = append(missing, fmt.Sprintf("extension.modules: %v", err))
			continue
		}
		sources[path] = string(data)
	}
	if len(missing) > 0 {
		return sources, common.NewError(common.ConfigError, strings.Join(missing, "; "))
	}
	return sources, nil
}
