//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package policyconfig loads, validates and compiles the operator policy: business hours, maintenance windows,
// network ranges, MFA settings and optional rego extensions.
package policyconfig

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/manetu/toolgate/pkg/common"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kind is the only document kind accepted by Parse.
const Kind = "PolicyConfig"

// Defaults for optional settings.
const (
	DefaultTimezone       = "UTC"
	DefaultMFATimeout     = 3600
	DefaultStepUpWindow   = 300
	DefaultExtensionQuery = "data.toolgate.extension.deny"
	DefaultRegoVersion    = "v1"
)

// HourWindow is a [Start, End) range of hours within one day.
type HourWindow struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// BusinessHoursConfig maps weekday names to their working window.  A weekday with no entry is closed.
type BusinessHoursConfig struct {
	Timezone string                `yaml:"timezone" json:"timezone"`
	Days     map[string]HourWindow `yaml:"days" json:"days"`
}

// MaintenanceWindowConfig is a fixed interval during which the listed actions ignore hard time restrictions.
// An allowed action of "*" covers every action.
type MaintenanceWindowConfig struct {
	Name           string   `yaml:"name" json:"name"`
	Start          string   `yaml:"start" json:"start"`
	End            string   `yaml:"end" json:"end"`
	AllowedActions []string `yaml:"allowed_actions" json:"allowed_actions"`
}

// RoleRangeConfig restricts a role to the listed networks when performing the listed actions.  An empty action
// list restricts every action.
type RoleRangeConfig struct {
	Actions []string `yaml:"actions" json:"actions"`
	Ranges  []string `yaml:"ranges" json:"ranges"`
}

// GeoConfig is the country allow list applied to Critical resources.
type GeoConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	AllowedCountries []string `yaml:"allowed_countries" json:"allowed_countries"`
}

// IPConfig holds the network rules.
type IPConfig struct {
	Allow           []string                   `yaml:"allow" json:"allow"`
	Block           []string                   `yaml:"block" json:"block"`
	AllowPrivate    *bool                      `yaml:"allow_private" json:"allow_private"`
	VPNRanges       []string                   `yaml:"vpn_ranges" json:"vpn_ranges"`
	CorporateRanges []string                   `yaml:"corporate_ranges" json:"corporate_ranges"`
	RoleRanges      map[string]RoleRangeConfig `yaml:"role_ranges" json:"role_ranges"`
	Geo             GeoConfig                  `yaml:"geo" json:"geo"`
}

// MFAConfig holds session lifetimes in seconds and the tools that always need a second factor.
type MFAConfig struct {
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	StepUpSeconds  int      `yaml:"step_up_seconds" json:"step_up_seconds"`
	RequiredTools  []string `yaml:"required_tools" json:"required_tools"`
}

// TimeConfig controls whether requests may opt out of time checks.
type TimeConfig struct {
	AllowBypass bool `yaml:"allow_bypass" json:"allow_bypass"`
}

// ExtensionConfig names rego modules whose deny set is evaluated after the built-in modules.  Module and
// auxdata paths are relative to the policy file.  Inline maps a file name to rego source.  AuxData names a
// directory whose files reach the rules as input.auxdata.<file>.
type ExtensionConfig struct {
	RegoVersion string            `yaml:"rego_version" json:"rego_version"`
	Query       string            `yaml:"query" json:"query"`
	Modules     []string          `yaml:"modules" json:"modules"`
	Inline      map[string]string `yaml:"inline" json:"inline,omitempty"`
	AuxData     string            `yaml:"auxdata" json:"auxdata,omitempty"`
}

// Config is the raw operator policy document.
type Config struct {
	APIVersion         string                    `yaml:"apiVersion,omitempty" json:"apiVersion,omitempty"`
	Kind               string                    `yaml:"kind,omitempty" json:"kind,omitempty"`
	BusinessHours      BusinessHoursConfig       `yaml:"business_hours" json:"business_hours"`
	MaintenanceWindows []MaintenanceWindowConfig `yaml:"maintenance_windows" json:"maintenance_windows"`
	IP                 IPConfig                  `yaml:"ip" json:"ip"`
	MFA                MFAConfig                 `yaml:"mfa" json:"mfa"`
	Time               TimeConfig                `yaml:"time" json:"time"`
	Extension          ExtensionConfig           `yaml:"extension" json:"extension"`

	baseDir string
}

func defaultDays() map[string]HourWindow {
	days := map[string]HourWindow{}
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		days[d] = HourWindow{Start: 9, End: 17}
	}
	return days
}

// Default returns the built-in policy: Monday to Friday 09:00-17:00 UTC, private networks allowed, one hour
// MFA sessions.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.BusinessHours.Timezone == "" {
		c.BusinessHours.Timezone = DefaultTimezone
	}
	if c.BusinessHours.Days == nil {
		c.BusinessHours.Days = defaultDays()
	}
	if c.IP.AllowPrivate == nil {
		t := true
		c.IP.AllowPrivate = &t
	}
	// zero means unset; negative values are left for validation to reject
	if c.MFA.TimeoutSeconds == 0 {
		c.MFA.TimeoutSeconds = DefaultMFATimeout
	}
	if c.MFA.StepUpSeconds == 0 {
		c.MFA.StepUpSeconds = DefaultStepUpWindow
	}
	if c.Extension.Query == "" {
		c.Extension.Query = DefaultExtensionQuery
	}
	if c.Extension.RegoVersion == "" {
		c.Extension.RegoVersion = DefaultRegoVersion
	}
}

// Parse decodes a YAML policy document and fills in defaults.  Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, common.Errorf(common.ConfigError, "invalid policy yaml: %v", err)
	}
	if c.Kind != "" && c.Kind != Kind {
		return nil, common.Errorf(common.ConfigError, "expected kind %s, got %s", Kind, c.Kind)
	}
	c.applyDefaults()
	return c, nil
}

// Load reads and parses the policy file at path.  Extension module paths resolve against its directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied policy path
	if err != nil {
		return nil, common.Errorf(common.ConfigError, "reading policy %s: %v", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.baseDir = filepath.Dir(path)
	return c, nil
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}
	return filepath.Join(c.baseDir, path)
}
