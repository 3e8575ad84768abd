//
//  Copyright © Manetu Inc. All rights reserved.
//

package types

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Sensitivity is the ordered classification of a resource.  The zero value is not a valid level.
type Sensitivity int

// Sensitivity levels in ascending order.
const (
	SensitivityLow Sensitivity = iota + 1
	SensitivityMedium
	SensitivityHigh
	SensitivityCritical
)

// DefaultSensitivity applies when a request omits the resource classification.
const DefaultSensitivity = SensitivityMedium

var sensitivityNames = map[Sensitivity]string{
	SensitivityLow:      "low",
	SensitivityMedium:   "medium",
	SensitivityHigh:     "high",
	SensitivityCritical: "critical",
}

// ParseSensitivity converts a case-insensitive level name.
func ParseSensitivity(s string) (Sensitivity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for level, n := range sensitivityNames {
		if n == name {
			return level, nil
		}
	}
	return 0, errors.Errorf("unknown sensitivity level %q", s)
}

// Valid reports whether s is one of the four defined levels.
func (s Sensitivity) Valid() bool {
	_, ok := sensitivityNames[s]
	return ok
}

func (s Sensitivity) String() string {
	if n, ok := sensitivityNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalJSON renders the level name.
func (s Sensitivity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a level name.
func (s *Sensitivity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.Wrap(err, "sensitivity must be a string")
	}
	level, err := ParseSensitivity(name)
	if err != nil {
		return err
	}
	*s = level
	return nil
}

// MarshalYAML renders the level name.
func (s Sensitivity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML accepts a level name.
func (s *Sensitivity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	level, err := ParseSensitivity(name)
	if err != nil {
		return err
	}
	*s = level
	return nil
}
