//
//  Copyright © Manetu Inc. All rights reserved.
//

package types

// ResourceKind distinguishes registrable servers from invocable tools.  Both share the Resource shape.
type ResourceKind string

// Resource kinds.
const (
	KindServer ResourceKind = "server"
	KindTool   ResourceKind = "tool"
)

// Visibility controls cross-team discovery.
type Visibility string

// Visibility values.  Private is the default.
const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Resource is the server or tool being acted on.
type Resource struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind         ResourceKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Sensitivity  Sensitivity  `json:"sensitivity_level" yaml:"sensitivity_level"`
	Teams        []string     `json:"teams,omitempty" yaml:"teams,omitempty"`
	AllowedTeams []string     `json:"allowed_teams,omitempty" yaml:"allowed_teams,omitempty"`
	Owner        string       `json:"owner,omitempty" yaml:"owner,omitempty"`
	Visibility   Visibility   `json:"visibility,omitempty" yaml:"visibility,omitempty"`
}

// IsPublic reports public visibility.
func (r *Resource) IsPublic() bool {
	return r.Visibility == VisibilityPublic
}

// HasOwner reports whether the resource has an owner and it is id.
func (r *Resource) HasOwner(id string) bool {
	return r.Owner != "" && r.Owner == id
}
