//
//  Copyright © Manetu Inc. All rights reserved.
//

package types

import (
	"time"
)

// Role is the coarse role assigned to a principal by the identity layer.
type Role string

// Roles understood by the engine.
const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleViewer    Role = "viewer"
	RoleService   Role = "service"
)

// Known reports whether r is one of the defined roles.
func (r Role) Known() bool {
	switch r {
	case RoleAdmin, RoleDeveloper, RoleViewer, RoleService:
		return true
	}
	return false
}

// AuthMethod names the credential the identity layer validated.
type AuthMethod string

// Credential kinds.
const (
	AuthAPIKey  AuthMethod = "api_key"
	AuthJWT     AuthMethod = "jwt"
	AuthSession AuthMethod = "session"
)

// Principal is the caller as established by the identity layer.  It is read-only to the engine.
type Principal struct {
	ID             string     `json:"id" yaml:"id"`
	Role           Role       `json:"role" yaml:"role"`
	Teams          []string   `json:"teams,omitempty" yaml:"teams,omitempty"`
	ManagerOfTeams []string   `json:"manager_of_teams,omitempty" yaml:"manager_of_teams,omitempty"`
	Scopes         []string   `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Authenticated  bool       `json:"authenticated" yaml:"authenticated"`
	AuthMethod     AuthMethod `json:"auth_method,omitempty" yaml:"auth_method,omitempty"`
	MFAVerified    bool       `json:"mfa_verified" yaml:"mfa_verified"`
	MFAVerifiedAt  *time.Time `json:"mfa_verified_at,omitempty" yaml:"mfa_verified_at,omitempty"`
	MFAMethods     []string   `json:"mfa_methods,omitempty" yaml:"mfa_methods,omitempty"`
}

// HasValidAPIKey reports whether the principal authenticated with an API key.  The identity layer only
// forwards principals whose credentials it validated, so an authenticated api_key principal holds a valid key.
func (p *Principal) HasValidAPIKey() bool {
	return p.Authenticated && p.AuthMethod == AuthAPIKey
}

// MemberTeams returns the teams the principal belongs to; managers are members of the teams they manage.
func (p *Principal) MemberTeams() []string {
	out := make([]string, 0, len(p.Teams)+len(p.ManagerOfTeams))
	out = append(out, p.Teams...)
	return append(out, p.ManagerOfTeams...)
}

// HasScope reports whether the principal carries the scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
