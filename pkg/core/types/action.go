//
//  Copyright © Manetu Inc. All rights reserved.
//

package types

import "strings"

// Action is a verb from the closed action vocabulary, in "<noun>:<verb>" form.
type Action string

// Known actions.
const (
	ServerRegister Action = "server:register"
	ServerRead     Action = "server:read"
	ServerUpdate   Action = "server:update"
	ServerDelete   Action = "server:delete"

	ToolRegister Action = "tool:register"
	ToolRead     Action = "tool:read"
	ToolInvoke   Action = "tool:invoke"
	ToolUpdate   Action = "tool:update"
	ToolDelete   Action = "tool:delete"
	ToolDeploy   Action = "tool:deploy"

	PolicyCreate Action = "policy:create"
	PolicyRead   Action = "policy:read"
	PolicyUpdate Action = "policy:update"
	PolicyDelete Action = "policy:delete"

	ResourceShare Action = "resource:share"
)

func (a Action) verb() string {
	_, verb, _ := strings.Cut(string(a), ":")
	return verb
}

// IsRead matches every "*:read" action.
func (a Action) IsRead() bool { return a.verb() == "read" }

// IsInvoke matches tool:invoke.
func (a Action) IsInvoke() bool { return a == ToolInvoke }

// IsRegister matches server:register and tool:register.
func (a Action) IsRegister() bool { return a.verb() == "register" && !a.IsPolicyManagement() }

// IsUpdate matches server and tool updates.
func (a Action) IsUpdate() bool { return a == ServerUpdate || a == ToolUpdate }

// IsDelete matches server and tool deletes.
func (a Action) IsDelete() bool { return a == ServerDelete || a == ToolDelete }

// IsPolicyManagement matches policy create, update and delete.  policy:read is not management.
func (a Action) IsPolicyManagement() bool {
	return a == PolicyCreate || a == PolicyUpdate || a == PolicyDelete
}

// In reports whether a is one of set.
func (a Action) In(set ...Action) bool {
	for _, x := range set {
		if a == x {
			return true
		}
	}
	return false
}
