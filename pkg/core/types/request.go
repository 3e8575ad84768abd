//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package types defines the request and decision model of the engine.
//
// A [Request] names a [Principal] attempting an [Action] on a [Resource] within a [Context].  The engine
// answers with a [Decision] that carries the overall outcome, a [ModuleResult] per rule module, compliance
// metadata and caching hints.
package types

import (
	"encoding/json"

	"github.com/manetu/toolgate/pkg/common"
)

// AnyRequest allows a request to be submitted as raw JSON (string or []byte), as an unmarshalled map, or as
// a Request value.  This lets callers choose between convenience and efficiency.
type AnyRequest interface{}

// Request is the complete input to one decision.
type Request struct {
	Principal Principal `json:"principal" yaml:"principal"`
	Resource  Resource  `json:"resource" yaml:"resource"`
	Action    Action    `json:"action" yaml:"action"`
	Context   Context   `json:"context" yaml:"context"`
}

// wireRequest also accepts the aliases used by gateway callers: "user" for the principal and "server" or
// "tool" for the resource.
type wireRequest struct {
	Principal *Principal `json:"principal"`
	User      *Principal `json:"user"`
	Resource  *Resource  `json:"resource"`
	Server    *Resource  `json:"server"`
	Tool      *Resource  `json:"tool"`
	Action    Action     `json:"action"`
	Context   Context    `json:"context"`
}

// UnmarshalJSON decodes a request, resolving aliases and inferring the resource kind.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Request{Action: w.Action, Context: w.Context}

	switch {
	case w.Principal != nil:
		out.Principal = *w.Principal
	case w.User != nil:
		out.Principal = *w.User
	}

	switch {
	case w.Resource != nil:
		out.Resource = *w.Resource
	case w.Server != nil:
		out.Resource = *w.Server
		if out.Resource.Kind == "" {
			out.Resource.Kind = KindServer
		}
	case w.Tool != nil:
		out.Resource = *w.Tool
		if out.Resource.Kind == "" {
			out.Resource.Kind = KindTool
		}
	}

	*r = out
	return nil
}

// Normalize fills the documented defaults for omitted fields and validates what cannot be defaulted.
func (r *Request) Normalize() error {
	if r.Action == "" {
		return common.NewError(common.InvalidRequest, "action is required")
	}
	if r.Resource.Sensitivity == 0 {
		r.Resource.Sensitivity = DefaultSensitivity
	}
	if !r.Resource.Sensitivity.Valid() {
		return common.Errorf(common.InvalidRequest, "invalid sensitivity level %d", r.Resource.Sensitivity)
	}
	if r.Context.NewSensitivity != nil && !r.Context.NewSensitivity.Valid() {
		return common.Errorf(common.InvalidRequest, "invalid new sensitivity level %d", *r.Context.NewSensitivity)
	}
	if r.Resource.Visibility == "" {
		r.Resource.Visibility = VisibilityPrivate
	}
	return nil
}

// UnmarshalRequest decodes any supported request representation and applies [Request.Normalize].  A
// *Request argument is copied first, so the caller's value keeps its omitted fields.
func UnmarshalRequest(input AnyRequest) (*Request, error) {
	var req *Request

	switch in := input.(type) {
	case *Request:
		if in == nil {
			return nil, common.NewError(common.InvalidRequest, "nil request")
		}
		cp := *in
		req = &cp
	case Request:
		req = &in
	case string:
		req = &Request{}
		if err := json.Unmarshal([]byte(in), req); err != nil {
			return nil, common.Errorf(common.InvalidRequest, "invalid request json: %v", err)
		}
	case []byte:
		req = &Request{}
		if err := json.Unmarshal(in, req); err != nil {
			return nil, common.Errorf(common.InvalidRequest, "invalid request json: %v", err)
		}
	case map[string]interface{}:
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, common.Errorf(common.InvalidRequest, "invalid request map: %v", err)
		}
		req = &Request{}
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, common.Errorf(common.InvalidRequest, "invalid request map: %v", err)
		}
	default:
		return nil, common.Errorf(common.InvalidRequest, "unsupported request type %T", input)
	}

	if err := req.Normalize(); err != nil {
		return nil, err
	}
	return req, nil
}
