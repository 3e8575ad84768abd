//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package decisionpoint provides interfaces and implementations for
// Policy Decision Point (PDP) servers.
//
// A PDP server exposes the policy engine as a network service that the
// gateway in front of AI tool servers calls before forwarding a request.
//
// # Available Implementations
//
// The following PDP server implementations are available:
//   - [generic]: HTTP/REST server with an OpenAPI schema and metrics
//   - [envoy]: External authorization server for Envoy proxy, fed by request headers
//
// # Usage
//
// Create and start a decision point server:
//
//	pe, _ := core.NewPolicyEngine(options.WithPolicySource(watcher))
//	server, _ := generic.CreateServer(pe, 8080)
//	defer server.Stop(ctx)
package decisionpoint

import "context"

// Server is the interface for PDP servers that can be gracefully stopped.
//
// Implementations must ensure that [Stop] completes any in-flight requests
// before returning.
type Server interface {
	// Stop gracefully shuts down the server, waiting for active requests
	// to complete or until the context is cancelled.
	Stop(context.Context) error
}
