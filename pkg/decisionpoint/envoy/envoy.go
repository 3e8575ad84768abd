//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package envoy exposes the engine as an Envoy external authorization (ext_authz v3) gRPC service.  The request
// is assembled from headers set by the gateway in front of the tool servers.
package envoy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/core"
	"github.com/manetu/toolgate/pkg/core/options"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/manetu/toolgate/pkg/decisionpoint"
	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"
)

var logger = logging.GetLogger("toolgate.decisionpoint")

const agent string = "envoy"

// Request and response headers.
const (
	HeaderPrincipal   = "x-toolgate-principal"
	HeaderResource    = "x-toolgate-resource"
	HeaderAction      = "x-toolgate-action"
	HeaderAudit       = "x-toolgate-audit"
	HeaderMFAToken    = "x-toolgate-mfa-token"
	HeaderStepUp      = "x-toolgate-step-up"
	HeaderCountry     = "x-toolgate-country"
	HeaderForwarded   = "x-forwarded-for"
	HeaderCacheBypass = "x-toolgate-cache-bypass"

	HeaderViolations = "x-toolgate-violations"
	HeaderReason     = "x-toolgate-reason"

	resultHeader  = "x-ext-authz-check-result"
	resultAllowed = "allowed"
	resultDenied  = "denied"
)

// maximum size of a header accepted by Envoy is 60KiB
const maxHeaderLen = 60000

var methodActions = map[string]types.Action{
	"GET":    types.ToolRead,
	"POST":   types.ToolInvoke,
	"PUT":    types.ToolUpdate,
	"PATCH":  types.ToolUpdate,
	"DELETE": types.ToolDelete,
}

func truncate(s string) string {
	if len(s) > maxHeaderLen {
		return s[:maxHeaderLen]
	}
	return s
}

// ExtAuthzServer implements the ext_authz v3 gRPC check request API.
type ExtAuthzServer struct {
	grpcServer *grpc.Server
	listener   net.Listener
	pe         core.PolicyEngine
}

func logRequest(result string, request *authv3.CheckRequest) {
	if !logger.IsTraceEnabled() {
		return
	}
	attrs, err := protojson.Marshal(request.GetAttributes())
	if err != nil {
		attrs = []byte(err.Error())
	}
	httpAttrs := request.GetAttributes().GetRequest().GetHttp()
	logger.Tracef(agent, "logRequest", "[gRPCv3][%s]: %s%s, attributes: %s", result, httpAttrs.GetHost(), httpAttrs.GetPath(), attrs)
}

func header(key, value string) *corev3.HeaderValueOption {
	return &corev3.HeaderValueOption{
		Header: &corev3.HeaderValue{Key: key, Value: truncate(value)},
	}
}

func parseBool(headers map[string]string, key string) (bool, error) {
	v, ok := headers[key]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Errorf("invalid %s header %q", key, v)
	}
	return b, nil
}

// buildRequest assembles a request from the check attributes.  The second result is the cache bypass flag.
func buildRequest(attrs *authv3.AttributeContext) (*types.Request, bool, error) {
	httpAttrs := attrs.GetRequest().GetHttp()
	headers := httpAttrs.GetHeaders()

	req := &types.Request{}
	if v := headers[HeaderPrincipal]; v != "" {
		if err := json.Unmarshal([]byte(v), &req.Principal); err != nil {
			return nil, false, errors.Wrapf(err, "invalid %s header", HeaderPrincipal)
		}
	}
	if v := headers[HeaderResource]; v != "" {
		if err := json.Unmarshal([]byte(v), &req.Resource); err != nil {
			return nil, false, errors.Wrapf(err, "invalid %s header", HeaderResource)
		}
	}

	req.Action = types.Action(headers[HeaderAction])
	if req.Action == "" {
		req.Action = methodActions[strings.ToUpper(httpAttrs.GetMethod())]
	}

	var err error
	if req.Context.AuditEnabled, err = parseBool(headers, HeaderAudit); err != nil {
		return nil, false, err
	}
	if req.Context.StepUpVerified, err = parseBool(headers, HeaderStepUp); err != nil {
		return nil, false, err
	}
	bypass, err := parseBool(headers, HeaderCacheBypass)
	if err != nil {
		return nil, false, err
	}

	req.Context.MFAToken = headers[HeaderMFAToken]
	req.Context.Country = headers[HeaderCountry]
	req.Context.ForwardedFor = headers[HeaderForwarded]
	req.Context.ClientIP = attrs.GetSource().GetAddress().GetSocketAddress().GetAddress()

	r, err := types.UnmarshalRequest(req)
	if err != nil {
		return nil, false, err
	}
	return r, bypass, nil
}

func (s *ExtAuthzServer) allow(request *authv3.CheckRequest) *authv3.CheckResponse {
	logRequest(resultAllowed, request)
	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: []*corev3.HeaderValueOption{
					header(resultHeader, resultAllowed),
				},
			},
		},
		Status: &status.Status{Code: int32(codes.OK)},
	}
}

func (s *ExtAuthzServer) deny(request *authv3.CheckRequest, reason string, violations []string) *authv3.CheckResponse {
	logRequest(resultDenied, request)
	headers := []*corev3.HeaderValueOption{
		header(resultHeader, resultDenied),
		header(HeaderReason, reason),
	}
	if len(violations) > 0 {
		headers = append(headers, header(HeaderViolations, strings.Join(violations, ",")))
	}
	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode_Forbidden},
				Body:    "permission denied",
				Headers: headers,
			},
		},
		Status: &status.Status{Code: int32(codes.PermissionDenied)},
	}
}

// Check implements gRPC v3 check request.  Malformed headers deny rather than fail the call.
func (s *ExtAuthzServer) Check(ctx context.Context, request *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	req, bypass, err := buildRequest(request.GetAttributes())
	if err != nil {
		logger.Debugf(agent, "Check", "rejecting malformed request: %v", err)
		return s.deny(request, fmt.Sprintf("invalid request: %v", err), nil), nil
	}

	decision, err := s.pe.Authorize(ctx, req, options.SetBypassCache(bypass))
	if err != nil {
		return s.deny(request, fmt.Sprintf("invalid request: %v", err), nil), nil
	}
	if decision.Allow {
		return s.allow(request), nil
	}
	return s.deny(request, decision.Reason, decision.ViolationTypes()), nil
}

// Port returns the port the server listens on.
func (s *ExtAuthzServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// CreateServer creates and starts a new Envoy External Authorization server.  Port 0 picks a free port; see
// [ExtAuthzServer.Port].
func CreateServer(pe core.PolicyEngine, port int) (*ExtAuthzServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrap(err, "failed to start gRPC server")
	}

	s := &ExtAuthzServer{
		grpcServer: grpc.NewServer(),
		listener:   listener,
		pe:         pe,
	}
	authv3.RegisterAuthorizationServer(s.grpcServer, s)

	go func() {
		logger.SysInfof("Starting Envoy External Authorization gRPC server at %s", listener.Addr())
		if err := s.grpcServer.Serve(listener); err != nil {
			logger.Errorf(agent, "grpc.serve", "Failed to serve gRPC server: %v", err)
		}
		logger.SysInfof("Stopped gRPC server")
	}()

	return s, nil
}

var _ decisionpoint.Server = (*ExtAuthzServer)(nil)

// Stop gracefully stops the ExtAuthzServer, waiting for in-flight checks until ctx expires.
func (s *ExtAuthzServer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	logger.SysInfof("GRPC server stopped")
	return nil
}
