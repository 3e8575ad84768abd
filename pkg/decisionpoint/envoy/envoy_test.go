//
//  Copyright © Manetu Inc. All rights reserved.
//

package envoy

import (
	"context"
	"fmt"
	"testing"
	"time"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/manetu/toolgate/internal/core/test"
	"github.com/manetu/toolgate/pkg/core/accesslog"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

const developer = `{"id": "alice", "role": "developer", "authenticated": true}`

func setup(t *testing.T) (authv3.AuthorizationClient, chan *accesslog.AccessRecord) {
	t.Helper()
	pe, ch, err := test.NewTestPolicyEngine(64)
	require.NoError(t, err)

	server, err := CreateServer(pe, 0)
	require.NoError(t, err)

	conn, err := grpc.NewClient(
		fmt.Sprintf("127.0.0.1:%d", server.Port()),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, server.Stop(ctx))
		_ = pe.Close()
	})
	return authv3.NewAuthorizationClient(conn), ch
}

func checkRequest(method, source string, headers map[string]string) *authv3.CheckRequest {
	return &authv3.CheckRequest{
		Attributes: &authv3.AttributeContext{
			Source: &authv3.AttributeContext_Peer{
				Address: &corev3.Address{
					Address: &corev3.Address_SocketAddress{
						SocketAddress: &corev3.SocketAddress{Address: source},
					},
				},
			},
			Request: &authv3.AttributeContext_Request{
				Http: &authv3.AttributeContext_HttpRequest{
					Method:  method,
					Host:    "tools.internal",
					Path:    "/search",
					Headers: headers,
				},
			},
		},
	}
}

func responseHeaders(opts []*corev3.HeaderValueOption) map[string]string {
	out := map[string]string{}
	for _, o := range opts {
		out[o.GetHeader().GetKey()] = o.GetHeader().GetValue()
	}
	return out
}

func check(t *testing.T, client authv3.AuthorizationClient, req *authv3.CheckRequest) *authv3.CheckResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, req)
	require.NoError(t, err)
	return resp
}

func TestCheck_Allow(t *testing.T) {
	client, ch := setup(t)

	resp := check(t, client, checkRequest("GET", "10.0.0.5", map[string]string{
		HeaderPrincipal: developer,
		HeaderResource:  `{"id": "tool-1", "name": "search", "kind": "tool", "sensitivity_level": "low"}`,
	}))

	assert.Equal(t, int32(codes.OK), resp.GetStatus().GetCode())
	require.NotNil(t, resp.GetOkResponse())
	assert.Equal(t, resultAllowed, responseHeaders(resp.GetOkResponse().GetHeaders())[resultHeader])

	record := <-ch
	assert.Equal(t, "tool:read", record.Operation)
	assert.Equal(t, accesslog.Grant, record.Decision)
}

func TestCheck_Deny(t *testing.T) {
	client, _ := setup(t)

	resp := check(t, client, checkRequest("POST", "203.0.113.7", map[string]string{
		HeaderPrincipal: `{"id": "carol", "role": "admin", "authenticated": true, "teams": ["platform"], "manager_of_teams": ["platform"], "mfa_verified": true, "mfa_verified_at": "2025-06-04T09:58:00Z"}`,
		HeaderResource:  `{"id": "tool-9", "name": "deployer", "sensitivity_level": "critical", "teams": ["platform"]}`,
		HeaderAudit:     "true",
	}))

	assert.Equal(t, int32(codes.PermissionDenied), resp.GetStatus().GetCode())
	denied := resp.GetDeniedResponse()
	require.NotNil(t, denied)
	assert.Equal(t, typev3.StatusCode_Forbidden, denied.GetStatus().GetCode())

	headers := responseHeaders(denied.GetHeaders())
	assert.Equal(t, resultDenied, headers[resultHeader])
	assert.Contains(t, headers[HeaderViolations], string(types.ViolationVPNRequired))
	assert.NotEmpty(t, headers[HeaderReason])
}

func TestCheck_Malformed(t *testing.T) {
	client, ch := setup(t)

	for name, headers := range map[string]map[string]string{
		"principal json": {HeaderPrincipal: "{not json"},
		"audit flag":     {HeaderPrincipal: developer, HeaderAudit: "sometimes"},
		"no action":      {HeaderPrincipal: developer},
	} {
		t.Run(name, func(t *testing.T) {
			resp := check(t, client, checkRequest("OPTIONS", "10.0.0.5", headers))
			assert.Equal(t, int32(codes.PermissionDenied), resp.GetStatus().GetCode())
			h := responseHeaders(resp.GetDeniedResponse().GetHeaders())
			assert.Contains(t, h[HeaderReason], "invalid request")
		})
	}
	assert.Empty(t, ch)
}

func TestCheck_CacheBypass(t *testing.T) {
	client, ch := setup(t)

	headers := map[string]string{
		HeaderPrincipal: developer,
		HeaderResource:  `{"id": "tool-1", "sensitivity_level": "low"}`,
	}
	check(t, client, checkRequest("GET", "10.0.0.5", headers))
	assert.False(t, (<-ch).Cached)

	check(t, client, checkRequest("GET", "10.0.0.5", headers))
	assert.True(t, (<-ch).Cached)

	headers[HeaderCacheBypass] = "true"
	check(t, client, checkRequest("GET", "10.0.0.5", headers))
	assert.False(t, (<-ch).Cached)
}

func TestBuildRequest(t *testing.T) {
	attrs := checkRequest("delete", "", map[string]string{
		HeaderPrincipal: developer,
		HeaderResource:  `{"id": "srv-1", "kind": "server", "sensitivity_level": "medium"}`,
		HeaderMFAToken:  "123456",
		HeaderStepUp:    "true",
		HeaderCountry:   "DE",
		HeaderForwarded: "198.51.100.4, 10.0.0.1",
	}).GetAttributes()

	req, bypass, err := buildRequest(attrs)
	require.NoError(t, err)
	assert.False(t, bypass)
	assert.Equal(t, types.ToolDelete, req.Action)
	assert.Equal(t, "alice", req.Principal.ID)
	assert.Equal(t, types.SensitivityMedium, req.Resource.Sensitivity)
	assert.True(t, req.Context.HasMFAToken())
	assert.True(t, req.Context.StepUpVerified)
	assert.Equal(t, "DE", req.Context.Country)
	assert.Equal(t, "198.51.100.4", req.Context.ResolvedClientIP())

	attrs.GetRequest().GetHttp().GetHeaders()[HeaderAction] = "server:update"
	req, _, err = buildRequest(attrs)
	require.NoError(t, err)
	assert.Equal(t, types.ServerUpdate, req.Action)
}

func TestTruncate(t *testing.T) {
	long := make([]byte, maxHeaderLen+10)
	assert.Len(t, truncate(string(long)), maxHeaderLen)
	assert.Equal(t, "short", truncate("short"))
}
