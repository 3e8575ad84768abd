//
//  Copyright © Manetu Inc. All rights reserved.
//

package generic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/manetu/toolgate/internal/core/test"
	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core"
	"github.com/manetu/toolgate/pkg/core/accesslog"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/manetu/toolgate/pkg/decisionpoint/generic/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lowRead = `{
	"user": {"id": "alice", "role": "developer", "authenticated": true},
	"tool": {"id": "tool-1", "name": "search", "sensitivity_level": "low"},
	"action": "tool:read",
	"context": {"client_ip": "10.0.0.5"}
}`

const publicCritical = `{
	"user": {"id": "bob", "role": "developer", "authenticated": true},
	"tool": {"id": "tool-9", "name": "deployer", "sensitivity_level": "critical", "teams": ["platform"]},
	"action": "tool:invoke",
	"context": {"client_ip": "203.0.113.7"}
}`

func setup(t *testing.T) (*httptest.Server, chan *accesslog.AccessRecord) {
	t.Helper()
	pe, ch, err := test.NewTestPolicyEngine(64)
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(pe))
	t.Cleanup(func() {
		srv.Close()
		_ = pe.Close()
	})
	return srv, ch
}

func post(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestDecision_Allow(t *testing.T) {
	srv, ch := setup(t)

	code, body := post(t, srv.URL+"/decision", lowRead)
	require.Equal(t, http.StatusOK, code, string(body))

	var d types.Decision
	require.NoError(t, json.Unmarshal(body, &d))
	assert.True(t, d.Allow)
	assert.Equal(t, "access granted", d.Reason)
	assert.Len(t, d.PerModule, 6)
	assert.Len(t, ch, 1)
}

func TestDecision_Deny(t *testing.T) {
	srv, _ := setup(t)

	code, body := post(t, srv.URL+"/decision", publicCritical)
	require.Equal(t, http.StatusOK, code)

	var d types.Decision
	require.NoError(t, json.Unmarshal(body, &d))
	assert.False(t, d.Allow)
	assert.NotEmpty(t, d.ViolationTypes())
	assert.Equal(t, types.SensitivityCritical, d.Compliance.Sensitivity)
}

func TestDecision_QueryParameters(t *testing.T) {
	srv, ch := setup(t)

	code, _ := post(t, srv.URL+"/decision?probe=true", lowRead)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, ch)

	code, _ = post(t, srv.URL+"/decision", lowRead)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, (<-ch).Cached)

	code, _ = post(t, srv.URL+"/decision", lowRead)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, (<-ch).Cached)

	code, _ = post(t, srv.URL+"/decision?bypass_cache=true", lowRead)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, (<-ch).Cached)

	code, body := post(t, srv.URL+"/decision?probe=maybe", lowRead)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), string(common.InvalidRequest))
}

func TestDecision_BadRequest(t *testing.T) {
	srv, ch := setup(t)

	for _, body := range []string{"", "{", `{"principal": {"id": "alice"}}`} {
		code, data := post(t, srv.URL+"/decision", body)
		assert.Equal(t, http.StatusBadRequest, code)

		var perr common.PolicyError
		require.NoError(t, json.Unmarshal(data, &perr))
		assert.Equal(t, common.InvalidRequest, perr.ReasonCode)
	}
	assert.Empty(t, ch)
}

func TestDecisions(t *testing.T) {
	srv, ch := setup(t)

	batch := fmt.Sprintf(`{"requests": [%s, %s]}`, lowRead, publicCritical)
	code, body := post(t, srv.URL+"/decisions", batch)
	require.Equal(t, http.StatusOK, code, string(body))

	var out api.BatchResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Decisions, 2)
	assert.True(t, out.Decisions[0].Allow)
	assert.False(t, out.Decisions[1].Allow)
	assert.Len(t, ch, 2)

	code, _ = post(t, srv.URL+"/decisions?probe=true", batch)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, ch, 2)

	code, body = post(t, srv.URL+"/decisions", `{"requests": []}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"decisions": []}`, string(body))
}

func TestDecisions_BadRequest(t *testing.T) {
	srv, ch := setup(t)

	oversized := `{"requests": [` + strings.TrimSuffix(strings.Repeat(lowRead+",", api.MaxBatchSize+1), ",") + `]}`
	for _, body := range []string{"", "{", `{"requests": [{"principal": {"id": "alice"}}]}`, oversized} {
		code, data := post(t, srv.URL+"/decisions", body)
		assert.Equal(t, http.StatusBadRequest, code)

		var perr common.PolicyError
		require.NoError(t, json.Unmarshal(data, &perr))
		assert.Equal(t, common.InvalidRequest, perr.ReasonCode)
	}
	assert.Empty(t, ch)
}

func TestInvalidatePrincipal(t *testing.T) {
	srv, _ := setup(t)

	code, _ := post(t, srv.URL+"/decision", lowRead)
	require.Equal(t, http.StatusOK, code)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/cache/principals/alice", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, map[string]int{"removed": 1}, out)
}

func TestStaticRoutes(t *testing.T) {
	srv, _ := setup(t)

	for path, want := range map[string]string{
		"/healthz":      `"status":"ok"`,
		"/openapi.yaml": "openapi: 3.0.3",
		"/metrics":      "# TYPE",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(data), want, path)
	}
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestCreateServer(t *testing.T) {
	pe, _, err := test.NewTestPolicyEngine(8)
	require.NoError(t, err)
	defer func(pe core.PolicyEngine) { _ = pe.Close() }(pe)

	port := freePort(t)
	server, err := CreateServer(pe, port)
	require.NoError(t, err)

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Stop(ctx))
}
