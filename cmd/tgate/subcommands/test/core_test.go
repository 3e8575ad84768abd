//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	coretest "github.com/manetu/toolgate/internal/core/test"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readRequest = `{
  "principal": {"id": "alice", "role": "developer", "authenticated": true},
  "resource": {"id": "t1", "name": "search", "kind": "tool", "sensitivity_level": "low"},
  "action": "tool:read",
  "context": {"client_ip": "10.0.0.5"}
}`

func runDecision(t *testing.T, stdin string, args ...string) (*types.Decision, error) {
	var out bytes.Buffer
	cmd := buildTestCommand(&out)
	cmd.Reader = strings.NewReader(stdin)

	err := cmd.Run(context.Background(), append([]string{"tgate", "test", "decision"}, args...))
	if err != nil {
		return nil, err
	}

	var decision types.Decision
	require.NoError(t, json.Unmarshal(out.Bytes(), &decision), out.String())
	assert.Contains(t, out.String(), "\n  \"allow\"", "decision should be indented")
	return &decision, nil
}

func TestExecuteDecision_Stdin(t *testing.T) {
	setup(t)

	decision, err := runDecision(t, readRequest, "--at", "2025-06-04T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, decision.Allow, decision.Reason)
	assert.Equal(t, "access granted", decision.Reason)
}

func TestExecuteDecision_FileAndPolicy(t *testing.T) {
	setup(t)

	input := writeFile(t, "request.json", strings.Replace(readRequest, `"search"`, `"pastebin"`, 1))
	decision, err := runDecision(t, "", "-i", input,
		"--policy", filepath.Join(coretest.GetTestdataPath(), "policy.yaml"),
		"--at", "2025-06-04T10:00:00Z")
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.True(t, decision.HasViolation(types.ViolationExtensionDeny))
	assert.Equal(t, "tool is quarantined", decision.Reason)
}

func TestExecuteDecision_Errors(t *testing.T) {
	setup(t)

	_, err := runDecision(t, "{not json")
	assert.Error(t, err)

	_, err = runDecision(t, readRequest, "--at", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RFC3339")

	_, err = runDecision(t, readRequest, "--policy", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = runDecision(t, "", "-i", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read input")
}
