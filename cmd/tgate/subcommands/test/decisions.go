//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/manetu/toolgate/cmd/tgate/common"
	"github.com/manetu/toolgate/pkg/core"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// TestCase represents a single decision test case
type TestCase struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	At          string         `yaml:"at"`
	Request     map[string]any `yaml:"request"`
	Result      TestResult     `yaml:"result"`
}

// TestResult represents the expected result of a test.  Every listed violation type must appear in the
// decision; others are tolerated.
type TestResult struct {
	Allow      bool     `yaml:"allow"`
	Violations []string `yaml:"violations"`
}

// TestSuite represents a collection of test cases
type TestSuite struct {
	Tests []TestCase `yaml:"tests"`
}

// ExecuteDecisions runs a suite of policy decision tests from a YAML file
func ExecuteDecisions(ctx context.Context, cmd *cli.Command) error {
	testSuite, err := loadTestSuite(cmd.String("input"))
	if err != nil {
		return fmt.Errorf("failed to load test suite: %w", err)
	}

	if len(testSuite.Tests) == 0 {
		return fmt.Errorf("no tests found in test suite")
	}

	testsToRun := filterTests(testSuite.Tests, cmd.StringSlice("test"))
	if len(testsToRun) == 0 {
		return fmt.Errorf("no tests match the specified patterns")
	}

	pe, err := common.NewCliPolicyEngine(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = pe.Close() }()

	out := common.Stdout(cmd)
	passed := 0
	failed := 0

	for _, tc := range testsToRun {
		if msg := runTestCase(ctx, pe, tc); msg != "" {
			_, _ = fmt.Fprintf(out, "%s: %s\n", tc.Name, msg)
			failed++
			continue
		}
		_, _ = fmt.Fprintf(out, "%s: PASS\n", tc.Name)
		passed++
	}

	total := passed + failed
	_, _ = fmt.Fprintf(out, "\n%d/%d tests passed\n", passed, total)

	if failed > 0 {
		return cli.Exit("", 1)
	}

	return nil
}

// runTestCase evaluates one case and returns an empty string when it passes, else the FAIL or ERROR line.
func runTestCase(ctx context.Context, pe core.PolicyEngine, tc TestCase) string {
	request, err := withTimestamp(tc.Request, tc.At)
	if err != nil {
		return fmt.Sprintf("ERROR (%v)", err)
	}

	decision, err := pe.Authorize(ctx, request)
	if err != nil {
		return fmt.Sprintf("ERROR (%v)", err)
	}

	if decision.Allow != tc.Result.Allow {
		return fmt.Sprintf("FAIL (expected allow=%t, got allow=%t: %s)", tc.Result.Allow, decision.Allow, decision.Reason)
	}

	for _, v := range tc.Result.Violations {
		if !decision.HasViolation(types.ViolationType(v)) {
			return fmt.Sprintf("FAIL (expected violation %s, got %v)", v, decision.ViolationTypes())
		}
	}

	return ""
}

// withTimestamp returns a copy of request whose context.timestamp is at.  The case's own timestamp wins when
// both are present.
func withTimestamp(request map[string]any, at string) (map[string]any, error) {
	if request == nil {
		return nil, fmt.Errorf("test case has no request")
	}
	if at == "" {
		return request, nil
	}
	if _, err := common.ParseInstant(at); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(request))
	for k, v := range request {
		out[k] = v
	}

	reqCtx := map[string]any{}
	if existing, ok := request["context"].(map[string]any); ok {
		for k, v := range existing {
			reqCtx[k] = v
		}
	}
	if _, ok := reqCtx["timestamp"]; !ok {
		reqCtx["timestamp"] = at
	}
	out["context"] = reqCtx

	return out, nil
}

// loadTestSuite reads and parses a test suite from a YAML file
func loadTestSuite(path string) (*TestSuite, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
	if err != nil {
		return nil, fmt.Errorf("failed to read test file: %w", err)
	}

	return parseTestSuite(data)
}

func parseTestSuite(data []byte) (*TestSuite, error) {
	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse test file: %w", err)
	}

	return &suite, nil
}

// filterTests returns tests that match the specified patterns.
// If no patterns are specified, all tests are returned.
// Patterns support glob matching (e.g., "critical-*" matches "critical-register-without-team").
func filterTests(tests []TestCase, patterns []string) []TestCase {
	if len(patterns) == 0 {
		return tests
	}

	var filtered []TestCase
	for _, tc := range tests {
		for _, pattern := range patterns {
			matched, err := filepath.Match(pattern, tc.Name)
			if err != nil {
				// Invalid pattern - treat as literal match
				if pattern == tc.Name {
					filtered = append(filtered, tc)
					break
				}
			} else if matched {
				filtered = append(filtered, tc)
				break
			}
		}
	}

	return filtered
}
