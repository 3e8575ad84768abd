//
//  Copyright © Manetu Inc. All rights reserved.
//

package lint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manetu/toolgate/cmd/tgate/common"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Result represents the outcome of a lint operation on a file.
type Result struct {
	File    string
	Valid   bool
	Error   error
	Message string
	Type    string // "yaml" or "policy"
}

// Execute runs the lint command with the provided context and CLI command.
//
// Each file is checked for YAML syntax and then compiled as a PolicyConfig, which validates every rule and
// the extension rego.  Regal findings are reported but only fail the command under --strict.
func Execute(ctx context.Context, cmd *cli.Command) error {
	files := cmd.StringSlice("file")
	if len(files) == 0 {
		return fmt.Errorf("no files specified, use --file/-f to specify YAML files to lint")
	}

	out := common.Stdout(cmd)
	_, _ = fmt.Fprintln(out, "Linting policy files...")
	_, _ = fmt.Fprintln(out)

	var valid []string
	hasErrors := 0
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file))
		if ext != ".yml" && ext != ".yaml" {
			_, _ = fmt.Fprintf(out, "⚠ %s: Unsupported file type (only .yml, .yaml supported)\n\n", file)
			continue
		}

		result := lintFile(file)
		if result.Valid {
			result = lintPolicy(file)
		}
		if !result.Valid {
			hasErrors++
			printResult(out, result)
			continue
		}

		_, _ = fmt.Fprintf(out, "✓ %s: Valid PolicyConfig\n", file)
		valid = append(valid, file)
	}

	regalViolations := 0
	if !cmd.Bool("no-regal") && len(valid) > 0 {
		_, _ = fmt.Fprintln(out)
		regalViolations = performRegalLinting(ctx, out, valid)
	}

	_, _ = fmt.Fprintln(out, "---")
	if hasErrors > 0 {
		_, _ = fmt.Fprintf(out, "Linting completed: %d file(s) with errors\n", hasErrors)
		return fmt.Errorf("linting failed: %d file(s) with errors", hasErrors)
	}
	if regalViolations > 0 {
		_, _ = fmt.Fprintf(out, "Linting completed: %d Regal violation(s)\n", regalViolations)
		if cmd.Bool("strict") {
			return fmt.Errorf("linting failed: %d Regal violation(s)", regalViolations)
		}
		return nil
	}

	_, _ = fmt.Fprintf(out, "All checks passed: %d file(s) validated successfully\n", len(valid))
	return nil
}

func printResult(out io.Writer, result Result) {
	label := "YAML"
	if result.Type == "policy" {
		label = "PolicyConfig"
	}
	_, _ = fmt.Fprintf(out, "✗ %s (%s)\n", result.File, label)
	if result.Error != nil {
		_, _ = fmt.Fprintf(out, "  Error: %s\n", formatYAMLError(result.Error))
	} else {
		_, _ = fmt.Fprintf(out, "  Error: %s\n", result.Message)
	}
	_, _ = fmt.Fprintln(out)
}

func lintFile(path string) Result {
	result := Result{
		File:  path,
		Valid: true,
		Type:  "yaml",
	}

	content, err := os.ReadFile(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
	if err != nil {
		result.Valid = false
		result.Message = fmt.Sprintf("Failed to read file: %v", err)
		return result
	}

	var data interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		result.Valid = false
		result.Error = err
	}

	return result
}

// lintPolicy loads and compiles path as a PolicyConfig.
func lintPolicy(path string) Result {
	result := Result{
		File:  path,
		Valid: true,
		Type:  "policy",
	}

	if _, err := policyconfig.LoadFile(path); err != nil {
		result.Valid = false
		result.Message = err.Error()
	}

	return result
}

func formatYAMLError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "yaml:") {
		return errStr
	}

	if yamlErr, ok := err.(*yaml.TypeError); ok {
		if len(yamlErr.Errors) > 0 {
			return strings.Join(yamlErr.Errors, "\n  ")
		}
	}

	return errStr
}
