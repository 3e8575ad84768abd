//
//  Copyright © Manetu Inc. All rights reserved.
//

package lint

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/regal/pkg/linter"
	"github.com/open-policy-agent/regal/pkg/report"
	"github.com/open-policy-agent/regal/pkg/rules"

	"github.com/manetu/toolgate/pkg/core/policyconfig"
)

// performRegalLinting runs Regal lint on the extension modules of every policy file that loads.
// Returns the number of violations found.
func performRegalLinting(ctx context.Context, out io.Writer, files []string) int {
	// fileToModuleMap maps synthetic filenames to "sourceFile:module"
	fileToModuleMap := make(map[string]string)
	regoFiles := make(map[string]string)

	for _, file := range files {
		cfg, err := policyconfig.Load(file)
		if err != nil {
			continue
		}

		sources, _ := cfg.ExtensionSources()
		for name, src := range sources {
			if strings.TrimSpace(src) == "" {
				continue
			}
			syntheticName := syntheticFileName(file, name)
			regoFiles[syntheticName] = src
			fileToModuleMap[syntheticName] = fmt.Sprintf("%s:%s", file, name)
		}
	}

	if len(regoFiles) == 0 {
		_, _ = fmt.Fprintln(out, "No extension rego found to lint with Regal")
		return 0
	}

	return runRegalLint(ctx, out, regoFiles, fileToModuleMap)
}

// syntheticFileName creates a consistent synthetic filename for an extension module.
func syntheticFileName(sourceFile, module string) string {
	safe := strings.TrimSuffix(filepath.ToSlash(module), ".rego")
	safe = strings.ReplaceAll(safe, ":", "_")
	safe = strings.ReplaceAll(safe, "/", "_")
	return fmt.Sprintf("%s_%s.rego", sourceFile, safe)
}

// runRegalLint uses the Regal Go library to lint the provided Rego files.
func runRegalLint(ctx context.Context, out io.Writer, regoFiles map[string]string, fileToModuleMap map[string]string) int {
	input, err := rules.InputFromMap(regoFiles, nil)
	if err != nil {
		_, _ = fmt.Fprintf(out, "✗ Failed to parse Rego for Regal linting: %v\n", err)
		return 1
	}

	regalLinter := linter.NewLinter().WithInputModules(&input)

	regalReport, err := regalLinter.Lint(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(out, "✗ Regal linting failed: %v\n", err)
		return 1
	}

	for _, violation := range regalReport.Violations {
		printRegalViolation(out, violation, fileToModuleMap[violation.Location.File])
	}

	return len(regalReport.Violations)
}

// printRegalViolation formats and prints a single Regal violation.
func printRegalViolation(out io.Writer, violation report.Violation, moduleInfo string) {
	if file, module, ok := strings.Cut(moduleInfo, ":"); ok {
		_, _ = fmt.Fprintf(out, "✗ %s (Regal: %s in extension module '%s' at line %d)\n", file, violation.Title, module, violation.Location.Row)
	} else {
		_, _ = fmt.Fprintf(out, "✗ Regal: %s at %s:%d:%d\n", violation.Title, violation.Location.File, violation.Location.Row, violation.Location.Column)
	}

	_, _ = fmt.Fprintf(out, "  Category: %s | Level: %s\n", violation.Category, violation.Level)
	if violation.Description != "" {
		_, _ = fmt.Fprintf(out, "  Description: %s\n", violation.Description)
	}
	_, _ = fmt.Fprintln(out)
}
