//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/core"
	"github.com/manetu/toolgate/pkg/core/accesslog"
	"github.com/manetu/toolgate/pkg/core/clock"
	"github.com/manetu/toolgate/pkg/core/opa"
	"github.com/manetu/toolgate/pkg/core/options"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("tgate")

const agent = "cli"

// Stdout returns the writer commands print results to.
func Stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// Stdin returns the reader '-' inputs are read from.
func Stdin(cmd *cli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}

// ParseInstant parses an RFC3339 timestamp as given to --at or a test case's 'at' field.
func ParseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected RFC3339): %w", s, err)
	}
	return t, nil
}

// NewPolicySource loads the policy at path, watching it for changes when watch is set.
func NewPolicySource(path string, watch bool, compilerOptions ...opa.CompilerOptionFunc) (policyconfig.Source, error) {
	if !watch {
		p, err := policyconfig.LoadFile(path, compilerOptions...)
		if err != nil {
			return nil, err
		}
		return policyconfig.Static(p), nil
	}

	return policyconfig.NewWatcher(path,
		policyconfig.WithCompilerOptions(compilerOptions...),
		policyconfig.WithReloadHook(func(p *policyconfig.Policy, err error) {
			if err != nil {
				logger.Warnf(agent, "reload", "keeping previous policy, %s failed to load: %v", path, err)
				return
			}
			logger.Infof(agent, "reload", "loaded policy %s (%s)", path, p.Fingerprint())
		}),
	)
}

// NewCliPolicyEngine creates a new PolicyEngine instance configured from CLI command flags.
//
// Access records go to stderr when the global --trace flag is set and are discarded otherwise.  --policy
// (with --watch) replaces the configured policy source and --at pins the engine clock.
func NewCliPolicyEngine(cmd *cli.Command, stderr io.Writer) (core.PolicyEngine, error) {
	traceEnabled := cmd.Root().Bool("trace")

	compilerOptions := []opa.CompilerOptionFunc{opa.WithDefaultTracing(traceEnabled)}

	accessLog := accesslog.NewNullFactory()
	if traceEnabled {
		accessLog = accesslog.NewIoWriterFactoryWithOptions(stderr, accesslog.AccessLogOptions{PrettyPrint: true})
	}

	opts := []options.EngineOptionsFunc{
		options.WithAccessLog(accessLog),
		options.WithCompilerOptions(compilerOptions...),
	}

	if path := cmd.String("policy"); path != "" {
		source, err := NewPolicySource(path, cmd.Bool("watch"), compilerOptions...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, options.WithPolicySource(source))
	}

	if at := cmd.String("at"); at != "" {
		t, err := ParseInstant(at)
		if err != nil {
			return nil, err
		}
		opts = append(opts, options.WithClock(clock.At(t)))
	}

	return core.NewPolicyEngine(opts...)
}
