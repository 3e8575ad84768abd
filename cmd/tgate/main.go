//
//  Copyright © Manetu Inc. All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/manetu/toolgate/cmd/tgate/common"
	"github.com/manetu/toolgate/cmd/tgate/subcommands/lint"
	"github.com/manetu/toolgate/cmd/tgate/subcommands/serve"
	"github.com/manetu/toolgate/cmd/tgate/subcommands/test"
	"github.com/manetu/toolgate/cmd/tgate/version"
	"github.com/manetu/toolgate/internal/logging"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("tgate")

func policyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "policy",
		Aliases: []string{"P"},
		Usage:   "Load the PolicyConfig from `FILE`.  Defaults to policy.path from configuration, else the built-in policy.",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "tgate",
		Usage:   "A CLI application for working with the toolgate AI-tool policy engine",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "trace",
				Aliases: []string{"t"},
				Usage:   "Write access records to stderr and enable rego trace output",
				Value:   logger.IsTraceEnabled(),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "test",
				Usage: "Evaluates requests against a policy, simplifying policy authoring and verification",
				Commands: []*cli.Command{
					{
						Name:  "decision",
						Usage: "Evaluates a single request and prints the decision",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "input",
								Aliases: []string{"i"},
								Usage:   "Load the request from `FILE`, or use '-' for stdin",
								Value:   "-",
							},
							policyFlag(),
							&cli.StringFlag{
								Name:  "at",
								Usage: "Evaluate at the RFC3339 instant `TIME` instead of the current time",
							},
						},
						Action: test.ExecuteDecision,
					},
					{
						Name:  "decisions",
						Usage: "Runs a suite of decision tests from a YAML file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "input",
								Aliases:  []string{"i"},
								Usage:    "Load the test suite from `FILE`",
								Required: true,
							},
							policyFlag(),
							&cli.StringSliceFlag{
								Name:  "test",
								Usage: "Only run tests whose name matches `GLOB`.  Can be specified multiple times.",
							},
						},
						Action: test.ExecuteDecisions,
					},
				},
			},
			{
				Name:  "serve",
				Usage: "Creates a decision-point service",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port to serve on.",
						Value: 9000,
					},
					&cli.StringFlag{
						Name:    "protocol",
						Aliases: []string{"p"},
						Usage:   "The protocol to serve.  Must be one of 'generic' or 'envoy'",
						Value:   serve.ProtocolGeneric,
						Action: func(_ context.Context, _ *cli.Command, s string) error {
							return serve.ValidateProtocol(s)
						},
					},
					policyFlag(),
					&cli.BoolFlag{
						Name:    "watch",
						Aliases: []string{"w"},
						Usage:   "Reload the policy file when it changes",
					},
				},
				Action: serve.Execute,
			},
			{
				Name:  "lint",
				Usage: "Validate PolicyConfig YAML files and lint their extension rego",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "PolicyConfig YAML file to lint (.yml, .yaml).  Can be specified multiple times.",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "no-regal",
						Usage: "Skip regal linting of extension modules",
					},
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Fail when regal reports any violation",
					},
				},
				Action: lint.Execute,
			},
			{
				Name:  "version",
				Usage: "Print the build version",
				Action: func(_ context.Context, cmd *cli.Command) error {
					_, err := fmt.Fprintln(common.Stdout(cmd), version.GetVersion())
					return err
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
