//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/manetu/toolgate/cmd/tgate/common"
	"github.com/urfave/cli/v3"
)

// ExecuteDecision evaluates a stand-alone request and prints the decision as indented JSON
func ExecuteDecision(ctx context.Context, cmd *cli.Command) error {
	input, err := readInput(cmd.String("input"), common.Stdin(cmd))
	if err != nil {
		return err
	}

	pe, err := common.NewCliPolicyEngine(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = pe.Close() }()

	decision, err := pe.Authorize(ctx, input)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	_, err = fmt.Fprintln(common.Stdout(cmd), string(out))
	return err
}
