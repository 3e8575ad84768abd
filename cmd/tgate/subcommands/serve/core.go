//
//  Copyright © Manetu Inc. All rights reserved.
//

package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/manetu/toolgate/cmd/tgate/common"
	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/core"
	"github.com/manetu/toolgate/pkg/decisionpoint"
	"github.com/manetu/toolgate/pkg/decisionpoint/envoy"
	"github.com/manetu/toolgate/pkg/decisionpoint/generic"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("toolgate")

const agent string = "serve"

// Protocols accepted by --protocol.
const (
	ProtocolGeneric = "generic"
	ProtocolEnvoy   = "envoy"
)

const shutdownTimeout = 10 * time.Second

// ValidateProtocol rejects protocols other than generic and envoy.
func ValidateProtocol(protocol string) error {
	if protocol != ProtocolGeneric && protocol != ProtocolEnvoy {
		return fmt.Errorf("unsupported protocol: %s", protocol)
	}
	return nil
}

func createServer(pe core.PolicyEngine, protocol string, port int) (decisionpoint.Server, error) {
	switch protocol {
	case ProtocolGeneric:
		return generic.CreateServer(pe, port)
	case ProtocolEnvoy:
		return envoy.CreateServer(pe, port)
	default:
		return nil, ValidateProtocol(protocol)
	}
}

// Execute runs the serve command, starting a decision point server based on the configured protocol.
// It supports both "generic" and "envoy" protocols and gracefully shuts down on interrupt signals
// or when ctx is cancelled.
func Execute(ctx context.Context, cmd *cli.Command) error {
	pe, err := common.NewCliPolicyEngine(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = pe.Close() }()

	server, err := createServer(pe, cmd.String("protocol"), cmd.Int("port"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	<-ctx.Done()
	logger.Info(agent, "shutdown", "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}

	logger.Info(agent, "shutdown", "Server exited gracefully.")
	return nil
}
