//
//  Copyright © Manetu Inc. All rights reserved.
//

package generic

import (
	"context"
	"embed"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/core"
	"github.com/manetu/toolgate/pkg/decisionpoint"
	"github.com/manetu/toolgate/pkg/decisionpoint/generic/api"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed openapi.yaml
var schema embed.FS

var logger = logging.GetLogger("toolgate.decisionpoint")

const agent string = "generic"

// Server represents a generic decision point server that serves the REST API.
type Server struct {
	echo *echo.Echo
}

// NewHandler builds the REST API routes, the OpenAPI schema and the metrics endpoint without starting a
// listener.
func NewHandler(pe core.PolicyEngine) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.RegisterHandlers(e, api.NewServer(pe))

	e.GET("/openapi.yaml", echo.WrapHandler(http.FileServer(http.FS(schema))))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// CreateServer creates and starts a new generic decision point server.
func CreateServer(pe core.PolicyEngine, port int) (decisionpoint.Server, error) {
	e := NewHandler(pe)

	// Start server in goroutine since e.Start() blocks
	go func() {
		logger.Infof(agent, "start", "Starting generic decision point on :%d", port)
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			logger.Fatalf(agent, "start", "Failed to serve: %v", err)
		}
	}()

	return &Server{
		echo: e,
	}, nil
}

// Stop gracefully stops the Server by shutting down the Echo HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
