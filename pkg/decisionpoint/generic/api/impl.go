//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package api implements the handlers of the generic decision point REST API described by openapi.yaml.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core"
	"github.com/manetu/toolgate/pkg/core/options"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/oapi-codegen/runtime"
	"github.com/pkg/errors"
)

// DecisionParams are the query parameters of POST /decision.
type DecisionParams struct {
	// Probe evaluates without writing an access record.
	Probe *bool `form:"probe,omitempty" json:"probe,omitempty"`
	// BypassCache forces a fresh evaluation.
	BypassCache *bool `form:"bypass_cache,omitempty" json:"bypass_cache,omitempty"`
}

// MaxBatchSize caps the number of requests accepted by POST /decisions.
const MaxBatchSize = 1000

// BatchRequest is the body of POST /decisions.
type BatchRequest struct {
	Requests []json.RawMessage `json:"requests"`
}

// BatchResponse carries decisions in request order.
type BatchResponse struct {
	Decisions []*types.Decision `json:"decisions"`
}

// InvalidateResponse reports how many cached decisions were dropped.
type InvalidateResponse struct {
	Removed int `json:"removed"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Server implements the generic decision point API server.
type Server struct {
	pe core.PolicyEngine
}

// NewServer creates a new API server instance with the given PolicyEngine.
func NewServer(pe core.PolicyEngine) Server {
	return Server{
		pe: pe,
	}
}

// RegisterHandlers adds the API routes to e.
func RegisterHandlers(e *echo.Echo, s Server) {
	e.POST("/decision", s.Decision)
	e.POST("/decisions", s.Decisions)
	e.DELETE("/cache/principals/:id", s.InvalidatePrincipal)
	e.GET("/healthz", s.Health)
}

func bindParams(ctx echo.Context) (DecisionParams, error) {
	var params DecisionParams
	if err := runtime.BindQueryParameter("form", true, false, "probe", ctx.QueryParams(), &params.Probe); err != nil {
		return params, common.Errorf(common.InvalidRequest, "invalid format for parameter probe: %v", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "bypass_cache", ctx.QueryParams(), &params.BypassCache); err != nil {
		return params, common.Errorf(common.InvalidRequest, "invalid format for parameter bypass_cache: %v", err)
	}
	return params, nil
}

func fail(ctx echo.Context, err error) error {
	var perr *common.PolicyError
	if errors.As(err, &perr) && perr.ReasonCode == common.InvalidRequest {
		return ctx.JSON(http.StatusBadRequest, perr)
	}
	return ctx.JSON(http.StatusInternalServerError, common.NewError(common.EvaluationError, err.Error()))
}

// Decision evaluates the request body and returns the Decision.
func (s Server) Decision(ctx echo.Context) error {
	params, err := bindParams(ctx)
	if err != nil {
		return fail(ctx, err)
	}

	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return fail(ctx, common.Errorf(common.InvalidRequest, "reading body: %v", err))
	}

	probe := params.Probe != nil && *params.Probe
	bypass := params.BypassCache != nil && *params.BypassCache
	decision, err := s.pe.Authorize(ctx.Request().Context(), body, options.SetProbeMode(probe), options.SetBypassCache(bypass))
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, decision)
}

// Decisions evaluates a batch of requests and returns their decisions in order.
func (s Server) Decisions(ctx echo.Context) error {
	params, err := bindParams(ctx)
	if err != nil {
		return fail(ctx, err)
	}

	var batch BatchRequest
	if err := json.NewDecoder(ctx.Request().Body).Decode(&batch); err != nil {
		return fail(ctx, common.Errorf(common.InvalidRequest, "invalid batch json: %v", err))
	}
	if len(batch.Requests) > MaxBatchSize {
		return fail(ctx, common.Errorf(common.InvalidRequest, "batch of %d requests exceeds the limit of %d", len(batch.Requests), MaxBatchSize))
	}

	requests := make([]types.AnyRequest, len(batch.Requests))
	for i, raw := range batch.Requests {
		requests[i] = []byte(raw)
	}

	probe := params.Probe != nil && *params.Probe
	bypass := params.BypassCache != nil && *params.BypassCache
	decisions, err := s.pe.AuthorizeBatch(ctx.Request().Context(), requests, options.SetProbeMode(probe), options.SetBypassCache(bypass))
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, BatchResponse{Decisions: decisions})
}

// InvalidatePrincipal drops the cached decisions of the principal named in the path.
func (s Server) InvalidatePrincipal(ctx echo.Context) error {
	n, err := s.pe.InvalidatePrincipal(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return ctx.JSON(http.StatusServiceUnavailable, common.NewError(common.CacheError, err.Error()))
	}
	return ctx.JSON(http.StatusOK, InvalidateResponse{Removed: n})
}

// Health reports liveness.
func (s Server) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
