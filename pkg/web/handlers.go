// Package web provides the REST API for graphs, runs and webhook triggers.
package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/services"
	"github.com/nexuspro/flows/pkg/supervisor"
)

// TriggerPublisher starts the runs matching a trigger event.
type TriggerPublisher interface {
	Publish(ctx context.Context, triggerType models.TriggerType, payload map[string]string) ([]*models.RunRecord, error)
}

// StatsProvider reports supervised run counts for the health endpoint.
type StatsProvider interface {
	Stats() supervisor.Stats
}

type APIHandlers struct {
	graphs    *services.Graphs
	runs      *services.Runs
	triggers  TriggerPublisher
	stats     StatsProvider
	validator *validator.Validate
}

func NewAPIHandlers(
	graphs *services.Graphs,
	runs *services.Runs,
	triggers TriggerPublisher,
	stats StatsProvider,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		graphs:    graphs,
		runs:      runs,
		triggers:  triggers,
		stats:     stats,
		validator: validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	message, healthy := h.graphs.HealthCheck(c.Context())

	response := HealthResponse{Status: "healthy", Message: message}
	httpStatus := http.StatusOK

	if !healthy {
		response.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.stats != nil {
		stats := h.stats.Stats()
		response.Runs = &stats
	}

	return c.Status(httpStatus).JSON(response)
}

func (h *APIHandlers) ListGraphs(c fiber.Ctx) error {
	graphs, err := h.graphs.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"graphs": graphs})
}

func (h *APIHandlers) GetGraph(c fiber.Ctx) error {
	version := 0

	if raw := c.Query("version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return badRequest(c, "version must be a positive integer")
		}

		version = parsed
	}

	g, err := h.graphs.Get(c.Context(), c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(g)
}

func (h *APIHandlers) CreateGraph(c fiber.Ctx) error {
	var candidate models.WorkflowGraph

	if err := c.Bind().JSON(&candidate); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	created, result, err := h.graphs.Create(c.Context(), &candidate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(GraphResponse{Graph: created, Warnings: result.Warnings})
}

// UpdateGraph saves the body as the next version of the graph.
func (h *APIHandlers) UpdateGraph(c fiber.Ctx) error {
	var candidate models.WorkflowGraph

	if err := c.Bind().JSON(&candidate); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	updated, result, err := h.graphs.Update(c.Context(), c.Params("id"), &candidate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(GraphResponse{Graph: updated, Warnings: result.Warnings})
}

// ImportGraph accepts a candidate graph document as JSON or YAML, typically
// produced by the AI generator, and saves it only when it is fully valid.
func (h *APIHandlers) ImportGraph(c fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "request body is empty")
	}

	imported, result, err := h.graphs.Import(c.Context(), body, requestFormat(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(GraphResponse{Graph: imported, Warnings: result.Warnings})
}

// ValidateGraph checks a graph document without saving it.
func (h *APIHandlers) ValidateGraph(c fiber.Ctx) error {
	candidate, err := services.Decode(c.Body(), requestFormat(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	result, err := h.graphs.Validate(candidate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ValidateGraphResponse{
		Valid:      result.Valid(),
		Violations: result.Violations,
		Warnings:   result.Warnings,
	})
}

func (h *APIHandlers) ActivateGraph(c fiber.Ctx) error {
	state, err := h.graphs.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(state)
}

// DeactivateGraph stops new runs. With ?cancel_runs=true the runs in flight
// are cancelled too; otherwise they drain.
func (h *APIHandlers) DeactivateGraph(c fiber.Ctx) error {
	cancelRuns := false

	if raw := c.Query("cancel_runs"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "cancel_runs must be a boolean")
		}

		cancelRuns = parsed
	}

	state, cancelled, err := h.graphs.Deactivate(c.Context(), c.Params("id"), cancelRuns)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(DeactivateGraphResponse{Graph: state, CancelledRuns: cancelled})
}

func (h *APIHandlers) ListGraphRuns(c fiber.Ctx) error {
	runs, err := h.runs.ListByGraph(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runs.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	run, err := h.runs.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

// PublishTrigger is the webhook trigger source: it starts one run per active
// graph listening for the trigger type.
func (h *APIHandlers) PublishTrigger(c fiber.Ctx) error {
	var req PublishTriggerRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	triggerType := models.TriggerType(c.Params("type"))

	runs, err := h.triggers.Publish(c.Context(), triggerType, req.Payload)
	if err != nil && len(runs) == 0 && services.IsValidationError(err) {
		return handleServiceError(c, err)
	}

	response := PublishTriggerResponse{TriggerType: triggerType, RunIDs: make([]string, 0, len(runs))}
	for _, run := range runs {
		response.RunIDs = append(response.RunIDs, run.ID)
	}

	if err != nil {
		for line := range strings.SplitSeq(err.Error(), "\n") {
			response.Errors = append(response.Errors, line)
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func requestFormat(c fiber.Ctx) string {
	if format := c.Query("format"); format != "" {
		return format
	}

	contentType := strings.ToLower(c.Get(fiber.HeaderContentType))

	switch {
	case strings.Contains(contentType, "yaml"):
		return services.FormatYAML
	case strings.Contains(contentType, "json"):
		return services.FormatJSON
	default:
		return ""
	}
}
