package web

import (
	"github.com/nexuspro/flows/pkg/graph"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/supervisor"
)

// GraphResponse returns a saved graph version with its validation warnings.
type GraphResponse struct {
	Graph    *models.WorkflowGraph `json:"graph"`
	Warnings []graph.Violation     `json:"warnings,omitempty"`
}

// ValidateGraphResponse is the result of a dry-run validation.
type ValidateGraphResponse struct {
	Valid      bool              `json:"valid"`
	Violations []graph.Violation `json:"violations"`
	Warnings   []graph.Violation `json:"warnings,omitempty"`
}

type DeactivateGraphResponse struct {
	Graph         *models.GraphState `json:"graph"`
	CancelledRuns int                `json:"cancelled_runs"`
}

// PublishTriggerRequest is the webhook body for POST /triggers/:type.
type PublishTriggerRequest struct {
	Payload map[string]string `json:"payload" validate:"dive,keys,required,endkeys"`
}

// PublishTriggerResponse lists the runs a trigger event started. Errors holds
// the graphs that failed to start without failing the whole request.
type PublishTriggerResponse struct {
	TriggerType models.TriggerType `json:"trigger_type"`
	RunIDs      []string           `json:"run_ids"`
	Errors      []string           `json:"errors,omitempty"`
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Runs    *supervisor.Stats `json:"runs,omitempty"`
}
