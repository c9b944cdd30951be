package services

import (
	"context"
	"log/slog"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

type Runs struct {
	runs      persistence.RunRepository
	graphs    persistence.GraphRepository
	canceller Canceller
	logger    *slog.Logger
}

// NewRuns creates a new run service.
func NewRuns(logger *slog.Logger, persistence persistence.Persistence, canceller Canceller) *Runs {
	return &Runs{
		runs:      persistence.RunRepository(),
		graphs:    persistence.GraphRepository(),
		canceller: canceller,
		logger:    logger.With("module", "runs"),
	}
}

func (r *Runs) Get(ctx context.Context, id string) (*models.RunRecord, error) {
	return r.runs.LoadRun(ctx, id)
}

// ListByGraph returns the runs of an existing graph, oldest first.
func (r *Runs) ListByGraph(ctx context.Context, graphID string) ([]*models.RunRecord, error) {
	if _, err := r.graphs.GraphState(ctx, graphID); err != nil {
		return nil, err
	}

	return r.runs.ListRunsByGraph(ctx, graphID)
}

// Cancel cancels a running or suspended run. Cancelling a cancelled run is a
// no-op; completed and failed runs return ErrRunTerminal.
func (r *Runs) Cancel(ctx context.Context, id string) (*models.RunRecord, error) {
	run, err := r.canceller.CancelRun(ctx, id)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "Run cancelled by request", "run_id", id)

	return run, nil
}
