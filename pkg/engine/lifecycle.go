package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

// ResumeRun continues a suspended run along the outgoing edge of the node it
// is parked on, against its pinned graph version. Cancelled runs are
// returned unchanged.
func (e *Engine) ResumeRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	run, err := e.runs.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("run_id", run.ID, "graph_id", run.GraphID, "graph_version", run.GraphVersion)

	switch run.Status {
	case models.RunStatusSuspended:
	case models.RunStatusCancelled:
		logger.InfoContext(ctx, "Skipping resume of cancelled run")

		return run, nil
	default:
		return run, fmt.Errorf("%w: %s is %s", ErrRunNotSuspended, run.ID, run.Status)
	}

	g, err := e.Graph(ctx, run)
	if err != nil {
		return e.fail(ctx, logger, run, nil, fmt.Errorf("failed to load pinned graph: %w", err), models.RunStatusSuspended)
	}

	node, ok := g.Nodes[run.CurrentNodeID]
	if !ok || node == nil {
		return e.fail(ctx, logger, run, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, run.CurrentNodeID), models.RunStatusSuspended)
	}

	e.record(run, node, models.OutcomeResumed, "", "")
	run.Status = models.RunStatusRunning
	run.ResumeAt = nil

	edge, ok := g.Next(node.ID, "")
	if ok {
		run.CurrentNodeID = edge.TargetNodeID
	} else {
		e.complete(run)
	}

	if err := e.checkpoint(ctx, run, models.RunStatusSuspended); err != nil {
		if errors.Is(err, errStopped) {
			logger.InfoContext(ctx, "Run changed before resume, skipping", "status", run.Status)

			return run, nil
		}

		if persistence.IsConcurrencyConflict(err) {
			return e.fail(ctx, logger, run, node, err, models.RunStatusSuspended)
		}

		return run, err
	}

	logger.InfoContext(ctx, "Run resumed", "node_id", run.CurrentNodeID)

	if run.Status == models.RunStatusCompleted {
		e.emit(ctx, run, false)

		return run, nil
	}

	e.emit(ctx, run, true)

	return e.Execute(ctx, run)
}

// CancelRun moves a running or suspended run to cancelled. Cancelling a
// cancelled run is a no-op; completed and failed runs return ErrRunTerminal.
// A conflicting write is retried once against the reloaded record.
func (e *Engine) CancelRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	var lastErr error

	for range 2 {
		run, err := e.runs.LoadRun(ctx, runID)
		if err != nil {
			return nil, err
		}

		if run.Status == models.RunStatusCancelled {
			return run, nil
		}

		if run.Status.IsTerminal() {
			return run, fmt.Errorf("%w: %s is %s", ErrRunTerminal, run.ID, run.Status)
		}

		now := e.now().UTC()

		run.History = append(run.History, models.HistoryEntry{
			NodeID:    run.CurrentNodeID,
			Outcome:   models.OutcomeCancelled,
			Timestamp: now,
		})
		run.Status = models.RunStatusCancelled
		run.ResumeAt = nil
		run.CompletedAt = &now

		lastErr = e.runs.SaveRun(ctx, run)
		if lastErr == nil {
			e.RequestCancel(run.ID)
			e.logger.InfoContext(ctx, "Run cancelled", "run_id", run.ID, "graph_id", run.GraphID)
			e.emit(ctx, run, false)

			return run, nil
		}

		if !persistence.IsConcurrencyConflict(lastErr) {
			return nil, lastErr
		}
	}

	return nil, lastErr
}
