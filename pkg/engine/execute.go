package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/otelhelper"
	"github.com/nexuspro/flows/pkg/persistence"
	"github.com/nexuspro/flows/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Execute walks run from CurrentNodeID until it leaves running. Node
// failures, and checkpoints that still conflict after one retry, fail the run
// without producing an error. The error reports store failures and context
// cancellation, in which case the run stays running in the store and is
// recovered later.
func (e *Engine) Execute(ctx context.Context, run *models.RunRecord) (result *models.RunRecord, err error) {
	if run.Status != models.RunStatusRunning {
		return run, fmt.Errorf("%w: %s is %s", ErrRunNotRunning, run.ID, run.Status)
	}

	defer e.track(run.ID)()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "run.execute", runAttributes(run)...)
	defer span.End()

	logger := e.logger.With("run_id", run.ID, "graph_id", run.GraphID, "graph_version", run.GraphVersion)

	g, err := e.Graph(ctx, run)
	if err != nil {
		return e.fail(ctx, logger, run, nil, fmt.Errorf("failed to load pinned graph: %w", err), models.RunStatusRunning)
	}

	var current *models.Node

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Recovered panic in run", "node_id", run.CurrentNodeID, "panic", r)
			result, err = e.fail(ctx, logger, run, current, fmt.Errorf("%w: %v", ErrPanic, r), models.RunStatusRunning)
		}
	}()

	for first := true; run.Status == models.RunStatusRunning; first = false {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		// The stored record is authoritative: a cancel may have landed from
		// another process after run was loaded, so it is re-read on entry and
		// before every step with external side effects.
		if first || e.cancelRequested(run.ID) || sideEffecting(g.Nodes[run.CurrentNodeID]) {
			stopped, err := e.refresh(ctx, run)
			if err != nil {
				return run, err
			}

			if stopped {
				logger.InfoContext(ctx, "Run no longer running, stopping", "status", run.Status)

				return run, nil
			}
		}

		node, ok := g.Nodes[run.CurrentNodeID]
		if !ok || node == nil {
			return e.fail(ctx, logger, run, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, run.CurrentNodeID), models.RunStatusRunning)
		}

		current = node

		if err := e.step(ctx, logger, g, run, node); err != nil {
			if errors.Is(err, errStopped) {
				logger.InfoContext(ctx, "Run changed by another writer, stopping", "status", run.Status)

				return run, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return run, ctxErr
			}

			if persistence.IsConcurrencyConflict(err) {
				otelhelper.RecordFailure(span, err, otelhelper.FailureConflict)
				logger.ErrorContext(ctx, "Checkpoint kept conflicting, failing run", "node_id", node.ID, "error", err)

				return e.fail(ctx, logger, run, node, err, models.RunStatusRunning)
			}

			otelhelper.RecordFailure(span, err, otelhelper.FailureInternal)

			return run, err
		}
	}

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))

	return run, nil
}

// step executes one node and checkpoints the transition.
func (e *Engine) step(ctx context.Context, logger *slog.Logger, g *models.WorkflowGraph, run *models.RunRecord, node *models.Node) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "node."+string(node.Kind),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
	)
	defer span.End()

	logger = logger.With("node_id", node.ID, "kind", node.Kind)
	logger.DebugContext(ctx, "Executing node")

	switch node.Kind {
	case models.NodeKindTrigger:
		e.record(run, node, models.OutcomeSucceeded, "", "")

		return e.advance(ctx, logger, g, run, node)
	case models.NodeKindAction:
		if node.Action == nil {
			return e.failStep(ctx, logger, run, node, errors.New("action node has no action block"))
		}

		if node.Action.Type == models.ActionTypeWait {
			return e.suspend(ctx, logger, run, node, node.Action.Duration.Std())
		}

		return e.runAction(ctx, logger, g, run, node, span)
	case models.NodeKindCondition:
		if node.Condition == nil {
			return e.failStep(ctx, logger, run, node, errors.New("condition node has no condition block"))
		}

		return e.evaluate(ctx, logger, g, run, node)
	case models.NodeKindDelay:
		if node.Delay == nil {
			return e.failStep(ctx, logger, run, node, errors.New("delay node has no delay block"))
		}

		return e.suspend(ctx, logger, run, node, node.Delay.Duration.Std())
	}

	return e.failStep(ctx, logger, run, node, fmt.Errorf("unsupported node kind %q", node.Kind))
}

func (e *Engine) runAction(ctx context.Context, logger *slog.Logger, g *models.WorkflowGraph, run *models.RunRecord, node *models.Node, span trace.Span) error {
	action := node.Action
	span.SetAttributes(attribute.String(otelhelper.ActionTypeKey, string(action.Type)))

	params, err := e.renderer.RenderParams(action.Params, run.Variables)
	if err != nil {
		return e.failStep(ctx, logger, run, node, fmt.Errorf("failed to interpolate params: %w", err))
	}

	output, err := e.call(ctx, run, node, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		kind := otelhelper.FailureAdapter

		var adapterErr *AdapterError
		if errors.As(err, &adapterErr) && adapterErr.TimedOut {
			kind = otelhelper.FailureTimeout
		}

		otelhelper.RecordFailure(span, err, kind)

		return e.failStep(ctx, logger, run, node, err)
	}

	if run.Variables == nil {
		run.Variables = map[string]string{}
	}

	maps.Copy(run.Variables, output)
	e.record(run, node, models.OutcomeSucceeded, "", "")

	logger.InfoContext(ctx, "Action executed", "action_type", action.Type, "outputs", len(output))

	return e.advance(ctx, logger, g, run, node)
}

type callResult struct {
	output map[string]string
	err    error
}

// call runs the adapter in its own goroutine so an adapter that ignores its
// context still fails the run once its timeout elapses.
func (e *Engine) call(ctx context.Context, run *models.RunRecord, node *models.Node, params map[string]string) (map[string]string, error) {
	actionType := node.Action.Type
	timeout := e.actions.Timeout(actionType)

	callCtx := protocol.WithIdempotencyKey(ctx, protocol.NodeIdempotencyKey(run.ID, node.ID))

	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(callCtx)
	}
	defer cancel()

	done := make(chan callResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("%w: adapter: %v", ErrPanic, r)}
			}
		}()

		output, err := e.actions.Execute(callCtx, actionType, params, timeout)
		done <- callResult{output: output, err: err}
	}()

	adapterErr := &AdapterError{NodeID: node.ID, ActionType: actionType, Timeout: timeout}

	select {
	case res := <-done:
		if res.err == nil {
			return res.output, nil
		}

		adapterErr.Err = res.err
		adapterErr.TimedOut = errors.Is(res.err, context.DeadlineExceeded) ||
			errors.Is(callCtx.Err(), context.DeadlineExceeded)
	case <-callCtx.Done():
		adapterErr.Err = callCtx.Err()
		adapterErr.TimedOut = errors.Is(callCtx.Err(), context.DeadlineExceeded)
	}

	return nil, adapterErr
}

func (e *Engine) evaluate(ctx context.Context, logger *slog.Logger, g *models.WorkflowGraph, run *models.RunRecord, node *models.Node) error {
	ok, err := e.evaluator.EvalBool(node.Condition.Expression, run.Variables)
	if err != nil {
		return e.failStep(ctx, logger, run, node, err)
	}

	port := models.PortFalse
	if ok {
		port = models.PortTrue
	}

	edge, found := g.Next(node.ID, port)
	if !found {
		return e.failStep(ctx, logger, run, node, fmt.Errorf("%w %q", ErrNoBranch, port))
	}

	e.record(run, node, models.OutcomeSucceeded, port, "")
	run.CurrentNodeID = edge.TargetNodeID

	logger.DebugContext(ctx, "Condition evaluated", "port", port, "next_node_id", edge.TargetNodeID)

	return e.checkpoint(ctx, run, models.RunStatusRunning)
}

// suspend parks the run at node until now+d. CurrentNodeID stays on node so
// ResumeRun can follow its outgoing edge.
func (e *Engine) suspend(ctx context.Context, logger *slog.Logger, run *models.RunRecord, node *models.Node, d time.Duration) error {
	if d <= 0 {
		return e.failStep(ctx, logger, run, node, errors.New("suspension duration must be positive"))
	}

	resumeAt := e.now().UTC().Add(d)

	run.Status = models.RunStatusSuspended
	run.ResumeAt = &resumeAt
	e.record(run, node, models.OutcomeSuspended, "", "")

	if err := e.checkpoint(ctx, run, models.RunStatusRunning); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Run suspended", "resume_at", resumeAt)
	e.emit(ctx, run, false)

	if scheduler := e.currentScheduler(); scheduler != nil {
		scheduler.ScheduleResume(run.ID, run.GraphID, resumeAt)
	}

	return nil
}

// advance follows the single outgoing edge of node, completing the run when
// node is terminal.
func (e *Engine) advance(ctx context.Context, logger *slog.Logger, g *models.WorkflowGraph, run *models.RunRecord, node *models.Node) error {
	edge, ok := g.Next(node.ID, "")
	if ok {
		run.CurrentNodeID = edge.TargetNodeID

		return e.checkpoint(ctx, run, models.RunStatusRunning)
	}

	e.complete(run)

	if err := e.checkpoint(ctx, run, models.RunStatusRunning); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Run completed")
	e.emit(ctx, run, false)

	return nil
}

func (e *Engine) complete(run *models.RunRecord) {
	now := e.now().UTC()

	run.Status = models.RunStatusCompleted
	run.ResumeAt = nil
	run.CompletedAt = &now
}

func (e *Engine) failStep(ctx context.Context, logger *slog.Logger, run *models.RunRecord, node *models.Node, cause error) error {
	_, err := e.fail(ctx, logger, run, node, cause, models.RunStatusRunning)

	return err
}

// fail terminates run as failed and records node and cause in its history.
// expected is the status the stored record must still have for a conflicting
// write to be retried.
func (e *Engine) fail(ctx context.Context, logger *slog.Logger, run *models.RunRecord, node *models.Node, cause error, expected models.RunStatus) (*models.RunRecord, error) {
	now := e.now().UTC()

	run.Status = models.RunStatusFailed
	run.Error = cause.Error()
	run.ResumeAt = nil
	run.CompletedAt = &now

	entry := models.HistoryEntry{
		NodeID:    run.CurrentNodeID,
		Outcome:   models.OutcomeFailed,
		Error:     cause.Error(),
		Timestamp: now,
	}

	if node != nil {
		entry.NodeID = node.ID
		entry.Kind = node.Kind
	}

	run.History = append(run.History, entry)

	logger.ErrorContext(ctx, "Run failed", "node_id", entry.NodeID, "error", cause)

	if err := e.checkpoint(ctx, run, expected); err != nil {
		if errors.Is(err, errStopped) {
			return run, nil
		}

		return run, err
	}

	e.emit(ctx, run, false)

	return run, nil
}

func (e *Engine) record(run *models.RunRecord, node *models.Node, outcome, port, errMessage string) {
	run.History = append(run.History, models.HistoryEntry{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Outcome:   outcome,
		Port:      port,
		Error:     errMessage,
		Timestamp: e.now().UTC(),
	})
}

// checkpoint writes run conditioned on its revision. On a conflict the run is
// reloaded once: if the stored status is no longer expected the stored record
// is adopted and errStopped returned, otherwise the write is retried once.
func (e *Engine) checkpoint(ctx context.Context, run *models.RunRecord, expected models.RunStatus) error {
	err := e.runs.SaveRun(ctx, run)
	if err == nil || !persistence.IsConcurrencyConflict(err) {
		return err
	}

	stored, loadErr := e.runs.LoadRun(ctx, run.ID)
	if loadErr != nil {
		return fmt.Errorf("failed to reload run after conflict: %w", loadErr)
	}

	if stored.Status != expected {
		*run = *stored

		return errStopped
	}

	run.Revision = stored.Revision

	if err := e.runs.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("checkpoint retry failed: %w", err)
	}

	return nil
}

// refresh replaces run with the stored record when the two differ and reports
// whether the stored record has left running.
func (e *Engine) refresh(ctx context.Context, run *models.RunRecord) (bool, error) {
	stored, err := e.runs.LoadRun(ctx, run.ID)
	if err != nil {
		return false, fmt.Errorf("failed to refresh run: %w", err)
	}

	if stored.Revision != run.Revision || stored.Status != run.Status {
		*run = *stored
	}

	return run.Status != models.RunStatusRunning, nil
}

// sideEffecting reports whether executing node calls an external adapter.
func sideEffecting(node *models.Node) bool {
	return node != nil &&
		node.Kind == models.NodeKindAction &&
		node.Action != nil &&
		node.Action.Type != models.ActionTypeWait
}
