package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nexuspro/flows/pkg/expression"
	"github.com/nexuspro/flows/pkg/graph"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

// Canceller cancels runs on behalf of the services. The supervisor
// implements it.
type Canceller interface {
	CancelRun(ctx context.Context, runID string) (*models.RunRecord, error)
	CancelGraphRuns(ctx context.Context, graphID string) (int, error)
}

type Graphs struct {
	persistence persistence.Persistence
	params      graph.ParamChecker
	evaluator   *expression.Evaluator
	canceller   Canceller
	logger      *slog.Logger
}

type GraphsOption func(*Graphs)

// WithParamChecker checks action params against the registered adapters.
func WithParamChecker(checker graph.ParamChecker) GraphsOption {
	return func(g *Graphs) {
		g.params = checker
	}
}

func WithEvaluator(evaluator *expression.Evaluator) GraphsOption {
	return func(g *Graphs) {
		g.evaluator = evaluator
	}
}

// WithCanceller enables Deactivate to cancel the runs of a graph.
func WithCanceller(canceller Canceller) GraphsOption {
	return func(g *Graphs) {
		g.canceller = canceller
	}
}

// NewGraphs creates a new graph service.
func NewGraphs(logger *slog.Logger, persistence persistence.Persistence, opts ...GraphsOption) *Graphs {
	g := &Graphs{
		persistence: persistence,
		logger:      logger.With("module", "graphs"),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// HealthCheck checks the health of the persistence layer.
func (g *Graphs) HealthCheck(ctx context.Context) (string, bool) {
	if g.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := g.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Validate checks a graph without saving it.
func (g *Graphs) Validate(wg *models.WorkflowGraph) (graph.ValidationResult, error) {
	if wg == nil {
		return graph.ValidationResult{}, ErrGraphNil
	}

	opts := []graph.Option{}
	if g.params != nil {
		opts = append(opts, graph.WithParamChecker(g.params))
	}

	if g.evaluator != nil {
		opts = append(opts, graph.WithEvaluator(g.evaluator))
	}

	return graph.Validate(wg, opts...), nil
}

// Create validates and saves a new graph as version 1. The graph starts
// inactive.
func (g *Graphs) Create(ctx context.Context, wg *models.WorkflowGraph) (*models.WorkflowGraph, graph.ValidationResult, error) {
	if wg == nil {
		return nil, graph.ValidationResult{}, ErrGraphNil
	}

	wg.ID = ""

	return g.save(ctx, wg)
}

// Update validates wg and saves it as the next version of graph id. Runs
// already started stay on the version they were pinned to.
func (g *Graphs) Update(ctx context.Context, id string, wg *models.WorkflowGraph) (*models.WorkflowGraph, graph.ValidationResult, error) {
	if wg == nil {
		return nil, graph.ValidationResult{}, ErrGraphNil
	}

	if _, err := g.persistence.GraphRepository().GraphState(ctx, id); err != nil {
		return nil, graph.ValidationResult{}, err
	}

	wg.ID = id

	return g.save(ctx, wg)
}

// Import decodes a candidate graph document (JSON or YAML), validates it and
// saves it as a new graph. Nothing is repaired: a candidate with any
// violation is rejected as a whole.
func (g *Graphs) Import(ctx context.Context, data []byte, format string) (*models.WorkflowGraph, graph.ValidationResult, error) {
	wg, err := Decode(data, format)
	if err != nil {
		return nil, graph.ValidationResult{}, err
	}

	return g.Create(ctx, wg)
}

func (g *Graphs) save(ctx context.Context, wg *models.WorkflowGraph) (*models.WorkflowGraph, graph.ValidationResult, error) {
	result, err := g.Validate(wg)
	if err != nil {
		return nil, result, err
	}

	if err := result.Err(wg.ID); err != nil {
		return nil, result, err
	}

	id, version, err := g.persistence.GraphRepository().SaveGraph(ctx, wg)
	if err != nil {
		return nil, result, fmt.Errorf("failed to save graph: %w", err)
	}

	g.logger.InfoContext(ctx, "Graph saved", "graph_id", id, "graph_version", version, "warnings", len(result.Warnings))

	saved, err := g.persistence.GraphRepository().LoadGraph(ctx, id, version)
	if err != nil {
		return nil, result, err
	}

	return saved, result, nil
}

// Get returns one version of a graph; version 0 is the latest.
func (g *Graphs) Get(ctx context.Context, id string, version int) (*models.WorkflowGraph, error) {
	return g.persistence.GraphRepository().LoadGraph(ctx, id, version)
}

func (g *Graphs) State(ctx context.Context, id string) (*models.GraphState, error) {
	return g.persistence.GraphRepository().GraphState(ctx, id)
}

func (g *Graphs) List(ctx context.Context) ([]*models.GraphState, error) {
	return g.persistence.GraphRepository().ListGraphs(ctx)
}

// Activate revalidates the latest version against the current adapters and
// marks the graph active so triggers start runs of it.
func (g *Graphs) Activate(ctx context.Context, id string) (*models.GraphState, error) {
	latest, err := g.persistence.GraphRepository().LoadGraph(ctx, id, persistence.LatestVersion)
	if err != nil {
		return nil, err
	}

	result, err := g.Validate(latest)
	if err != nil {
		return nil, err
	}

	if err := result.Err(id); err != nil {
		return nil, err
	}

	if err := g.persistence.GraphRepository().SetActive(ctx, id, true); err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "Graph activated", "graph_id", id, "graph_version", latest.Version)

	return g.State(ctx, id)
}

// Deactivate stops new runs of graph id. Runs in flight drain against their
// pinned version unless cancelRuns is set, in which case they are cancelled.
// The number of cancelled runs is returned.
func (g *Graphs) Deactivate(ctx context.Context, id string, cancelRuns bool) (*models.GraphState, int, error) {
	if err := g.persistence.GraphRepository().SetActive(ctx, id, false); err != nil {
		return nil, 0, err
	}

	g.logger.InfoContext(ctx, "Graph deactivated", "graph_id", id, "cancel_runs", cancelRuns)

	cancelled := 0

	if cancelRuns {
		if g.canceller == nil {
			return nil, 0, NewValidationError("Deactivate", "cancel_unavailable", "run cancellation is not available", ErrInvalidRequest)
		}

		n, err := g.canceller.CancelGraphRuns(ctx, id)
		if err != nil {
			return nil, n, fmt.Errorf("failed to cancel runs of graph %s: %w", id, err)
		}

		cancelled = n
	}

	state, err := g.State(ctx, id)
	if err != nil {
		return nil, cancelled, err
	}

	return state, cancelled, nil
}
