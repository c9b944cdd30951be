// Package persistence provides the durable store for graph versions and run records.
package persistence

import (
	"context"

	"github.com/nexuspro/flows/pkg/models"
)

// LatestVersion asks LoadGraph for the newest version of a graph.
const LatestVersion = 0

type Persistence interface {
	GraphRepository() GraphRepository
	RunRepository() RunRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// GraphRepository stores immutable graph versions plus one mutable state
// record per graph.
type GraphRepository interface {
	// SaveGraph writes graph as a new version and returns its id and version.
	// An empty graph.ID creates a new graph. Prior versions are never overwritten.
	SaveGraph(ctx context.Context, graph *models.WorkflowGraph) (string, int, error)

	// LoadGraph returns one version, or the newest when version is LatestVersion.
	LoadGraph(ctx context.Context, id string, version int) (*models.WorkflowGraph, error)

	SetActive(ctx context.Context, id string, active bool) error
	GraphState(ctx context.Context, id string) (*models.GraphState, error)
	ListGraphs(ctx context.Context) ([]*models.GraphState, error)

	// ActiveGraphs returns the newest version of every active graph.
	ActiveGraphs(ctx context.Context) ([]*models.WorkflowGraph, error)
}

// RunRepository stores run records with optimistic concurrency.
type RunRepository interface {
	// SaveRun writes run only if the stored revision equals run.Revision
	// (zero creates a record that must not exist yet). On success
	// run.Revision is incremented; otherwise ErrConcurrencyConflict is returned.
	SaveRun(ctx context.Context, run *models.RunRecord) error

	LoadRun(ctx context.Context, id string) (*models.RunRecord, error)

	// ListSuspendedRuns returns suspended runs ordered by resume time.
	ListSuspendedRuns(ctx context.Context) ([]*models.RunRecord, error)

	ListRunsByStatus(ctx context.Context, status models.RunStatus) ([]*models.RunRecord, error)
	ListRunsByGraph(ctx context.Context, graphID string) ([]*models.RunRecord, error)
}
