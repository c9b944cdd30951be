package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

// GraphRepository handles graph-related database operations.
type GraphRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewGraphRepository creates a new graph repository.
func NewGraphRepository(db *sql.DB, logger *slog.Logger) *GraphRepository {
	return &GraphRepository{db: db, logger: logger}
}

// SaveGraph bumps latest_version and inserts the new definition in one transaction.
func (r *GraphRepository) SaveGraph(ctx context.Context, graph *models.WorkflowGraph) (string, int, error) {
	if graph.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", 0, fmt.Errorf("failed to generate graph id: %w", err)
		}

		graph.ID = id.String()
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rbErr)
		}
	}()

	var version int

	err = tx.QueryRowContext(ctx, `
		INSERT INTO graphs (id, name, latest_version, active, created_at, updated_at)
		VALUES ($1, $2, 1, false, $3, $3)
		ON CONFLICT (id) DO UPDATE SET
			latest_version = graphs.latest_version + 1,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
		RETURNING latest_version`,
		graph.ID, graph.Name, now,
	).Scan(&version)
	if err != nil {
		return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, 0, err)
	}

	graph.Version = version
	graph.CreatedAt = now

	definition, err := json.Marshal(graph)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal graph %s: %w", graph.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO graph_versions (graph_id, version, definition, created_at)
		VALUES ($1, $2, $3, $4)`,
		graph.ID, version, definition, now,
	)
	if err != nil {
		return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, version, err)
	}

	err = tx.Commit()
	if err != nil {
		return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, version, err)
	}

	return graph.ID, version, nil
}

func (r *GraphRepository) LoadGraph(ctx context.Context, id string, version int) (*models.WorkflowGraph, error) {
	var row *sql.Row

	if version == persistence.LatestVersion {
		row = r.db.QueryRowContext(ctx, `
			SELECT v.definition FROM graph_versions v
			JOIN graphs g ON g.id = v.graph_id AND g.latest_version = v.version
			WHERE g.id = $1`, id)
	} else {
		row = r.db.QueryRowContext(ctx, `
			SELECT definition FROM graph_versions
			WHERE graph_id = $1 AND version = $2`, id, version)
	}

	graph, err := scanGraph(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, stateErr := r.GraphState(ctx, id); stateErr != nil {
			return nil, stateErr
		}

		return nil, persistence.NewGraphError("LoadGraph", id, version, persistence.ErrGraphVersionNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("LoadGraph", id, version, err)
	}

	return graph, nil
}

func (r *GraphRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE graphs SET active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewGraphError("SetActive", id, 0, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewGraphError("SetActive", id, 0, err)
	}

	if affected == 0 {
		return persistence.NewGraphError("SetActive", id, 0, persistence.ErrGraphNotFound)
	}

	return nil
}

func (r *GraphRepository) GraphState(ctx context.Context, id string) (*models.GraphState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, latest_version, active, created_at, updated_at
		FROM graphs WHERE id = $1`, id)

	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewGraphError("GraphState", id, 0, persistence.ErrGraphNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("GraphState", id, 0, err)
	}

	return state, nil
}

func (r *GraphRepository) ListGraphs(ctx context.Context) ([]*models.GraphState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, latest_version, active, created_at, updated_at
		FROM graphs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query graphs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	states := make([]*models.GraphState, 0)

	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph state: %w", err)
		}

		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate graphs: %w", err)
	}

	return states, nil
}

func (r *GraphRepository) ActiveGraphs(ctx context.Context) ([]*models.WorkflowGraph, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT v.definition FROM graph_versions v
		JOIN graphs g ON g.id = v.graph_id AND g.latest_version = v.version
		WHERE g.active
		ORDER BY g.created_at, g.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active graphs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	graphs := make([]*models.WorkflowGraph, 0)

	for rows.Next() {
		graph, err := scanGraph(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph: %w", err)
		}

		graphs = append(graphs, graph)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active graphs: %w", err)
	}

	return graphs, nil
}

func scanGraph(row scanner) (*models.WorkflowGraph, error) {
	var definition []byte

	err := row.Scan(&definition)
	if err != nil {
		return nil, err
	}

	var graph models.WorkflowGraph

	err = json.Unmarshal(definition, &graph)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph definition: %w", err)
	}

	return &graph, nil
}

func scanState(row scanner) (*models.GraphState, error) {
	var state models.GraphState

	err := row.Scan(&state.ID, &state.Name, &state.LatestVersion, &state.Active, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}

	state.CreatedAt = state.CreatedAt.UTC()
	state.UpdatedAt = state.UpdatedAt.UTC()

	return &state, nil
}
