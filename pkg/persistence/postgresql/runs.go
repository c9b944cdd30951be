package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

// RunRepository keeps the full run record as JSONB next to the indexed columns.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// SaveRun inserts when run.Revision is zero and otherwise updates guarded by
// the expected revision.
func (r *RunRepository) SaveRun(ctx context.Context, run *models.RunRecord) error {
	next := run.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()

	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}

	record, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	var result sql.Result

	if run.Revision == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO runs (id, graph_id, graph_version, status, resume_at, revision, record, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			next.ID, next.GraphID, next.GraphVersion, next.Status, next.ResumeAt, next.Revision, record, next.CreatedAt, next.UpdatedAt,
		)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE runs SET
				graph_id = $2, graph_version = $3, status = $4, resume_at = $5,
				revision = $6, record = $7, updated_at = $8
			WHERE id = $1 AND revision = $9`,
			next.ID, next.GraphID, next.GraphVersion, next.Status, next.ResumeAt, next.Revision, record, next.UpdatedAt, run.Revision,
		)
	}

	if err != nil {
		return persistence.NewRunError("SaveRun", run.ID, run.Revision, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("SaveRun", run.ID, run.Revision, err)
	}

	if affected == 0 {
		return persistence.NewRunError("SaveRun", run.ID, run.Revision, persistence.ErrConcurrencyConflict)
	}

	run.Revision = next.Revision
	run.UpdatedAt = next.UpdatedAt
	run.CreatedAt = next.CreatedAt

	return nil
}

func (r *RunRepository) LoadRun(ctx context.Context, id string) (*models.RunRecord, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, "SELECT record FROM runs WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("LoadRun", id, 0, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("LoadRun", id, 0, err)
	}

	return run, nil
}

func (r *RunRepository) ListSuspendedRuns(ctx context.Context) ([]*models.RunRecord, error) {
	return r.query(ctx, `
		SELECT record FROM runs WHERE status = $1
		ORDER BY resume_at NULLS LAST, id`, models.RunStatusSuspended)
}

func (r *RunRepository) ListRunsByStatus(ctx context.Context, status models.RunStatus) ([]*models.RunRecord, error) {
	return r.query(ctx, "SELECT record FROM runs WHERE status = $1 ORDER BY created_at, id", status)
}

func (r *RunRepository) ListRunsByGraph(ctx context.Context, graphID string) ([]*models.RunRecord, error) {
	return r.query(ctx, "SELECT record FROM runs WHERE graph_id = $1 ORDER BY created_at, id", graphID)
}

func (r *RunRepository) query(ctx context.Context, query string, args ...any) ([]*models.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.RunRecord, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func scanRun(row scanner) (*models.RunRecord, error) {
	var record []byte

	err := row.Scan(&record)
	if err != nil {
		return nil, err
	}

	var run models.RunRecord

	err = json.Unmarshal(record, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}

	return &run, nil
}
