package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

// RunRepository stores one JSON document per run.
type RunRepository struct {
	root string
	mu   sync.Mutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) runPath(id string) string {
	return filepath.Join(rr.root, "runs", id+".json")
}

// SaveRun performs a compare-and-swap on the stored revision.
func (rr *RunRepository) SaveRun(_ context.Context, run *models.RunRecord) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if err := validateID(run.ID); err != nil {
		return persistence.NewRunError("SaveRun", run.ID, run.Revision, err)
	}

	stored, err := rr.read(run.ID)
	if err != nil && !errors.Is(err, persistence.ErrRunNotFound) {
		return err
	}

	switch {
	case stored == nil && run.Revision != 0,
		stored != nil && stored.Revision != run.Revision:
		return persistence.NewRunError("SaveRun", run.ID, run.Revision, persistence.ErrConcurrencyConflict)
	}

	next := run.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()

	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}

	err = writeJSON(rr.runPath(run.ID), next)
	if err != nil {
		return persistence.NewRunError("SaveRun", run.ID, run.Revision, err)
	}

	run.Revision = next.Revision
	run.UpdatedAt = next.UpdatedAt
	run.CreatedAt = next.CreatedAt

	return nil
}

func (rr *RunRepository) LoadRun(_ context.Context, id string) (*models.RunRecord, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError("LoadRun", id, 0, err)
	}

	return rr.read(id)
}

func (rr *RunRepository) ListSuspendedRuns(_ context.Context) ([]*models.RunRecord, error) {
	runs, err := rr.list(func(run *models.RunRecord) bool {
		return run.Status == models.RunStatusSuspended
	})
	if err != nil {
		return nil, err
	}

	persistence.SortByResumeAt(runs)

	return runs, nil
}

func (rr *RunRepository) ListRunsByStatus(_ context.Context, status models.RunStatus) ([]*models.RunRecord, error) {
	return rr.list(func(run *models.RunRecord) bool {
		return run.Status == status
	})
}

func (rr *RunRepository) ListRunsByGraph(_ context.Context, graphID string) ([]*models.RunRecord, error) {
	return rr.list(func(run *models.RunRecord) bool {
		return run.GraphID == graphID
	})
}

func (rr *RunRepository) list(keep func(*models.RunRecord) bool) ([]*models.RunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(rr.root, "runs"))
	if errors.Is(err, os.ErrNotExist) {
		return []*models.RunRecord{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.RunRecord, 0)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}

		run, err := rr.read(strings.TrimSuffix(name, ".json"))
		if errors.Is(err, persistence.ErrRunNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if keep(run) {
			runs = append(runs, run)
		}
	}

	persistence.SortByCreatedAt(runs)

	return runs, nil
}

func (rr *RunRepository) read(id string) (*models.RunRecord, error) {
	var run models.RunRecord

	err := readJSON(rr.runPath(id), &run)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewRunError("LoadRun", id, 0, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("LoadRun", id, 0, err)
	}

	return &run, nil
}
