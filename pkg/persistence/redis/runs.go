package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

var runStatuses = []models.RunStatus{
	models.RunStatusRunning,
	models.RunStatusSuspended,
	models.RunStatusCompleted,
	models.RunStatusFailed,
	models.RunStatusCancelled,
}

// RunRepository stores each run as a Hash {revision, record}.
type RunRepository struct {
	client *goredis.Client
	logger *slog.Logger
}

// SaveRun checks the stored revision under WATCH. A concurrent write aborts
// the transaction and is reported as a conflict.
func (r *RunRepository) SaveRun(ctx context.Context, run *models.RunRecord) error {
	key := runKey(run.ID)

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

	err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
		stored, err := tx.HGet(ctx, key, "revision").Result()

		switch {
		case errors.Is(err, goredis.Nil):
			if run.Revision != 0 {
				return persistence.ErrConcurrencyConflict
			}
		case err != nil:
			return err
		default:
			if stored != strconv.FormatInt(run.Revision, 10) {
				return persistence.ErrConcurrencyConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "revision", next.Revision, "record", record)
			pipe.SAdd(ctx, runIDsKey, next.ID)
			pipe.SAdd(ctx, runGraphKey(next.GraphID), next.ID)

			for _, status := range runStatuses {
				if status != next.Status {
					pipe.SRem(ctx, runStatusKey(status), next.ID)
				}
			}

			pipe.SAdd(ctx, runStatusKey(next.Status), next.ID)

			if next.Status == models.RunStatusSuspended && next.ResumeAt != nil {
				pipe.ZAdd(ctx, suspendedKey, goredis.Z{Score: float64(next.ResumeAt.UnixMilli()), Member: next.ID})
			} else {
				pipe.ZRem(ctx, suspendedKey, next.ID)
			}

			return nil
		})

		return err
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		err = persistence.ErrConcurrencyConflict
	}

	if err != nil {
		return persistence.NewRunError("SaveRun", run.ID, run.Revision, err)
	}

	run.Revision = next.Revision
	run.UpdatedAt = next.UpdatedAt
	run.CreatedAt = next.CreatedAt

	return nil
}

func (r *RunRepository) LoadRun(ctx context.Context, id string) (*models.RunRecord, error) {
	record, err := r.client.HGet(ctx, runKey(id), "record").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, persistence.NewRunError("LoadRun", id, 0, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("LoadRun", id, 0, err)
	}

	var run models.RunRecord

	if err := json.Unmarshal(record, &run); err != nil {
		return nil, persistence.NewRunError("LoadRun", id, 0, err)
	}

	return &run, nil
}

// ListSuspendedRuns reads the resume-time index. Runs without a resume time
// are appended after it.
func (r *RunRepository) ListSuspendedRuns(ctx context.Context) ([]*models.RunRecord, error) {
	scheduled, err := r.client.ZRange(ctx, suspendedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read suspended index: %w", err)
	}

	runs, err := r.load(ctx, scheduled, models.RunStatusSuspended)
	if err != nil {
		return nil, err
	}

	all, err := r.ListRunsByStatus(ctx, models.RunStatusSuspended)
	if err != nil {
		return nil, err
	}

	for _, run := range all {
		if run.ResumeAt == nil {
			runs = append(runs, run)
		}
	}

	persistence.SortByResumeAt(runs)

	return runs, nil
}

func (r *RunRepository) ListRunsByStatus(ctx context.Context, status models.RunStatus) ([]*models.RunRecord, error) {
	ids, err := r.client.SMembers(ctx, runStatusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status index: %w", err)
	}

	runs, err := r.load(ctx, ids, status)
	if err != nil {
		return nil, err
	}

	persistence.SortByCreatedAt(runs)

	return runs, nil
}

func (r *RunRepository) ListRunsByGraph(ctx context.Context, graphID string) ([]*models.RunRecord, error) {
	ids, err := r.client.SMembers(ctx, runGraphKey(graphID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read graph index: %w", err)
	}

	runs, err := r.load(ctx, ids, "")
	if err != nil {
		return nil, err
	}

	persistence.SortByCreatedAt(runs)

	return runs, nil
}

// load fetches ids, dropping stale index entries whose status no longer matches.
func (r *RunRepository) load(ctx context.Context, ids []string, status models.RunStatus) ([]*models.RunRecord, error) {
	runs := make([]*models.RunRecord, 0, len(ids))

	for _, id := range ids {
		run, err := r.LoadRun(ctx, id)
		if persistence.IsRunNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if status != "" && run.Status != status {
			continue
		}

		runs = append(runs, run)
	}

	return runs, nil
}
