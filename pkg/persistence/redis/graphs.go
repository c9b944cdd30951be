package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

// GraphRepository keeps graph state Hashes and version strings.
type GraphRepository struct {
	client *goredis.Client
	logger *slog.Logger
}

func (r *GraphRepository) SaveGraph(ctx context.Context, graph *models.WorkflowGraph) (string, int, error) {
	if graph.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", 0, fmt.Errorf("failed to generate graph id: %w", err)
		}

		graph.ID = id.String()
	}

	stateKey := graphStateKey(graph.ID)

	for range maxWatchRetries {
		err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
			now := time.Now().UTC()

			vals, err := tx.HGetAll(ctx, stateKey).Result()
			if err != nil {
				return err
			}

			version := 1
			createdAt := now

			if len(vals) > 0 {
				state, err := stateFromMap(vals)
				if err != nil {
					return err
				}

				version = state.LatestVersion + 1
				createdAt = state.CreatedAt
			}

			graph.Version = version
			graph.CreatedAt = now

			definition, err := json.Marshal(graph)
			if err != nil {
				return fmt.Errorf("failed to marshal graph %s: %w", graph.ID, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, graphVersionKey(graph.ID, version), definition, 0)
				pipe.HSet(ctx, stateKey,
					"id", graph.ID,
					"name", graph.Name,
					"latest_version", version,
					"created_at", createdAt.Format(time.RFC3339Nano),
					"updated_at", now.Format(time.RFC3339Nano),
				)
				pipe.HSetNX(ctx, stateKey, "active", "0")
				pipe.SAdd(ctx, graphIDsKey, graph.ID)

				return nil
			})

			return err
		}, stateKey)

		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}

		if err != nil {
			return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, 0, err)
		}

		return graph.ID, graph.Version, nil
	}

	return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, 0, persistence.ErrConcurrencyConflict)
}

func (r *GraphRepository) LoadGraph(ctx context.Context, id string, version int) (*models.WorkflowGraph, error) {
	if version == persistence.LatestVersion {
		state, err := r.GraphState(ctx, id)
		if err != nil {
			return nil, err
		}

		version = state.LatestVersion
	}

	definition, err := r.client.Get(ctx, graphVersionKey(id, version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		if _, stateErr := r.GraphState(ctx, id); stateErr != nil {
			return nil, stateErr
		}

		return nil, persistence.NewGraphError("LoadGraph", id, version, persistence.ErrGraphVersionNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("LoadGraph", id, version, err)
	}

	var graph models.WorkflowGraph

	if err := json.Unmarshal(definition, &graph); err != nil {
		return nil, persistence.NewGraphError("LoadGraph", id, version, err)
	}

	return &graph, nil
}

func (r *GraphRepository) SetActive(ctx context.Context, id string, active bool) error {
	stateKey := graphStateKey(id)

	exists, err := r.client.Exists(ctx, stateKey).Result()
	if err != nil {
		return persistence.NewGraphError("SetActive", id, 0, err)
	}

	if exists == 0 {
		return persistence.NewGraphError("SetActive", id, 0, persistence.ErrGraphNotFound)
	}

	flag := "0"
	if active {
		flag = "1"
	}

	err = r.client.HSet(ctx, stateKey,
		"active", flag,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return persistence.NewGraphError("SetActive", id, 0, err)
	}

	return nil
}

func (r *GraphRepository) GraphState(ctx context.Context, id string) (*models.GraphState, error) {
	vals, err := r.client.HGetAll(ctx, graphStateKey(id)).Result()
	if err != nil {
		return nil, persistence.NewGraphError("GraphState", id, 0, err)
	}

	if len(vals) == 0 {
		return nil, persistence.NewGraphError("GraphState", id, 0, persistence.ErrGraphNotFound)
	}

	state, err := stateFromMap(vals)
	if err != nil {
		return nil, persistence.NewGraphError("GraphState", id, 0, err)
	}

	return state, nil
}

func (r *GraphRepository) ListGraphs(ctx context.Context) ([]*models.GraphState, error) {
	ids, err := r.client.SMembers(ctx, graphIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list graph ids: %w", err)
	}

	states := make([]*models.GraphState, 0, len(ids))

	for _, id := range ids {
		state, err := r.GraphState(ctx, id)
		if persistence.IsGraphNotFound(err) {
			r.logger.WarnContext(ctx, "graph id indexed without state", "graph_id", id)

			continue
		}

		if err != nil {
			return nil, err
		}

		states = append(states, state)
	}

	slices.SortFunc(states, func(a, b *models.GraphState) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return states, nil
}

func (r *GraphRepository) ActiveGraphs(ctx context.Context) ([]*models.WorkflowGraph, error) {
	states, err := r.ListGraphs(ctx)
	if err != nil {
		return nil, err
	}

	graphs := make([]*models.WorkflowGraph, 0)

	for _, state := range states {
		if !state.Active {
			continue
		}

		graph, err := r.LoadGraph(ctx, state.ID, state.LatestVersion)
		if err != nil {
			return nil, err
		}

		graphs = append(graphs, graph)
	}

	return graphs, nil
}

func stateFromMap(vals map[string]string) (*models.GraphState, error) {
	version, err := strconv.Atoi(vals["latest_version"])
	if err != nil {
		return nil, fmt.Errorf("invalid latest_version %q: %w", vals["latest_version"], err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, vals["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, vals["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}

	return &models.GraphState{
		ID:            vals["id"],
		Name:          vals["name"],
		LatestVersion: version,
		Active:        vals["active"] == "1",
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}
