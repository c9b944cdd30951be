package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
)

// GraphRepository handles graph-related file operations.
type GraphRepository struct {
	root string
	mu   sync.Mutex
}

// NewGraphRepository creates a new graph repository.
func NewGraphRepository(root string) *GraphRepository {
	return &GraphRepository{root: root}
}

func (gr *GraphRepository) graphDir(id string) string {
	return filepath.Join(gr.root, "graphs", id)
}

func (gr *GraphRepository) statePath(id string) string {
	return filepath.Join(gr.graphDir(id), "state.json")
}

func (gr *GraphRepository) versionPath(id string, version int) string {
	return filepath.Join(gr.graphDir(id), "v"+strconv.Itoa(version)+".json")
}

// SaveGraph stores graph as the next version. graph.ID, graph.Version and
// graph.CreatedAt are set on success.
func (gr *GraphRepository) SaveGraph(_ context.Context, graph *models.WorkflowGraph) (string, int, error) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	if graph.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", 0, fmt.Errorf("failed to generate graph id: %w", err)
		}

		graph.ID = id.String()
	}

	if err := validateID(graph.ID); err != nil {
		return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, 0, err)
	}

	now := time.Now().UTC()

	state, err := gr.readState(graph.ID)
	if err != nil && !errors.Is(err, persistence.ErrGraphNotFound) {
		return "", 0, err
	}

	if state == nil {
		state = &models.GraphState{ID: graph.ID, CreatedAt: now}
	}

	version := state.LatestVersion + 1
	for {
		if _, statErr := os.Stat(gr.versionPath(graph.ID, version)); errors.Is(statErr, os.ErrNotExist) {
			break
		}

		version++
	}

	graph.Version = version
	graph.CreatedAt = now

	err = writeJSON(gr.versionPath(graph.ID, version), graph)
	if err != nil {
		return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, version, err)
	}

	state.Name = graph.Name
	state.LatestVersion = version
	state.UpdatedAt = now

	err = writeJSON(gr.statePath(graph.ID), state)
	if err != nil {
		return "", 0, persistence.NewGraphError("SaveGraph", graph.ID, version, err)
	}

	return graph.ID, version, nil
}

// LoadGraph reads one version from disk.
func (gr *GraphRepository) LoadGraph(_ context.Context, id string, version int) (*models.WorkflowGraph, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewGraphError("LoadGraph", id, version, err)
	}

	if version == persistence.LatestVersion {
		state, err := gr.readState(id)
		if err != nil {
			return nil, err
		}

		version = state.LatestVersion
	}

	var graph models.WorkflowGraph

	err := readJSON(gr.versionPath(id, version), &graph)
	if errors.Is(err, os.ErrNotExist) {
		if _, stateErr := gr.readState(id); stateErr != nil {
			return nil, stateErr
		}

		return nil, persistence.NewGraphError("LoadGraph", id, version, persistence.ErrGraphVersionNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("LoadGraph", id, version, err)
	}

	return &graph, nil
}

func (gr *GraphRepository) SetActive(_ context.Context, id string, active bool) error {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	if err := validateID(id); err != nil {
		return persistence.NewGraphError("SetActive", id, 0, err)
	}

	state, err := gr.readState(id)
	if err != nil {
		return err
	}

	state.Active = active
	state.UpdatedAt = time.Now().UTC()

	err = writeJSON(gr.statePath(id), state)
	if err != nil {
		return persistence.NewGraphError("SetActive", id, 0, err)
	}

	return nil
}

func (gr *GraphRepository) GraphState(_ context.Context, id string) (*models.GraphState, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewGraphError("GraphState", id, 0, err)
	}

	return gr.readState(id)
}

// ListGraphs returns every graph state ordered by creation time.
func (gr *GraphRepository) ListGraphs(_ context.Context) ([]*models.GraphState, error) {
	entries, err := os.ReadDir(filepath.Join(gr.root, "graphs"))
	if errors.Is(err, os.ErrNotExist) {
		return []*models.GraphState{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}

	states := make([]*models.GraphState, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() || validateID(entry.Name()) != nil {
			continue
		}

		state, err := gr.readState(entry.Name())
		if errors.Is(err, persistence.ErrGraphNotFound) {
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

func (gr *GraphRepository) ActiveGraphs(ctx context.Context) ([]*models.WorkflowGraph, error) {
	states, err := gr.ListGraphs(ctx)
	if err != nil {
		return nil, err
	}

	graphs := make([]*models.WorkflowGraph, 0)

	for _, state := range states {
		if !state.Active {
			continue
		}

		graph, err := gr.LoadGraph(ctx, state.ID, state.LatestVersion)
		if err != nil {
			return nil, err
		}

		graphs = append(graphs, graph)
	}

	return graphs, nil
}

func (gr *GraphRepository) readState(id string) (*models.GraphState, error) {
	var state models.GraphState

	err := readJSON(gr.statePath(id), &state)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewGraphError("GraphState", id, 0, persistence.ErrGraphNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("GraphState", id, 0, err)
	}

	return &state, nil
}
