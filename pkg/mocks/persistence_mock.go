// Package mocks provides testify mocks for the persistence, event bus and
// adapter interfaces.
package mocks

import (
	"context"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockGraphRepository is a mock implementation of persistence.GraphRepository.
type MockGraphRepository struct {
	mock.Mock
}

func (m *MockGraphRepository) SaveGraph(ctx context.Context, graph *models.WorkflowGraph) (string, int, error) {
	args := m.Called(ctx, graph)

	return args.String(0), args.Int(1), args.Error(2)
}

func (m *MockGraphRepository) LoadGraph(ctx context.Context, id string, version int) (*models.WorkflowGraph, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowGraph), args.Error(1)
}

func (m *MockGraphRepository) SetActive(ctx context.Context, id string, active bool) error {
	args := m.Called(ctx, id, active)

	return args.Error(0)
}

func (m *MockGraphRepository) GraphState(ctx context.Context, id string) (*models.GraphState, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.GraphState), args.Error(1)
}

func (m *MockGraphRepository) ListGraphs(ctx context.Context) ([]*models.GraphState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.GraphState), args.Error(1)
}

func (m *MockGraphRepository) ActiveGraphs(ctx context.Context) ([]*models.WorkflowGraph, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowGraph), args.Error(1)
}

// MockRunRepository is a mock implementation of persistence.RunRepository.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) SaveRun(ctx context.Context, run *models.RunRecord) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) LoadRun(ctx context.Context, id string) (*models.RunRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunRecord), args.Error(1)
}

func (m *MockRunRepository) ListSuspendedRuns(ctx context.Context) ([]*models.RunRecord, error) {
	return m.runs(m.Called(ctx))
}

func (m *MockRunRepository) ListRunsByStatus(ctx context.Context, status models.RunStatus) ([]*models.RunRecord, error) {
	return m.runs(m.Called(ctx, status))
}

func (m *MockRunRepository) ListRunsByGraph(ctx context.Context, graphID string) ([]*models.RunRecord, error) {
	return m.runs(m.Called(ctx, graphID))
}

func (m *MockRunRepository) runs(args mock.Arguments) ([]*models.RunRecord, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.RunRecord), args.Error(1)
}

// MockPersistence bundles the repository mocks.
type MockPersistence struct {
	mock.Mock

	Graphs *MockGraphRepository
	Runs   *MockRunRepository
}

var _ persistence.Persistence = (*MockPersistence)(nil)

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Graphs: &MockGraphRepository{},
		Runs:   &MockRunRepository{},
	}
}

func (m *MockPersistence) GraphRepository() persistence.GraphRepository {
	return m.Graphs
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.Runs
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
