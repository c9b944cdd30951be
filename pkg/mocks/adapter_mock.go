package mocks

import (
	"context"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock implementation of protocol.Adapter registered under
// Type.
type MockAdapter struct {
	mock.Mock

	Type models.ActionType
}

var _ protocol.Adapter = (*MockAdapter)(nil)

func NewMockAdapter(actionType models.ActionType) *MockAdapter {
	return &MockAdapter{Type: actionType}
}

func (m *MockAdapter) ID() string {
	return string(m.Type)
}

func (m *MockAdapter) Name() string {
	return "Mock " + string(m.Type)
}

func (m *MockAdapter) Description() string {
	return "Mock adapter"
}

func (m *MockAdapter) Schema() map[string]any {
	return nil
}

func (m *MockAdapter) Execute(ctx context.Context, actionType models.ActionType, params map[string]string, timeout time.Duration) (map[string]string, error) {
	args := m.Called(ctx, actionType, params, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]string), args.Error(1)
}

// MockRunStarter is a mock of the engine entry point used by the trigger registry.
type MockRunStarter struct {
	mock.Mock
}

func (m *MockRunStarter) StartRunVersion(ctx context.Context, graphID string, version int, payload map[string]string) (*models.RunRecord, error) {
	args := m.Called(ctx, graphID, version, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunRecord), args.Error(1)
}
