package mocks

import (
	"context"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockCanceller is a mock of the supervisor cancellation surface.
type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) CancelRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunRecord), args.Error(1)
}

func (m *MockCanceller) CancelGraphRuns(ctx context.Context, graphID string) (int, error) {
	args := m.Called(ctx, graphID)

	return args.Int(0), args.Error(1)
}
