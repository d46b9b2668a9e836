package sandbox

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRunner is a mock implementation of Runner for testing
type MockRunner struct {
	mock.Mock
}

// Run mocks the Run method
func (m *MockRunner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RunResult), args.Error(1)
}
