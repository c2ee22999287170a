package runner

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRunner is a testify mock of Runner. Expectations match on the
// rendered command line, e.g.
//
//	m.On("Run", "ip netns add ns1").Return(runner.Result{}, nil)
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	args := m.Called(cmd.String())
	return args.Get(0).(Result), args.Error(1)
}
