package mocks

import (
	"context"

	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/round"
	"github.com/stretchr/testify/mock"
)

var _ manager.Service = (*MockService)(nil)

// MockService is a mock implementation of the manager.Service interface.
type MockService struct {
	mock.Mock
}

func (m *MockService) CreateTask(ctx context.Context, t round.Task) (round.Task, error) {
	args := m.Called(ctx, t)

	return args.Get(0).(round.Task), args.Error(1)
}

func (m *MockService) GetTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(round.Task), args.Error(1)
}

func (m *MockService) CancelTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(round.Task), args.Error(1)
}

func (m *MockService) CreateIteration(ctx context.Context, it round.Iteration) (round.Iteration, error) {
	args := m.Called(ctx, it)

	return args.Get(0).(round.Iteration), args.Error(1)
}

func (m *MockService) GetIteration(ctx context.Context, id round.IterationID) (round.Iteration, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(round.Iteration), args.Error(1)
}

func (m *MockService) ListIterations(ctx context.Context, status round.IterationStatus) ([]round.Iteration, error) {
	args := m.Called(ctx, status)

	return args.Get(0).([]round.Iteration), args.Error(1)
}

func (m *MockService) CheckIn(ctx context.Context, population, correlationID string) (manager.CheckIn, error) {
	args := m.Called(ctx, population, correlationID)

	return args.Get(0).(manager.CheckIn), args.Error(1)
}

func (m *MockService) GetAssignment(ctx context.Context, id round.AssignmentID) (round.Assignment, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(round.Assignment), args.Error(1)
}

func (m *MockService) ReportAssignment(ctx context.Context, id round.AssignmentID, status round.AssignmentStatus) (round.Assignment, error) {
	args := m.Called(ctx, id, status)

	return args.Get(0).(round.Assignment), args.Error(1)
}
