package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/store"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

var _ store.Store = (*mockStore)(nil)

func (m *mockStore) CreateRun(ctx context.Context, stage model.Stage) (*model.Run, error) {
	args := m.Called(ctx, stage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	args := m.Called(ctx, runID, status)
	return args.Error(0)
}

func (m *mockStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, runID string, cause error) error {
	args := m.Called(ctx, runID, cause)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	args := m.Called(ctx, runID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunPhase), args.Error(1)
}

func (m *mockStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	args := m.Called(ctx, phaseID, result)
	return args.Error(0)
}

func (m *mockStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunPhase), args.Error(1)
}

func (m *mockStore) SaveStrategyResults(ctx context.Context, runID string, results []model.StrategyResult) error {
	args := m.Called(ctx, runID, results)
	return args.Error(0)
}

func (m *mockStore) ListStrategyResults(ctx context.Context, runID string) ([]model.StrategyResult, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.StrategyResult), args.Error(1)
}

func (m *mockStore) SaveConflicts(ctx context.Context, runID string, conflicts []model.Conflict) error {
	args := m.Called(ctx, runID, conflicts)
	return args.Error(0)
}

func (m *mockStore) ListConflicts(ctx context.Context, runID string) ([]model.Conflict, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Conflict), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// expectRun stubs the bookkeeping calls every stage makes.
func expectRun(st *mockStore, stage model.Stage, runID string) {
	st.On("CreateRun", mock.Anything, stage).Return(&model.Run{ID: runID, Stage: stage, Status: model.RunStatusQueued}, nil)
	st.On("UpdateRunStatus", mock.Anything, runID, model.RunStatusRunning).Return(nil)
	st.On("CreatePhase", mock.Anything, runID, mock.AnythingOfType("string")).Return(&model.RunPhase{ID: "phase-" + runID}, nil)
	st.On("CompletePhase", mock.Anything, "phase-"+runID, mock.AnythingOfType("*model.PhaseResult")).Return(nil)
}
