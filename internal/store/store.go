// Package store persists run bookkeeping: stage runs, their phases, the
// per-strategy alignment summaries and the conflicts found while merging.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qrels-cli/internal/model"
)

// ErrNotFound is returned when a run or phase id does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Stage  model.Stage     `json:"stage,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for pipeline runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, stage model.Stage) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Stage outputs
	SaveStrategyResults(ctx context.Context, runID string, results []model.StrategyResult) error
	ListStrategyResults(ctx context.Context, runID string) ([]model.StrategyResult, error)
	SaveConflicts(ctx context.Context, runID string, conflicts []model.Conflict) error
	ListConflicts(ctx context.Context, runID string) ([]model.Conflict, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
