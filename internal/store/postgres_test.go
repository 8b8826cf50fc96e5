package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qrels-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs \(id, stage, status, created_at, updated_at\)`).
		WithArgs(pgxmock.AnyArg(), "align", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.StageAlign)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.StageAlign, run.Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	result := []byte(`{"output_spans":3,"phases":[],"total_duration_ms":9}`)

	mock.ExpectQuery(`SELECT id, stage, status, result, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "stage", "status", "result", "error", "created_at", "updated_at"}).
			AddRow("run-1", model.StageDedup, model.RunStatusComplete, &result, "", now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 3, run.Result.OutputSpans)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, stage, status, result, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs("running", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusRunning)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "no annotations", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", errors.New("no annotations")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE true AND stage = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("align", "complete", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "stage", "status", "result", "error", "created_at", "updated_at"}).
			AddRow("run-2", model.StageAlign, model.RunStatusComplete, (*[]byte)(nil), "", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Stage:  model.StageAlign,
		Status: model.RunStatusComplete,
		Limit:  5,
		Offset: 10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompletePhase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_phases SET status = \$1, result = \$2 WHERE id = \$3`).
		WithArgs("complete", pgxmock.AnyArg(), "phase-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompletePhase(context.Background(), "phase-1", &model.PhaseResult{Name: "load", Status: model.PhaseStatusComplete})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveStrategyResults_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_strategy_results"}, strategyColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "strategy_results" .* ON CONFLICT \("run_id", "strategy"\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveStrategyResults(context.Background(), "run-1", []model.StrategyResult{
		{Strategy: "SENT", Manifest: "chunks_SENT.jsonl", Chunks: 10, Alignments: 4, Pairs: 3},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveConflicts_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"run_conflicts"}, conflictColumns).WillReturnResult(1)

	err := s.SaveConflicts(context.Background(), "run-1", []model.Conflict{{
		Active:  model.Span{QuestionID: "q1", DocumentID: "d1", Start: 0, End: 4, Logic: model.LogicAnd},
		Current: model.Span{QuestionID: "q1", DocumentID: "d1", Start: 0, End: 4, Logic: model.LogicOr},
		IoU:     1,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveConflicts_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.SaveConflicts(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListConflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT iou, active, current FROM run_conflicts WHERE run_id = \$1 ORDER BY seq`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"iou", "active", "current"}).
			AddRow(0.75,
				[]byte(`{"qid":"q1","docid":"d1","start":0,"end":8,"text":"","logic":"AND"}`),
				[]byte(`{"qid":"q1","docid":"d1","start":2,"end":8,"text":"","logic":"OR"}`)))

	got, err := s.ListConflicts(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.LogicOr, got[0].Current.Logic)
	assert.Equal(t, 2, got[0].Current.Start)
	assert.InDelta(t, 0.75, got[0].IoU, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
