package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/qrels-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS strategy_results (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	strategy   TEXT NOT NULL,
	manifest   TEXT NOT NULL,
	chunks     INTEGER NOT NULL DEFAULT 0,
	alignments INTEGER NOT NULL DEFAULT 0,
	pairs      INTEGER NOT NULL DEFAULT 0,
	qrels_path TEXT NOT NULL DEFAULT '',
	skipped    INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, strategy)
);

CREATE TABLE IF NOT EXISTS run_conflicts (
	run_id  TEXT NOT NULL REFERENCES runs(id),
	seq     INTEGER NOT NULL,
	qid     TEXT NOT NULL,
	docid   TEXT NOT NULL,
	iou     REAL NOT NULL,
	active  TEXT NOT NULL,
	current TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, stage model.Stage) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(stage), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Stage:     stage,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errorText(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stage, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, stage, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) SaveStrategyResults(ctx context.Context, runID string, results []model.StrategyResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin strategy results")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO strategy_results (run_id, strategy, manifest, chunks, alignments, pairs, qrels_path, skipped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, strategy) DO UPDATE SET
		   manifest = excluded.manifest, chunks = excluded.chunks, alignments = excluded.alignments,
		   pairs = excluded.pairs, qrels_path = excluded.qrels_path, skipped = excluded.skipped, error = excluded.error`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare strategy results")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.Strategy, r.Manifest, r.Chunks, r.Alignments, r.Pairs, r.QrelsPath, r.Skipped, r.Error); err != nil {
			return eris.Wrapf(err, "sqlite: upsert strategy %s", r.Strategy)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit strategy results")
}

func (s *SQLiteStore) ListStrategyResults(ctx context.Context, runID string) ([]model.StrategyResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, manifest, chunks, alignments, pairs, qrels_path, skipped, error
		 FROM strategy_results WHERE run_id = ? ORDER BY strategy`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list strategy results %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StrategyResult
	for rows.Next() {
		var r model.StrategyResult
		if err := rows.Scan(&r.Strategy, &r.Manifest, &r.Chunks, &r.Alignments, &r.Pairs, &r.QrelsPath, &r.Skipped, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan strategy result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list strategy results iterate")
}

func (s *SQLiteStore) SaveConflicts(ctx context.Context, runID string, conflicts []model.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	rows, err := conflictRows(runID, conflicts)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin conflicts")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_conflicts (run_id, seq, qid, docid, iou, active, current) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare conflicts")
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		// JSON columns are TEXT in SQLite.
		row[5], row[6] = string(row[5].([]byte)), string(row[6].([]byte))
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert conflict %v", row[1])
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit conflicts")
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, runID string) ([]model.Conflict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iou, active, current FROM run_conflicts WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list conflicts %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Conflict
	for rows.Next() {
		var active, current string
		var c model.Conflict
		if err := rows.Scan(&c.IoU, &active, &current); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		if err := decodeConflict(&c, []byte(active), []byte(current)); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list conflicts iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Stage, &r.Status, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

// conflictRows flattens conflicts into (run_id, seq, qid, docid, iou, active,
// current) rows with the spans as JSON.
func conflictRows(runID string, conflicts []model.Conflict) ([][]any, error) {
	rows := make([][]any, 0, len(conflicts))
	for i, c := range conflicts {
		active, err := json.Marshal(c.Active)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal active span")
		}
		current, err := json.Marshal(c.Current)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal current span")
		}
		rows = append(rows, []any{runID, i, c.Current.QuestionID, c.Current.DocumentID, c.IoU, active, current})
	}
	return rows, nil
}

func decodeConflict(c *model.Conflict, active, current []byte) error {
	if err := json.Unmarshal(active, &c.Active); err != nil {
		return eris.Wrap(err, "store: unmarshal active span")
	}
	if err := json.Unmarshal(current, &c.Current); err != nil {
		return eris.Wrap(err, "store: unmarshal current span")
	}
	return nil
}
