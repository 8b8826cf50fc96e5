package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig names the target table, the columns of each row and the key
// columns the table is unique on. Every non-key column is overwritten when a
// row with the same key already exists.
type UpsertConfig struct {
	Table   string
	Columns []string
	Keys    []string
}

func (c UpsertConfig) updateColumns() []string {
	var out []string
	for _, col := range c.Columns {
		if !slices.Contains(c.Keys, col) {
			out = append(out, col)
		}
	}
	return out
}

// BulkUpsert stages rows in a temp table with COPY, then merges them into the
// target with one INSERT ... ON CONFLICT, all in one transaction.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.Keys) == 0 {
		return 0, eris.New("db: upsert: no key columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := "_stage_" + cfg.Table
	target := pgx.Identifier{cfg.Table}.Sanitize()
	staged := pgx.Identifier{stage}.Sanitize()

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staged, target,
	)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", cfg.Table)
	}
	if _, err := CopyFrom(ctx, tx, stage, cfg.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", cfg.Table)
	}

	set := "NOTHING"
	if upd := cfg.updateColumns(); len(upd) > 0 {
		clauses := make([]string, len(upd))
		for i, col := range upd {
			id := pgx.Identifier{col}.Sanitize()
			clauses[i] = id + " = EXCLUDED." + id
		}
		set = "UPDATE SET " + strings.Join(clauses, ", ")
	}
	cols := identList(cfg.Columns)
	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO %s",
		target, cols, cols, staged, identList(cfg.Keys), set,
	))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
