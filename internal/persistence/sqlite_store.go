package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/sconcur/pkg/api"
)

// SQLiteOutcomeStore is an OutcomeStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteOutcomeStore struct {
	db *sql.DB
}

// Ensure SQLiteOutcomeStore implements OutcomeStore.
var _ OutcomeStore = (*SQLiteOutcomeStore)(nil)

// NewSQLiteOutcomeStore initializes the required schema in the given
// database and returns a new SQLiteOutcomeStore.
func NewSQLiteOutcomeStore(db *sql.DB) (*SQLiteOutcomeStore, error) {
	s := &SQLiteOutcomeStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteOutcomeStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flow_key TEXT NOT NULL,
			task_key TEXT NOT NULL,
			method INTEGER NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			execution_ms INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_outcomes_flow_key ON task_outcomes(flow_key, id);
	`)
	return err
}

func (s *SQLiteOutcomeStore) SaveOutcome(ctx context.Context, out api.Outcome) error {
	finished := out.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outcomes (flow_key, task_key, method, status, result, error, execution_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.FlowKey,
		out.TaskKey,
		int(out.Method),
		string(out.Status),
		out.Result,
		out.Error,
		out.ExecutionMs,
		finished.UnixNano(),
	)
	return err
}

func (s *SQLiteOutcomeStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]api.Outcome, error) {
	where, args := sqlWhere(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_key, task_key, method, status, result, error, execution_ms, finished_at
		FROM task_outcomes`+where+`
		ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// scanOutcomes reads rows selected in the column order used by the SQL
// stores.
func scanOutcomes(rows *sql.Rows) ([]api.Outcome, error) {
	var out []api.Outcome
	for rows.Next() {
		var (
			o          api.Outcome
			method     int
			status     string
			finishedAt int64
		)
		if err := rows.Scan(&o.FlowKey, &o.TaskKey, &method, &status, &o.Result, &o.Error, &o.ExecutionMs, &finishedAt); err != nil {
			return nil, err
		}
		o.Method = api.Method(method)
		o.Status = api.TaskStatus(status)
		o.FinishedAt = time.Unix(0, finishedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}
