package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/petrijr/sconcur/pkg/api"
)

// PostgresOutcomeStore is an OutcomeStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresOutcomeStore struct {
	db *sql.DB
}

// Ensure PostgresOutcomeStore implements OutcomeStore.
var _ OutcomeStore = (*PostgresOutcomeStore)(nil)

// NewPostgresOutcomeStore initializes the required schema in the given
// database and returns a new PostgresOutcomeStore.
func NewPostgresOutcomeStore(db *sql.DB) (*PostgresOutcomeStore, error) {
	s := &PostgresOutcomeStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresOutcomeStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_outcomes (
			id BIGSERIAL PRIMARY KEY,
			flow_key TEXT NOT NULL,
			task_key TEXT NOT NULL,
			method INTEGER NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			execution_ms BIGINT NOT NULL DEFAULT 0,
			finished_at BIGINT NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_task_outcomes_flow_key ON task_outcomes(flow_key, id);`)
	return err
}

func (s *PostgresOutcomeStore) SaveOutcome(ctx context.Context, out api.Outcome) error {
	finished := out.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outcomes (flow_key, task_key, method, status, result, error, execution_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
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

func (s *PostgresOutcomeStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]api.Outcome, error) {
	where, args := sqlWhere(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
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
