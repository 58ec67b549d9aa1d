// Package store — PostgreSQL Store implementation.
// Run history is kept in a single table with JSONB payloads for the
// result and pass trace. The schema is created on startup.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and prepares the schema.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("Postgres run store initialized")
	return s, nil
}

// Migrate creates the runs table and its indexes if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS of_runs (
			id          TEXT PRIMARY KEY,
			goal        TEXT NOT NULL,
			context     TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			result      JSONB,
			passes      JSONB NOT NULL DEFAULT '[]',
			usage       JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_of_runs_created ON of_runs (created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_of_runs_status ON of_runs (status);
	`

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Run Store ───────────────────────────────────────────────

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]models.RunRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, goal, context, status, result, passes, usage, created_at, finished_at
		FROM of_runs`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres list runs: %w", err)
	}
	defer rows.Close()

	var result []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		if err := rows.Scan(&r.ID, &r.Goal, &r.Context, &r.Status, &r.Result, &r.Passes, &r.Usage, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("postgres scan run: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var r models.RunRecord
	err := s.pool.QueryRow(ctx, `SELECT id, goal, context, status, result, passes, usage, created_at, finished_at
		FROM of_runs WHERE id = $1`, id).
		Scan(&r.ID, &r.Goal, &r.Context, &r.Status, &r.Result, &r.Passes, &r.Usage, &r.CreatedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{Entity: "run", Key: id}
		}
		return nil, fmt.Errorf("postgres get run: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.RunRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO of_runs (id, goal, context, status, result, passes, usage, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Goal, run.Context, run.Status, run.Result, run.Passes, run.Usage, run.CreatedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres create run: %w", err)
	}
	return nil
}

// UpdateRun upserts so a terminal status still lands even when the
// initial insert was lost.
func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.RunRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO of_runs (id, goal, context, status, result, passes, usage, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			passes = EXCLUDED.passes,
			usage = EXCLUDED.usage,
			finished_at = EXCLUDED.finished_at`,
		run.ID, run.Goal, run.Context, run.Status, run.Result, run.Passes, run.Usage, run.CreatedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres update run: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM of_runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "run", Key: id}
	}
	return nil
}
