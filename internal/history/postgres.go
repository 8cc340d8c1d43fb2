package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session history in PostgreSQL. It is an opt-in
// driver; the default deployment keeps history in process memory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq BIGSERIAL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_session_seq ON chat_turns (session_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM chat_turns WHERE session_id=$1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	for _, t := range turns {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO chat_turns (id, session_id, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(),
			sessionID,
			string(t.Role),
			t.Content,
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_turns WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
