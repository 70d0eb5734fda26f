package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool is the subset of pgxpool.Pool the store needs.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore persists lists as append-only rows ordered by a sequence
// column, and counters as single rows updated with an upsert.
type PostgresStore struct {
	pool  DBPool
	sweep sweepCadence
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool wraps an existing pool without touching the schema.
func NewPostgresStoreWithPool(pool DBPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS doc_lists (
			seq BIGSERIAL PRIMARY KEY,
			key TEXT NOT NULL,
			value BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_doc_lists_key_seq ON doc_lists (key, seq);`,
		`CREATE TABLE IF NOT EXISTS doc_counters (
			key TEXT PRIMARY KEY,
			count BIGINT NOT NULL,
			expires_at TIMESTAMPTZ
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO doc_lists (key, value) VALUES ($1, $2)`, key, value)
	if err != nil {
		return unavailable("postgres append", err)
	}
	return nil
}

func (s *PostgresStore) Tail(ctx context.Context, key string, n int) ([][]byte, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if n > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT value FROM doc_lists WHERE key = $1 ORDER BY seq DESC LIMIT $2`, key, n)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT value FROM doc_lists WHERE key = $1 ORDER BY seq DESC`, key)
	}
	if err != nil {
		return nil, unavailable("postgres tail", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable("postgres tail scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres tail rows", err)
	}

	// Newest-first from the query; callers expect append order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doc_lists WHERE key = $1)`, key).Scan(&ok)
	if err != nil {
		return false, unavailable("postgres exists", err)
	}
	return ok, nil
}

func (s *PostgresStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}

	var n int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO doc_counters (key, count, expires_at) VALUES ($1, 1, $2)
		 ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN doc_counters.expires_at IS NOT NULL AND doc_counters.expires_at <= now()
				THEN 1 ELSE doc_counters.count + 1 END,
			expires_at = CASE WHEN doc_counters.expires_at IS NOT NULL AND doc_counters.expires_at <= now()
				THEN EXCLUDED.expires_at ELSE doc_counters.expires_at END
		 RETURNING count`,
		key, expiresAt,
	).Scan(&n)
	if err != nil {
		return 0, unavailable("postgres increment", err)
	}
	if s.sweep.due() {
		// Best effort.
		_, _ = s.pool.Exec(ctx, `DELETE FROM doc_counters WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	}
	return n, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM doc_lists WHERE key = $1`, key); err != nil {
		return unavailable("postgres delete", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM doc_counters WHERE key = $1`, key); err != nil {
		return unavailable("postgres delete", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("postgres ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
