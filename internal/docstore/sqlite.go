package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore mirrors the postgres layout in a single local file.
type SQLiteStore struct {
	db    *sql.DB
	now   func() time.Time
	sweep sweepCadence
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the necessary tables if they don't exist
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS doc_lists (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			value BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_doc_lists_key_seq ON doc_lists (key, seq);
		CREATE TABLE IF NOT EXISTS doc_counters (
			key TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO doc_lists (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return unavailable("sqlite append", err)
	}
	return nil
}

func (s *SQLiteStore) Tail(ctx context.Context, key string, n int) ([][]byte, error) {
	limit := -1
	if n > 0 {
		limit = n
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM doc_lists WHERE key = ? ORDER BY seq DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, unavailable("sqlite tail", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable("sqlite tail scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite tail rows", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM doc_lists WHERE key = ?)`, key).Scan(&ok)
	if err != nil {
		return false, unavailable("sqlite exists", err)
	}
	return ok, nil
}

func (s *SQLiteStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now().UnixMilli()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now + ttl.Milliseconds()
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO doc_counters (key, count, expires_at) VALUES (?, 1, ?)
		 ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN expires_at > 0 AND expires_at <= ? THEN 1 ELSE count + 1 END,
			expires_at = CASE WHEN expires_at > 0 AND expires_at <= ? THEN excluded.expires_at ELSE expires_at END
		 RETURNING count`,
		key, expiresAt, now, now,
	).Scan(&n)
	if err != nil {
		return 0, unavailable("sqlite increment", err)
	}
	if s.sweep.due() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM doc_counters WHERE expires_at > 0 AND expires_at <= ?`, now)
	}
	return n, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM doc_lists WHERE key = ?`, key); err != nil {
		return unavailable("sqlite delete", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM doc_counters WHERE key = ?`, key); err != nil {
		return unavailable("sqlite delete", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("sqlite ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
