package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists session values in a session_kv table. Several
// consoles can share one table by using distinct namespaces.
type PostgresStore struct {
	db        *sql.DB
	namespace string
}

// NewPostgresStore ensures the schema exists and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB, namespace string) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if namespace == "" {
		namespace = "default"
	}
	s := &PostgresStore{db: db, namespace: namespace}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS session_kv (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure session_kv schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM session_kv WHERE namespace = $1 AND key = $2`
	var value string
	if err := s.db.QueryRowContext(ctx, q, s.namespace, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query session value: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO session_kv (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, q, s.namespace, key, value); err != nil {
		return fmt.Errorf("upsert session value: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	const q = `DELETE FROM session_kv WHERE namespace = $1 AND key = $2`
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, q, s.namespace, key); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete session value: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ Store = (*PostgresStore)(nil)
