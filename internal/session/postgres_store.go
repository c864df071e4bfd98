package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the session store needs. Narrowing it to
// an interface keeps the store testable without a running server.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresStore implements Store backed by a Postgres table. History and
// metadata are stored as JSONB; all operations touch a single row, so the
// per-ID atomicity contract holds without explicit transactions.
type PostgresStore struct {
	db DB
}

// Schema is the DDL for the sessions table. Applied by the operator or a
// migration tool, not by the store itself.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	history     JSONB NOT NULL DEFAULT '[]',
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	last_active TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_last_active_idx ON sessions (last_active);
`

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pgx pool for the given DSN and returns a store over it.
func Connect(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool), pool, nil
}

// Get retrieves a session by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var (
		historyJSON  []byte
		metadataJSON []byte
		createdAt    time.Time
		lastActive   time.Time
	)

	row := s.db.QueryRow(ctx,
		`SELECT history, metadata, created_at, last_active FROM sessions WHERE id = $1`, id)
	if err := row.Scan(&historyJSON, &metadataJSON, &createdAt, &lastActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get session %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session %q: %w", id, err)
	}

	sess := &Session{
		ID:         id,
		CreatedAt:  createdAt,
		LastActive: lastActive,
	}
	if err := json.Unmarshal(historyJSON, &sess.History); err != nil {
		return nil, fmt.Errorf("unmarshal history for %q: %w", id, err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %q: %w", id, err)
		}
	}
	return sess, nil
}

// Put saves or replaces a session keyed by its ID.
func (s *PostgresStore) Put(ctx context.Context, sess *Session) error {
	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("marshal history for %q: %w", sess.ID, err)
	}

	var metadataJSON []byte
	if sess.Metadata != nil {
		metadataJSON, err = json.Marshal(sess.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %q: %w", sess.ID, err)
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO sessions (id, history, metadata, created_at, last_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET history = EXCLUDED.history,
		    metadata = EXCLUDED.metadata,
		    last_active = EXCLUDED.last_active`,
		sess.ID, historyJSON, metadataJSON, sess.CreatedAt, sess.LastActive)
	if err != nil {
		return fmt.Errorf("put session %q: %w", sess.ID, err)
	}
	return nil
}

// Delete removes a session by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete session %q: %w", id, ErrNotFound)
	}
	return nil
}

// ListIDs returns all stored session IDs.
func (s *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// IdleSince returns the IDs of sessions whose last activity predates cutoff.
func (s *PostgresStore) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM sessions WHERE last_active < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	return ids, nil
}
