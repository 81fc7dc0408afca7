package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver; registers as "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS credential (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	user_id    TEXT    NOT NULL,
	name       TEXT    NOT NULL DEFAULT '',
	token      TEXT    NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps the credential in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the credential database at
// path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("identity: state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("identity: open store: %w", err)
	}
	// One writer is plenty for a single-row credential table.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: init store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Identity, error) {
	var (
		id  Identity
		exp int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, token, expires_at FROM credential WHERE id = 1`)
	if err := row.Scan(&id.UserID, &id.Name, &id.Token, &exp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNoCredentials
		}
		return Identity{}, fmt.Errorf("identity: load: %w", err)
	}
	if exp > 0 {
		id.ExpiresAt = time.Unix(exp, 0)
	}
	return id, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id Identity) error {
	var exp int64
	if !id.ExpiresAt.IsZero() {
		exp = id.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credential (id, user_id, name, token, expires_at, updated_at)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	user_id    = excluded.user_id,
	name       = excluded.name,
	token      = excluded.token,
	expires_at = excluded.expires_at,
	updated_at = excluded.updated_at`,
		id.UserID, id.Name, id.Token, exp, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("identity: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credential`); err != nil {
		return fmt.Errorf("identity: clear: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
