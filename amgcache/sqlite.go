package amgcache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS amg_states (
	slice          INTEGER PRIMARY KEY,
	oracle_id      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	payload        BLOB NOT NULL,
	created_at     INTEGER NOT NULL
);
`

// SQLiteStore keeps entries in a SQLite database, one row per slice.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and creates the cache table if needed.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening amg cache database")
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, errors.Wrap(multierr.Combine(err, db.Close()), "creating amg cache schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, slice int) (*Entry, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM amg_states WHERE slice = ?`, slice).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, e *Entry) error {
	payload, err := Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO amg_states (slice, oracle_id, kind, schema_version, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(slice) DO UPDATE SET
	oracle_id = excluded.oracle_id,
	kind = excluded.kind,
	schema_version = excluded.schema_version,
	payload = excluded.payload,
	created_at = excluded.created_at`,
		e.Slice, e.OracleID, string(e.Kind), e.SchemaVersion, payload, e.CreatedAt.UnixMilli())
	return err
}

// Slices implements Store.
func (s *SQLiteStore) Slices(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slice FROM amg_states ORDER BY slice`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []int{}
	for rows.Next() {
		var slice int
		if err := rows.Scan(&slice); err != nil {
			return nil, err
		}
		out = append(out, slice)
	}
	return out, rows.Err()
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM amg_states`)
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
