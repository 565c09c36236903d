package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ttlpaste/internal/storage"
)

// Store implements storage.Store using SQLite.
//
// Timestamps are stored as Unix nanoseconds so the consumability predicate is
// a plain integer comparison inside the UPDATE.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer connection; concurrent callers queue on the pool instead of
	// racing into SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS pastes (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER,
    max_views INTEGER,
    view_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes (expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Insert adds a paste, refusing to overwrite an existing id.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}

	const q = `
INSERT INTO pastes (id, content, created_at, expires_at, max_views, view_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	res, err := s.db.ExecContext(ctx, q,
		paste.ID,
		paste.Content,
		paste.CreatedAt.UTC().UnixNano(),
		nullableTime(paste.ExpiresAt),
		nullableInt(paste.MaxViews),
		paste.ViewCount,
	)
	if err != nil {
		return fmt.Errorf("insert paste: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrConflict
	}
	return nil
}

// Consume increments view_count only if the paste is consumable at now.
func (s *Store) Consume(ctx context.Context, id string, now time.Time) (*storage.Paste, error) {
	const q = `
UPDATE pastes SET view_count = view_count + 1
WHERE id = ?
  AND (expires_at IS NULL OR expires_at > ?)
  AND (max_views IS NULL OR view_count < max_views)
RETURNING id, content, created_at, expires_at, max_views, view_count;
`
	row := s.db.QueryRowContext(ctx, q, id, now.UTC().UnixNano())

	var (
		paste     storage.Paste
		createdAt int64
		expiresAt sql.NullInt64
		maxViews  sql.NullInt64
	)
	if err := row.Scan(&paste.ID, &paste.Content, &createdAt, &expiresAt, &maxViews, &paste.ViewCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("consume paste: %w", err)
	}

	paste.CreatedAt = time.Unix(0, createdAt).UTC()
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64).UTC()
		paste.ExpiresAt = &t
	}
	if maxViews.Valid {
		v := maxViews.Int64
		paste.MaxViews = &v
	}
	return &paste, nil
}

// DeleteExpired removes all expired or exhausted pastes.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	const q = `
DELETE FROM pastes
WHERE (expires_at IS NOT NULL AND expires_at <= ?)
   OR (max_views IS NOT NULL AND view_count >= max_views);
`
	res, err := s.db.ExecContext(ctx, q, now.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

// Ping verifies the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1;`).Scan(&one); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
