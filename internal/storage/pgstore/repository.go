package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"ttlpaste/internal/storage"
)

type pasteRecord struct {
	ID        string        `db:"id"`
	Content   string        `db:"content"`
	CreatedAt time.Time     `db:"created_at"`
	ExpiresAt sql.NullTime  `db:"expires_at"`
	MaxViews  sql.NullInt64 `db:"max_views"`
	ViewCount int64         `db:"view_count"`
}

func (r *pasteRecord) ToPaste() *storage.Paste {
	p := &storage.Paste{
		ID:        r.ID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt.UTC(),
		ViewCount: r.ViewCount,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time.UTC()
		p.ExpiresAt = &t
	}
	if r.MaxViews.Valid {
		v := r.MaxViews.Int64
		p.MaxViews = &v
	}
	return p
}

// Store implements storage.Store on PostgreSQL.
//
// Consume is a single conditional UPDATE ... RETURNING; the row lock taken by
// the UPDATE serializes concurrent consumers of the same id.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{
		db: db,
	}
}

func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	const op = "pgstore.Store.Insert"

	if paste == nil {
		return fmt.Errorf("%s: paste is nil", op)
	}

	query := `INSERT INTO pastes(id, content, created_at, expires_at, max_views, view_count)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		paste.ID,
		paste.Content,
		paste.CreatedAt.UTC(),
		nullTime(paste.ExpiresAt),
		nullInt(paste.MaxViews),
		paste.ViewCount,
	)
	if err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrConflict)
		}

		return fmt.Errorf("%s: failed to insert paste: %w", op, err)
	}

	return nil
}

func (s *Store) Consume(ctx context.Context, id string, now time.Time) (*storage.Paste, error) {
	const op = "pgstore.Store.Consume"

	rec := new(pasteRecord)
	query := `UPDATE pastes
		SET view_count = view_count + 1
		WHERE id = $1
			AND (expires_at IS NULL OR expires_at > $2)
			AND (max_views IS NULL OR view_count < max_views)
		RETURNING id, content, created_at, expires_at, max_views, view_count`

	err := s.db.GetContext(ctx, rec, query, id, now.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: failed to consume paste: %w", op, err)
	}

	return rec.ToPaste(), nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "pgstore.Store.DeleteExpired"

	query := `DELETE FROM pastes
		WHERE (expires_at IS NOT NULL AND expires_at <= $1)
			OR (max_views IS NOT NULL AND view_count >= max_views)`

	res, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: failed to delete expired pastes: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return int(n), nil
}

func (s *Store) Ping(ctx context.Context) error {
	const op = "pgstore.Store.Ping"

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
