package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"ttlpaste/internal/storage"
)

var (
	errUnknown      = errors.New("unknown error")
	errAffectedRows = errors.New("affected rows error")
)

var columns = []string{"id", "content", "created_at", "expires_at", "max_views", "view_count"}

func setupStore(t testing.TB) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}

	db := sqlx.NewDb(mockDB, "sqlmock")
	store := New(db)

	t.Cleanup(func() {
		db.Close()
	})

	return store, mock
}

func TestIsUniqueViolationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: uniqueViolationErrCode}, want: true},
		{name: "other pg error", err: &pgconn.PgError{Code: "42P01"}, want: false},
		{name: "not a pg error", err: errUnknown, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolationError(tt.err))
		})
	}
}

func TestStore_Insert(t *testing.T) {
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	expires := created.Add(time.Minute)
	three := int64(3)

	t.Run("id exists", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectExec(`INSERT INTO pastes`).
			WithArgs("abc", "hello", created, nil, nil, int64(0)).
			WillReturnError(&pgconn.PgError{Code: uniqueViolationErrCode})

		err := store.Insert(context.TODO(), &storage.Paste{ID: "abc", Content: "hello", CreatedAt: created})

		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown error", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectExec(`INSERT INTO pastes`).
			WillReturnError(errUnknown)

		err := store.Insert(context.TODO(), &storage.Paste{ID: "abc", Content: "hello", CreatedAt: created})

		assert.ErrorIs(t, err, errUnknown)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success with limits", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectExec(`INSERT INTO pastes`).
			WithArgs("abc", "hello", created, expires, int64(3), int64(0)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Insert(context.TODO(), &storage.Paste{
			ID:        "abc",
			Content:   "hello",
			CreatedAt: created,
			ExpiresAt: &expires,
			MaxViews:  &three,
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Consume(t *testing.T) {
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	now := created.Add(30 * time.Second)

	t.Run("not consumable", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery(`UPDATE pastes\s+SET view_count = view_count \+ 1`).
			WithArgs("abc", now).
			WillReturnError(sql.ErrNoRows)

		paste, err := store.Consume(context.TODO(), "abc", now)

		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Nil(t, paste)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown error", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery(`UPDATE pastes`).
			WithArgs("abc", now).
			WillReturnError(errUnknown)

		paste, err := store.Consume(context.TODO(), "abc", now)

		assert.ErrorIs(t, err, errUnknown)
		assert.False(t, errors.Is(err, storage.ErrNotFound))
		assert.Nil(t, paste)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success limited", func(t *testing.T) {
		store, mock := setupStore(t)
		expires := created.Add(time.Minute)

		rows := sqlmock.NewRows(columns).
			AddRow("abc", "hello", created, expires, int64(3), int64(1))

		mock.ExpectQuery(`UPDATE pastes`).
			WithArgs("abc", now).
			WillReturnRows(rows)

		paste, err := store.Consume(context.TODO(), "abc", now)

		assert.NoError(t, err)
		if assert.NotNil(t, paste) {
			assert.Equal(t, "hello", paste.Content)
			assert.Equal(t, int64(1), paste.ViewCount)
			assert.Equal(t, int64(2), *paste.RemainingViews())
			assert.True(t, paste.ExpiresAt.Equal(expires))
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success unlimited", func(t *testing.T) {
		store, mock := setupStore(t)

		rows := sqlmock.NewRows(columns).
			AddRow("abc", "hello", created, nil, nil, int64(42))

		mock.ExpectQuery(`UPDATE pastes`).
			WithArgs("abc", now).
			WillReturnRows(rows)

		paste, err := store.Consume(context.TODO(), "abc", now)

		assert.NoError(t, err)
		if assert.NotNil(t, paste) {
			assert.Nil(t, paste.ExpiresAt)
			assert.Nil(t, paste.MaxViews)
			assert.Nil(t, paste.RemainingViews())
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_DeleteExpired(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	t.Run("unknown error", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectExec(`DELETE FROM pastes`).
			WithArgs(now).
			WillReturnError(errUnknown)

		_, err := store.DeleteExpired(context.TODO(), now)

		assert.ErrorIs(t, err, errUnknown)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rows affected error", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectExec(`DELETE FROM pastes`).
			WithArgs(now).
			WillReturnResult(sqlmock.NewErrorResult(errAffectedRows))

		_, err := store.DeleteExpired(context.TODO(), now)

		assert.ErrorIs(t, err, errAffectedRows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectExec(`DELETE FROM pastes`).
			WithArgs(now).
			WillReturnResult(sqlmock.NewResult(0, 4))

		n, err := store.DeleteExpired(context.TODO(), now)

		assert.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Ping(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectPing().WillReturnError(errUnknown)

	err := store.Ping(context.TODO())

	assert.ErrorIs(t, err, errUnknown)
	assert.NoError(t, mock.ExpectationsWereMet())
}
