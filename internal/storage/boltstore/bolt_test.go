package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ttlpaste/internal/storage"
	"ttlpaste/internal/storage/storagetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTemp(t)
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	now := time.Now().UTC().Round(time.Second)
	one := int64(1)
	paste := &storage.Paste{ID: "abc123", Content: "hello", CreatedAt: now, MaxViews: &one}
	if err := store.Insert(context.Background(), paste); err != nil {
		t.Fatalf("insert paste: %v", err)
	}
	if _, err := store.Consume(context.Background(), "abc123", now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if _, err := store.Consume(context.Background(), "abc123", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected exhausted paste to stay gone after reopen, got %v", err)
	}
}

func TestExhaustedPasteIndexedAtLastView(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()

	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	expires := created.Add(24 * time.Hour)
	one := int64(1)
	paste := &storage.Paste{ID: "once", Content: "x", CreatedAt: created, ExpiresAt: &expires, MaxViews: &one}
	if err := store.Insert(ctx, paste); err != nil {
		t.Fatalf("insert: %v", err)
	}

	viewedAt := created.Add(time.Hour)
	if _, err := store.Consume(ctx, "once", viewedAt); err != nil {
		t.Fatalf("consume: %v", err)
	}

	removed, err := store.DeleteExpired(ctx, viewedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the exhausted paste to be swept before its ttl, removed %d", removed)
	}
}
