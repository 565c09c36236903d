// Package storagetest holds the behavioural suite every storage.Store backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ttlpaste/internal/storage"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

func newPaste(id string, ttl time.Duration, maxViews *int64) *storage.Paste {
	p := &storage.Paste{ID: id, Content: "content of " + id, CreatedAt: base, MaxViews: maxViews}
	if ttl > 0 {
		exp := base.Add(ttl)
		p.ExpiresAt = &exp
	}
	return p
}

// Run executes the suite against the store produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertConsume", func(t *testing.T) { testInsertConsume(t, newStore(t)) })
	t.Run("Conflict", func(t *testing.T) { testConflict(t, newStore(t)) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("MaxViews", func(t *testing.T) { testMaxViews(t, newStore(t)) })
	t.Run("TTLBoundary", func(t *testing.T) { testTTLBoundary(t, newStore(t)) })
	t.Run("ConcurrentLastView", func(t *testing.T) { testConcurrentLastView(t, newStore(t)) })
	t.Run("ConcurrentExhaustion", func(t *testing.T) { testConcurrentExhaustion(t, newStore(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}

func testInsertConsume(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := newPaste("plain", time.Hour, nil)
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i := 1; i <= 3; i++ {
		got, err := s.Consume(ctx, "plain", base.Add(time.Minute))
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if got.Content != p.Content {
			t.Fatalf("expected content %q got %q", p.Content, got.Content)
		}
		if got.ViewCount != int64(i) {
			t.Fatalf("expected view count %d got %d", i, got.ViewCount)
		}
		if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*p.ExpiresAt) {
			t.Fatalf("expected expires_at %v got %v", p.ExpiresAt, got.ExpiresAt)
		}
		if got.MaxViews != nil {
			t.Fatalf("expected unlimited views, got %d", *got.MaxViews)
		}
		if !got.CreatedAt.Equal(base) {
			t.Fatalf("expected created_at %v got %v", base, got.CreatedAt)
		}
	}
}

func testConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, newPaste("dup", 0, nil)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.Insert(ctx, newPaste("dup", 0, int64p(1)))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := s.Consume(ctx, "dup", base)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.MaxViews != nil {
		t.Fatalf("conflicting insert overwrote the original record")
	}
}

func testMissing(t *testing.T, s storage.Store) {
	if _, err := s.Consume(context.Background(), "nope", base); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testMaxViews(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, newPaste("three", 0, int64p(3))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		got, err := s.Consume(ctx, "three", base)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if left := *got.RemainingViews(); left != 3-i {
			t.Fatalf("expected %d remaining got %d", 3-i, left)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Consume(ctx, "three", base); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after exhaustion, got %v", err)
		}
	}

	if err := s.Insert(ctx, newPaste("zero", 0, int64p(0))); err != nil {
		t.Fatalf("insert zero: %v", err)
	}
	if _, err := s.Consume(ctx, "zero", base); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected max_views=0 to be unreadable, got %v", err)
	}
}

func testTTLBoundary(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, newPaste("ttl", 60*time.Second, nil)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Consume(ctx, "ttl", base.Add(59*time.Second)); err != nil {
		t.Fatalf("expected consumable one second before expiry: %v", err)
	}
	if _, err := s.Consume(ctx, "ttl", base.Add(60*time.Second)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound at expiry, got %v", err)
	}
	// The rejected read above must not have counted.
	got, err := s.Consume(ctx, "ttl", base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("consume at earlier instant: %v", err)
	}
	if got.ViewCount != 2 {
		t.Fatalf("rejected read incremented the counter: view_count=%d", got.ViewCount)
	}
}

func testConcurrentLastView(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for round := 0; round < 10; round++ {
		id := fmt.Sprintf("race%d", round)
		if err := s.Insert(ctx, newPaste(id, 0, int64p(1))); err != nil {
			t.Fatalf("insert: %v", err)
		}
		var ok, missing atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.Consume(ctx, id, base)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, storage.ErrNotFound):
					missing.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()
		if ok.Load() != 1 || missing.Load() != 1 {
			t.Fatalf("round %d: expected 1 success and 1 not-found, got %d and %d", round, ok.Load(), missing.Load())
		}
	}
}

func testConcurrentExhaustion(t *testing.T, s storage.Store) {
	const maxViews, callers = 5, 20
	ctx := context.Background()
	if err := s.Insert(ctx, newPaste("herd", 0, int64p(maxViews))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, "herd", base); err == nil {
				ok.Add(1)
			} else if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != maxViews {
		t.Fatalf("expected exactly %d successes, got %d", maxViews, ok.Load())
	}
}

func testDeleteExpired(t *testing.T, s storage.Store) {
	ctx := context.Background()
	pastes := []*storage.Paste{
		newPaste("alive", time.Hour, nil),
		newPaste("forever", 0, nil),
		newPaste("dead", time.Minute, nil),
		newPaste("used", 0, int64p(1)),
		newPaste("unused", 0, int64p(1)),
	}
	for _, p := range pastes {
		if err := s.Insert(ctx, p); err != nil {
			t.Fatalf("insert %s: %v", p.ID, err)
		}
	}
	now := base.Add(2 * time.Minute)
	if _, err := s.Consume(ctx, "used", now); err != nil {
		t.Fatalf("consume used: %v", err)
	}

	removed, err := s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	for _, id := range []string{"alive", "forever", "unused"} {
		if _, err := s.Consume(ctx, id, now); err != nil {
			t.Fatalf("expected %s to survive: %v", id, err)
		}
	}
	// "unused" just spent its only view and is purged on the next sweep.
	removed, err = s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal on second sweep, got %d", removed)
	}
}
