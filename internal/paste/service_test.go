package paste

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttlpaste/internal/clock"
	"ttlpaste/internal/storage"
	"ttlpaste/internal/storage/boltstore"
	"ttlpaste/internal/storage/memstore"
	"ttlpaste/internal/storage/sqlitestore"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type storeFactory struct {
	name string
	open func(t *testing.T) storage.Store
}

var stores = []storeFactory{
	{"memory", func(t *testing.T) storage.Store { return memstore.New() }},
	{"bolt", func(t *testing.T) storage.Store {
		s, err := boltstore.Open(filepath.Join(t.TempDir(), "pastes.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
	{"sqlite", func(t *testing.T) storage.Store {
		s, err := sqlitestore.Open(filepath.Join(t.TempDir(), "pastes.sqlite"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
}

func newService(t *testing.T, store storage.Store, clk clock.Clock) *Service {
	t.Helper()
	svc, err := New(Config{Store: store, Clock: clk, MaxBytes: 64})
	require.NoError(t, err)
	return svc
}

func ptr(v int64) *int64 { return &v }

func eachStore(t *testing.T, fn func(t *testing.T, svc *Service, clk *clock.Manual)) {
	for _, f := range stores {
		t.Run(f.name, func(t *testing.T) {
			clk := clock.NewManual(t0)
			fn(t, newService(t, f.open(t), clk), clk)
		})
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc := newService(t, memstore.New(), clock.NewManual(t0))

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"empty content", CreateRequest{}, "content"},
		{"invalid utf8", CreateRequest{Content: "\xff\xfe"}, "content"},
		{"too large", CreateRequest{Content: strings.Repeat("a", 65)}, "content"},
		{"negative ttl", CreateRequest{Content: "x", TTLSeconds: ptr(-1)}, "ttl_seconds"},
		{"negative max views", CreateRequest{Content: "x", MaxViews: ptr(-5)}, "max_views"},
		{"ttl past cap", CreateRequest{Content: "x", TTLSeconds: ptr(MaxTTLSeconds + 1)}, "ttl_seconds"},
		{"ttl overflows duration", CreateRequest{Content: "x", TTLSeconds: ptr(10_000_000_000)}, "ttl_seconds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := svc.Create(context.Background(), tc.req)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrInvalidArgument)

			var iae *InvalidArgumentError
			require.True(t, errors.As(err, &iae))
			assert.Equal(t, tc.field, iae.Field)
		})
	}
}

func TestParseOptionalInt(t *testing.T) {
	v, err := ParseOptionalInt("ttl_seconds", "")
	assert.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseOptionalInt("ttl_seconds", " 60 ")
	require.NoError(t, err)
	assert.Equal(t, int64(60), *v)

	_, err = ParseOptionalInt("max_views", "abc")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseOptionalInt("max_views", "1.5")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateComputesExpiry(t *testing.T) {
	clk := clock.NewManual(t0.Add(1500 * time.Microsecond))
	svc := newService(t, memstore.New(), clk)

	p, err := svc.Create(context.Background(), CreateRequest{Content: "hello", TTLSeconds: ptr(60), MaxViews: ptr(2)})
	require.NoError(t, err)
	assert.Len(t, p.ID, 8)
	assert.Equal(t, t0.Add(time.Millisecond), p.CreatedAt)
	require.NotNil(t, p.ExpiresAt)
	assert.Equal(t, p.CreatedAt.Add(time.Minute), *p.ExpiresAt)
	assert.Equal(t, int64(2), *p.MaxViews)
	assert.Zero(t, p.ViewCount)
}

func TestCreateHonoursClockOverride(t *testing.T) {
	svc := newService(t, memstore.New(), clock.NewManual(t0))
	override := t0.Add(24 * time.Hour)
	ctx := clock.WithOverride(context.Background(), override)

	p, err := svc.Create(ctx, CreateRequest{Content: "hello", TTLSeconds: ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, override, p.CreatedAt)

	// At the service clock the paste is still live; at override+10s it is gone.
	_, err = svc.FetchAndConsume(context.Background(), p.ID)
	assert.NoError(t, err)
	_, err = svc.FetchAndConsume(clock.WithOverride(context.Background(), override.Add(10*time.Second)), p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaxViewsExhaustion(t *testing.T) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		ctx := context.Background()
		p, err := svc.Create(ctx, CreateRequest{Content: "secret", MaxViews: ptr(3)})
		require.NoError(t, err)

		for want := int64(2); want >= 0; want-- {
			got, err := svc.FetchAndConsume(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, "secret", got.Content)
			require.NotNil(t, got.RemainingViews)
			assert.Equal(t, want, *got.RemainingViews)
		}

		for i := 0; i < 3; i++ {
			_, err := svc.FetchAndConsume(ctx, p.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		}
	})
}

func TestZeroLimitsAreNeverConsumable(t *testing.T) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		ctx := context.Background()
		a, err := svc.Create(ctx, CreateRequest{Content: "a", MaxViews: ptr(0)})
		require.NoError(t, err)
		b, err := svc.Create(ctx, CreateRequest{Content: "b", TTLSeconds: ptr(0)})
		require.NoError(t, err)

		_, err = svc.FetchAndConsume(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.FetchAndConsume(ctx, b.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTTLBoundary(t *testing.T) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		ctx := context.Background()
		p, err := svc.Create(ctx, CreateRequest{Content: "ttl", TTLSeconds: ptr(60)})
		require.NoError(t, err)

		clk.Set(t0.Add(59 * time.Second))
		got, err := svc.FetchAndConsume(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, got.RemainingViews)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, got.ExpiresAt.Equal(t0.Add(time.Minute)))

		clk.Set(t0.Add(60 * time.Second))
		_, err = svc.FetchAndConsume(ctx, p.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		clk.Set(t0.Add(2 * time.Hour))
		_, err = svc.FetchAndConsume(ctx, p.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMaxTTLStaysConsumable(t *testing.T) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		ctx := context.Background()
		p, err := svc.Create(ctx, CreateRequest{Content: "long lived", TTLSeconds: ptr(MaxTTLSeconds)})
		require.NoError(t, err)
		require.NotNil(t, p.ExpiresAt)
		assert.Equal(t, p.CreatedAt.Add(time.Duration(MaxTTLSeconds)*time.Second), *p.ExpiresAt)

		n, err := svc.Purge(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = svc.FetchAndConsume(ctx, p.ID)
		require.NoError(t, err)

		clk.Set(p.ExpiresAt.Add(-time.Second))
		_, err = svc.FetchAndConsume(ctx, p.ID)
		require.NoError(t, err)

		clk.Set(*p.ExpiresAt)
		_, err = svc.FetchAndConsume(ctx, p.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUnlimitedPaste(t *testing.T) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		ctx := context.Background()
		p, err := svc.Create(ctx, CreateRequest{Content: "forever"})
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			clk.Advance(24 * time.Hour)
			got, err := svc.FetchAndConsume(ctx, p.ID)
			require.NoError(t, err)
			assert.Nil(t, got.RemainingViews)
			assert.Nil(t, got.ExpiresAt)
		}
	})
}

func TestFetchMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		_, err := svc.FetchAndConsume(context.Background(), "deadbeef")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.FetchAndConsume(context.Background(), "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConcurrentConsumption(t *testing.T) {
	for _, limit := range []int64{1, 5} {
		t.Run(fmt.Sprintf("max_views=%d", limit), func(t *testing.T) {
			concurrentConsumption(t, limit)
		})
	}
}

func concurrentConsumption(t *testing.T, limit int64) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		ctx := context.Background()
		p, err := svc.Create(ctx, CreateRequest{Content: "race", MaxViews: ptr(limit)})
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			ok       atomic.Int64
			notFound atomic.Int64
			start    = make(chan struct{})
		)
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.FetchAndConsume(ctx, p.ID)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, ErrNotFound):
					notFound.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, limit, ok.Load())
		assert.Equal(t, 40-limit, notFound.Load())
	})
}

type sequenceIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *sequenceIDs) Generate(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return "", errors.New("out of ids")
	}
	next := s.ids[0]
	s.ids = s.ids[1:]
	return next, nil
}

func TestCreateRetriesOnCollision(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Insert(context.Background(), &storage.Paste{ID: "taken", Content: "x", CreatedAt: t0}))

	t.Run("finds a free id", func(t *testing.T) {
		svc, err := New(Config{Store: store, Clock: clock.Fixed(t0), IDs: &sequenceIDs{ids: []string{"taken", "taken", "fresh"}}})
		require.NoError(t, err)

		p, err := svc.Create(context.Background(), CreateRequest{Content: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "fresh", p.ID)
	})

	t.Run("gives up after five attempts", func(t *testing.T) {
		ids := &sequenceIDs{ids: []string{"taken", "taken", "taken", "taken", "taken", "spare"}}
		svc, err := New(Config{Store: store, Clock: clock.Fixed(t0), IDs: ids})
		require.NoError(t, err)

		_, err = svc.Create(context.Background(), CreateRequest{Content: "hello"})
		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.Equal(t, []string{"spare"}, ids.ids)
	})
}

type pingStore struct {
	storage.Store
	err error
}

func (p pingStore) Ping(ctx context.Context) error { return p.err }

func TestHealthcheck(t *testing.T) {
	svc := newService(t, memstore.New(), clock.Fixed(t0))
	assert.NoError(t, svc.Healthcheck(context.Background()))

	boom := errors.New("disk gone")
	svc = newService(t, pingStore{Store: memstore.New(), err: boom}, clock.Fixed(t0))
	err := svc.Healthcheck(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestPurge(t *testing.T) {
	eachStore(t, func(t *testing.T, svc *Service, clk *clock.Manual) {
		ctx := context.Background()
		ttl, err := svc.Create(ctx, CreateRequest{Content: "ttl", TTLSeconds: ptr(30)})
		require.NoError(t, err)
		once, err := svc.Create(ctx, CreateRequest{Content: "once", MaxViews: ptr(1)})
		require.NoError(t, err)
		keep, err := svc.Create(ctx, CreateRequest{Content: "keep"})
		require.NoError(t, err)

		_, err = svc.FetchAndConsume(ctx, once.ID)
		require.NoError(t, err)

		clk.Advance(time.Minute)
		n, err := svc.Purge(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = svc.FetchAndConsume(ctx, ttl.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.FetchAndConsume(ctx, keep.ID)
		assert.NoError(t, err)
	})
}
