// Package memstore is a process-local storage.Store, used for tests and
// single-instance deployments that do not need durability.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"ttlpaste/internal/storage"
)

type entry struct {
	mu    sync.Mutex
	paste storage.Paste
}

// Store keeps pastes in a map. The map lock only guards membership; each
// record carries its own mutex so consumption on different ids never contends.
type Store struct {
	mu     sync.RWMutex
	pastes map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{pastes: make(map[string]*entry)}
}

// Insert stores a copy of paste.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pastes[paste.ID]; ok {
		return storage.ErrConflict
	}
	s.pastes[paste.ID] = &entry{paste: clone(*paste)}
	return nil
}

// Consume increments the view counter of a consumable paste.
func (s *Store) Consume(ctx context.Context, id string, now time.Time) (*storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.pastes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paste.Consumable(now) {
		return nil, storage.ErrNotFound
	}
	e.paste.ViewCount++
	out := clone(e.paste)
	return &out, nil
}

// DeleteExpired drops every paste that can no longer be consumed at now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.pastes {
		e.mu.Lock()
		dead := !e.paste.Consumable(now)
		e.mu.Unlock()
		if dead {
			delete(s.pastes, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func clone(p storage.Paste) storage.Paste {
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		p.ExpiresAt = &t
	}
	if p.MaxViews != nil {
		v := *p.MaxViews
		p.MaxViews = &v
	}
	return p
}
