package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a paste does not exist or can no longer be consumed.
	ErrNotFound = errors.New("paste not found")
	// ErrConflict is returned by Insert when the id is already taken.
	ErrConflict = errors.New("paste id already exists")
)

// Paste represents a stored paste entry.
type Paste struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxViews  *int64     `json:"max_views,omitempty"`
	ViewCount int64      `json:"view_count"`
}

// HasExpiration reports whether the paste has a TTL deadline.
func (p Paste) HasExpiration() bool {
	return p.ExpiresAt != nil
}

// Expired reports whether the TTL deadline has been reached at now.
func (p Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// Exhausted reports whether every allowed view has been used.
func (p Paste) Exhausted() bool {
	return p.MaxViews != nil && p.ViewCount >= *p.MaxViews
}

// Consumable reports whether a retrieval at now may succeed.
func (p Paste) Consumable(now time.Time) bool {
	return !p.Expired(now) && !p.Exhausted()
}

// RemainingViews returns how many views are left, or nil when unlimited.
func (p Paste) RemainingViews() *int64 {
	if p.MaxViews == nil {
		return nil
	}
	left := *p.MaxViews - p.ViewCount
	if left < 0 {
		left = 0
	}
	return &left
}

// Deadline returns the instant after which the paste is permanently gone,
// if such an instant is known. An exhausted paste is dead from exhaustedAt.
func (p Paste) Deadline(exhaustedAt time.Time) (time.Time, bool) {
	if p.Exhausted() {
		if p.ExpiresAt != nil && p.ExpiresAt.Before(exhaustedAt) {
			return *p.ExpiresAt, true
		}
		return exhaustedAt, true
	}
	if p.ExpiresAt != nil {
		return *p.ExpiresAt, true
	}
	return time.Time{}, false
}

// Store defines the storage backend contract.
//
// Consume must check consumability and increment the view counter as one
// atomic step per id: with one view left, concurrent callers get exactly one
// success.
type Store interface {
	Insert(ctx context.Context, paste *Paste) error
	Consume(ctx context.Context, id string, now time.Time) (*Paste, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
