// Package clock abstracts "now" so expiry rules can be driven by tests and by
// the test-mode request override.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock, in UTC.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always reports the same instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }

// Manual is a settable clock for tests. The zero value reports the zero time.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

type overrideKey struct{}

// WithOverride returns a context whose clock reports t.
func WithOverride(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, overrideKey{}, Fixed(t.UTC()))
}

// FromContext returns the override carried by ctx, or fallback.
func FromContext(ctx context.Context, fallback Clock) Clock {
	if c, ok := ctx.Value(overrideKey{}).(Fixed); ok {
		return c
	}
	if fallback == nil {
		return System{}
	}
	return fallback
}
