package clock

import (
	"context"
	"testing"
	"time"
)

func TestFromContext(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manual := NewManual(base)

	if got := FromContext(context.Background(), manual).Now(); !got.Equal(base) {
		t.Fatalf("expected fallback time %v, got %v", base, got)
	}

	override := base.Add(42 * time.Hour)
	ctx := WithOverride(context.Background(), override)
	if got := FromContext(ctx, manual).Now(); !got.Equal(override) {
		t.Fatalf("expected override %v, got %v", override, got)
	}

	if _, ok := FromContext(context.Background(), nil).(System); !ok {
		t.Fatalf("expected System clock when no fallback given")
	}
}

func TestManual(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(base)
	m.Advance(time.Minute)
	if got := m.Now(); !got.Equal(base.Add(time.Minute)) {
		t.Fatalf("advance: got %v", got)
	}
	m.Set(base)
	if got := m.Now(); !got.Equal(base) {
		t.Fatalf("set: got %v", got)
	}
}
