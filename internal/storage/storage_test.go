package storage

import (
	"testing"
	"time"
)

func int64p(v int64) *int64 { return &v }

func TestConsumable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(10 * time.Second)

	cases := []struct {
		name  string
		paste Paste
		at    time.Time
		want  bool
	}{
		{"unlimited", Paste{}, now.Add(1000 * time.Hour), true},
		{"before deadline", Paste{ExpiresAt: &expires}, expires.Add(-time.Second), true},
		{"at deadline", Paste{ExpiresAt: &expires}, expires, false},
		{"after deadline", Paste{ExpiresAt: &expires}, expires.Add(time.Nanosecond), false},
		{"views left", Paste{MaxViews: int64p(2), ViewCount: 1}, now, true},
		{"views used", Paste{MaxViews: int64p(2), ViewCount: 2}, now, false},
		{"zero views", Paste{MaxViews: int64p(0)}, now, false},
		{"both ok", Paste{ExpiresAt: &expires, MaxViews: int64p(1)}, now, true},
		{"expired with views", Paste{ExpiresAt: &expires, MaxViews: int64p(5)}, expires, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.paste.Consumable(tc.at); got != tc.want {
				t.Fatalf("Consumable(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestRemainingViews(t *testing.T) {
	if (Paste{}).RemainingViews() != nil {
		t.Fatalf("expected nil remaining views for unlimited paste")
	}
	p := Paste{MaxViews: int64p(3), ViewCount: 1}
	if got := *p.RemainingViews(); got != 2 {
		t.Fatalf("expected 2 remaining, got %d", got)
	}
	p.ViewCount = 7
	if got := *p.RemainingViews(); got != 0 {
		t.Fatalf("expected remaining clamped to 0, got %d", got)
	}
}

func TestDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	if _, ok := (Paste{}).Deadline(now); ok {
		t.Fatalf("unlimited paste should have no deadline")
	}
	d, ok := Paste{ExpiresAt: &later}.Deadline(now)
	if !ok || !d.Equal(later) {
		t.Fatalf("expected ttl deadline %v, got %v %v", later, d, ok)
	}
	d, ok = Paste{ExpiresAt: &later, MaxViews: int64p(1), ViewCount: 1}.Deadline(now)
	if !ok || !d.Equal(now) {
		t.Fatalf("exhausted paste should be dead from %v, got %v", now, d)
	}
}
