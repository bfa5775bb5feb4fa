package pipeline

import (
	"testing"
	"time"
)

func TestSlidingWindow_LimitEnforced(t *testing.T) {
	now := time.Now()
	w := newSlidingWindow(3)
	w.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !w.Allow() {
			t.Fatalf("event %d should be admitted", i)
		}
	}
	if w.Allow() {
		t.Fatal("fourth event inside the window should be rejected")
	}
	if w.Len() != 3 {
		t.Fatalf("rejected events must not be recorded, len=%d", w.Len())
	}
}

func TestSlidingWindow_ExpiryReopensWindow(t *testing.T) {
	now := time.Now()
	w := newSlidingWindow(2)
	w.now = func() time.Time { return now }

	w.Allow()
	w.Allow()
	if w.Allow() {
		t.Fatal("window should be full")
	}

	now = now.Add(61 * time.Second)
	if !w.Allow() {
		t.Fatal("expired entries should free the window")
	}
	if w.Len() != 1 {
		t.Fatalf("expected only the fresh entry, len=%d", w.Len())
	}
}

func TestNewSlidingWindow_NonPositiveLimitDefaults(t *testing.T) {
	w := newSlidingWindow(0)
	if w.limit != 10 {
		t.Fatalf("expected default limit 10, got %d", w.limit)
	}
}
