package pipeline

import (
	"sync"
	"time"
)

const rateWindow = 60 * time.Second

// slidingWindow throttles notifications to at most limit events per rolling
// 60-second window. Safe for concurrent use: all adapter loops share one
// pipeline and therefore one window.
type slidingWindow struct {
	mu    sync.Mutex
	limit int
	times []time.Time
	now   func() time.Time
}

func newSlidingWindow(limit int) *slidingWindow {
	if limit <= 0 {
		limit = 10
	}
	return &slidingWindow{limit: limit, now: time.Now}
}

// Allow purges entries older than the window, then admits the event only if
// the window has room. A rejected event is not recorded, so it does not
// extend the window.
func (w *slidingWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	kept := w.times[:0]
	for _, t := range w.times {
		if now.Sub(t) < rateWindow {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= w.limit {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// Len reports current window occupancy.
func (w *slidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.times)
}
