// Package ratelimit provides a process-local, fixed-window request counter
// used to throttle ping and API traffic per source. It is advisory: counts
// are not shared across instances, which is acceptable for abuse mitigation.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts events per key within a rolling fixed window.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
	nowFn   func() time.Time
}

type window struct {
	start time.Time
	count int
}

// New creates a Limiter allowing limit events per key per window.
func New(limit int, windowDur time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowDur,
		windows: make(map[string]*window),
		nowFn:   time.Now,
	}
}

// Allow reports whether another event for key fits in the current window,
// incrementing the counter if it does.
func (l *Limiter) Allow(key string) bool {
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{start: now, count: 1}
		l.maybePrune(now)
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// maybePrune drops expired windows once the table grows. Called with the
// lock held.
func (l *Limiter) maybePrune(now time.Time) {
	if len(l.windows) < 1024 {
		return
	}
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}
