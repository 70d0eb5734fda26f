package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Local keeps one fixed window per key in process memory. A single mutex
// serialises the table so concurrent requests never lose an increment.
type Local struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	windows     map[string]*rateWindow
	now         func() time.Time
}

type rateWindow struct {
	start time.Time
	count int64
}

func NewLocal(window time.Duration, maxRequests int) *Local {
	cfg := Config{Window: window, MaxRequests: maxRequests}.withDefaults()
	return &Local{
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		windows:     make(map[string]*rateWindow),
		now:         time.Now,
	}
}

// Admit counts the request against key's window. Denied requests are still
// counted, so a saturated key keeps climbing until its window resets.
func (l *Local) Admit(_ context.Context, key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, w := range l.windows {
		if now.Sub(w.start) > l.window {
			delete(l.windows, k)
		}
	}

	w, ok := l.windows[key]
	if !ok {
		w = &rateWindow{start: now}
		l.windows[key] = w
	}
	w.count++

	d := Decision{
		Outcome:   Admitted,
		Limit:     l.maxRequests,
		Remaining: remaining(l.maxRequests, w.count),
		ResetAt:   w.start.Add(l.window),
	}
	if w.count > int64(l.maxRequests) {
		d.Outcome = Denied
		d.RetryAfter = ceilSeconds(l.window - now.Sub(w.start))
	}
	return d
}

// Len reports how many keys currently hold a window.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Reset drops every window. Called when the service shuts down.
func (l *Local) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*rateWindow)
}
