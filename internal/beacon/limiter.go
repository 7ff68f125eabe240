package beacon

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter is an in-memory token bucket per key. Each key gets limit tokens
// per window, refilled continuously.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter returns nil when limit is not positive; a nil Limiter allows
// everything.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		entries: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.entries[key]
	if !ok {
		l.entries[key] = &bucket{tokens: float64(l.limit - 1), lastCheck: now}
		return true
	}

	rate := float64(l.limit) / l.window.Seconds()
	b.tokens += now.Sub(b.lastCheck).Seconds() * rate
	b.lastCheck = now
	if b.tokens > float64(l.limit) {
		b.tokens = float64(l.limit)
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Run evicts idle buckets every window until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	for key, b := range l.entries {
		if b.lastCheck.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
