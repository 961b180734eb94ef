// Package ratelimit implements fixed-window request throttling keyed by client.
package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/identity"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

type counter struct {
	start time.Time
	count int
}

// FixedWindow counts requests per key in windows aligned to multiples of
// the window length. A counter resets when its window ends, not gradually.
type FixedWindow struct {
	mu       sync.Mutex
	counters map[string]*counter
	limit    int
	window   time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFixedWindow creates a limiter allowing limit requests per window and
// starts the background eviction goroutine. Call Close to stop it.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &FixedWindow{
		counters: make(map[string]*counter),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	l.startEviction()
	return l
}

// Limit returns the per-window cap.
func (l *FixedWindow) Limit() int { return l.limit }

// Window returns the window length.
func (l *FixedWindow) Window() time.Duration { return l.window }

// Allow records one request for key and reports whether it is within the cap.
func (l *FixedWindow) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Truncate(l.window)
	c, ok := l.counters[key]
	if !ok || !c.start.Equal(start) {
		c = &counter{start: start}
		l.counters[key] = c
	}

	d := Decision{Limit: l.limit, ResetAt: start.Add(l.window)}
	if c.count >= l.limit {
		return d
	}
	c.count++
	d.Allowed = true
	d.Remaining = l.limit - c.count
	return d
}

// Close stops the eviction goroutine.
func (l *FixedWindow) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
}

// startEviction periodically drops counters from finished windows so the
// map does not grow without bound.
func (l *FixedWindow) startEviction() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.window)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.evict()
			}
		}
	}()
}

func (l *FixedWindow) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.now().Truncate(l.window)
	for key, c := range l.counters {
		if c.start.Before(current) {
			delete(l.counters, key)
		}
	}
}

// Middleware throttles requests by client IP. Rejected requests get a 429
// with a Retry-After header and a {message, retryAfter} body.
func Middleware(l *FixedWindow, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := identity.IPFromRequest(r)
			d := l.Allow(key)
			now := l.now()
			resetSecs := int(math.Ceil(d.RetryAfter(now).Seconds()))

			w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("RateLimit-Reset", strconv.Itoa(resetSecs))

			if !d.Allowed {
				slog.Warn("Rate limit exceeded", "client", key, "path", r.URL.Path, "retry_after_s", resetSecs)
				w.Header().Set("Retry-After", strconv.Itoa(resetSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				if err := json.NewEncoder(w).Encode(map[string]any{
					"message":    message,
					"retryAfter": resetSecs,
				}); err != nil {
					slog.Debug("failed to write rate limit response", "error", err)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
