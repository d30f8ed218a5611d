package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window per-client limiter. Windows reset whole,
// so a burst at a window boundary can briefly exceed the average rate.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	requests int
	interval time.Duration
	now      func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewRateLimiter(requests int, interval time.Duration) *RateLimiter {
	return NewRateLimiterWithClock(requests, interval, time.Now)
}

// NewRateLimiterWithClock injects a clock for deterministic tests.
func NewRateLimiterWithClock(requests int, interval time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		windows:  make(map[string]*window),
		requests: requests,
		interval: interval,
		now:      now,
	}
}

// Allow records a request for the client and reports whether it fits the
// current window. When denied, retryAfter is the time until the window
// resets.
func (l *RateLimiter) Allow(client string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[client]
	if !ok || now.Sub(w.start) >= l.interval {
		l.windows[client] = &window{start: now, count: 1}
		l.pruneLocked(now)
		return true, 0
	}

	if w.count >= l.requests {
		return false, w.start.Add(l.interval).Sub(now)
	}

	w.count++
	return true, 0
}

// pruneLocked drops expired windows so the map does not grow with every
// client ever seen.
func (l *RateLimiter) pruneLocked(now time.Time) {
	for client, w := range l.windows {
		if now.Sub(w.start) >= l.interval {
			delete(l.windows, client)
		}
	}
}

// rateLimitMiddleware enforces the limiter per client IP. Health probes are
// exempt.
func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		allowed, retryAfter := limiter.Allow(c.ClientIP())
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": seconds,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
