package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/example/authgate/internal/http/response"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	limit   int
	window  time.Duration
	mode    FailureMode
	scope   string
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewScopedRateLimiter(NewLocalFixedWindowLimiter(), limit, window, FailClosed, "local")
}

func NewScopedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limiter: limiter, limit: limit, window: window, mode: mode, scope: scope}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := rl.limiter.Allow(r.Context(), clientIPKey(r), rl.limit, rl.window)
			if err != nil {
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope, "error", err.Error())
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", retryAfterHeader(rl.window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type localFixedWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*localWindow
	sweep   time.Time
}

type localWindow struct {
	start time.Time
	count int
}

func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{
		windows: make(map[string]*localWindow),
		sweep:   time.Now().Add(time.Minute),
	}
}

func (l *localFixedWindowLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweep) {
		for k, w := range l.windows {
			if now.Sub(w.start) > 2*window {
				delete(l.windows, k)
			}
		}
		l.sweep = now.Add(window)
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &localWindow{start: now}
		l.windows[key] = w
	}
	resetAt := w.start.Add(window)
	if w.count >= limit {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: resetAt.Sub(now), ResetAt: resetAt}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: limit - w.count, ResetAt: resetAt}, nil
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	if remaining < 0 {
		remaining = 0
	}
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}
