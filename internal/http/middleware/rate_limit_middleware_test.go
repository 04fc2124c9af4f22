package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLocalFixedWindowLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewLocalFixedWindowLimiter()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "10.0.0.1", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i-1 {
			t.Fatalf("remaining = %d after request %d", d.Remaining, i)
		}
	}

	d, err := l.Allow(ctx, "10.0.0.1", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth request should be limited")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("retry-after = %v", d.RetryAfter)
	}

	// Other keys have their own window.
	if d, _ := l.Allow(ctx, "10.0.0.2", 3, time.Minute); !d.Allowed {
		t.Fatal("distinct key should not be limited")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewScopedRateLimiter(NewLocalFixedWindowLimiter(), 2, time.Minute, FailClosed, "test")
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:54321"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send(); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("limited status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining header = %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func TestRateLimiterFailureModes(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	closed := NewScopedRateLimiter(erroringLimiter{}, 10, time.Minute, FailClosed, "closed").Middleware()(next)
	rr := httptest.NewRecorder()
	closed.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail-closed status = %d, want 429", rr.Code)
	}

	open := NewScopedRateLimiter(erroringLimiter{}, 10, time.Minute, FailOpen, "open").Middleware()(next)
	rr = httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("fail-open status = %d, want 200", rr.Code)
	}
}
