// Package loadgen generates synthetic traffic against a running authgate
// instance, for smoke-testing rate limits and the token lifecycle under load.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	StatusCounts  map[string]int64
	Elapsed       time.Duration
}

// Run drives traffic until cfg.Duration elapses or ctx is cancelled.
// Transport errors and 5xx responses count as failures.
func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		mu       sync.Mutex
		total    int64
		failures int64
		counts   = map[string]int64{}
	)
	record := func(status int, err error) {
		// A request cut off by the closing run window is not a failure,
		// it just straddled the deadline. Real client timeouts happen
		// while runCtx is still live and stay counted.
		if err != nil && runCtx.Err() != nil &&
			(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		total++
		if err != nil {
			failures++
			counts["error"]++
			return
		}
		class := classifyStatusClass(status)
		counts[class]++
		if class == "5xx" {
			failures++
		}
	}

	interval := time.Second / time.Duration(cfg.RPS)
	ticks := make(chan struct{})
	go func() {
		defer close(ticks)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				select {
				case ticks <- struct{}{}:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()

	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Concurrency; i++ {
		worker := newWorker(base, profile, cfg.Seed+int64(i))
		g.Go(func() error {
			for range ticks {
				status, err := worker.step(gctx)
				record(status, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		TotalRequests: total,
		Failures:      failures,
		StatusCounts:  counts,
		Elapsed:       time.Since(start),
	}, nil
}

type worker struct {
	base    string
	profile string
	rng     *rand.Rand
	client  *http.Client

	email      string
	password   string
	registered bool
}

func newWorker(base, profile string, seed int64) *worker {
	jar, _ := cookiejar.New(nil)
	rng := rand.New(rand.NewSource(seed))
	return &worker{
		base:     base,
		profile:  profile,
		rng:      rng,
		client:   &http.Client{Timeout: 10 * time.Second, Jar: jar},
		email:    fmt.Sprintf("loadgen-%d@example.com", rng.Int63()),
		password: fmt.Sprintf("loadgen-password-%d", rng.Int63()),
	}
}

func (w *worker) step(ctx context.Context) (int, error) {
	switch w.profile {
	case "health":
		return w.health(ctx)
	case "auth":
		return w.auth(ctx)
	default:
		if w.rng.Intn(3) == 0 {
			return w.health(ctx)
		}
		return w.auth(ctx)
	}
}

func (w *worker) health(ctx context.Context) (int, error) {
	path := "/health/live"
	if w.rng.Intn(2) == 0 {
		path = "/health/ready"
	}
	return w.do(ctx, http.MethodGet, path, nil)
}

func (w *worker) auth(ctx context.Context) (int, error) {
	if !w.registered {
		body := map[string]string{"email": w.email, "password": w.password, "name": "Load Gen"}
		status, err := w.do(ctx, http.MethodPost, "/api/v1/auth/local/register", body)
		if err == nil && (status == http.StatusCreated || status == http.StatusConflict) {
			w.registered = true
		}
		return status, err
	}
	switch w.rng.Intn(4) {
	case 0:
		body := map[string]string{"email": w.email, "password": w.password}
		return w.do(ctx, http.MethodPost, "/api/v1/auth/local/login", body)
	case 1, 2:
		return w.do(ctx, http.MethodGet, "/api/v1/me", nil)
	default:
		return w.do(ctx, http.MethodGet, "/api/v1/me/sessions", nil)
	}
}

func (w *worker) do(ctx context.Context, method, path string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}
