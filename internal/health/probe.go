package health

import (
	"context"
	"sync"
	"time"
)

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

type CheckerFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	if err := c.Fn(ctx); err != nil {
		return CheckResult{Name: c.Name, Healthy: false, Error: err.Error()}
	}
	return CheckResult{Name: c.Name, Healthy: true}
}

// ProbeRunner caches readiness results so probe traffic cannot hammer the
// dependencies it is checking.
type ProbeRunner struct {
	interval time.Duration
	timeout  time.Duration
	checkers []Checker

	mu      sync.Mutex
	lastRun time.Time
	ready   bool
	results []CheckResult
}

func NewProbeRunner(interval, timeout time.Duration, checkers ...Checker) *ProbeRunner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProbeRunner{interval: interval, timeout: timeout, checkers: checkers}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastRun) < p.interval && p.results != nil {
		return p.ready, p.results
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ready := true
	results := make([]CheckResult, 0, len(p.checkers))
	for _, c := range p.checkers {
		res := c.Check(ctx)
		if !res.Healthy {
			ready = false
		}
		results = append(results, res)
	}
	p.lastRun = time.Now()
	p.ready = ready
	p.results = results
	return ready, results
}
