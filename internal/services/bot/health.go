package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"
)

// HealthCheck tests one dependency
type HealthCheck struct {
	Name string
	// Critical checks gate Start; the rest are reported only
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthResult is one check outcome
type HealthResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthChecker runs every registered check in parallel
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	timeout time.Duration
	logger  arbor.ILogger
}

// NewHealthChecker bounds each check by timeout
func NewHealthChecker(timeout time.Duration, logger arbor.ILogger, checks ...HealthCheck) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{checks: checks, timeout: timeout, logger: logger}
}

// Register adds a check for components built after the checker
func (h *HealthChecker) Register(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Run checks every dependency. It never fails; unhealthy results carry the error.
func (h *HealthChecker) Run(ctx context.Context) []HealthResult {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]HealthResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := check.Check(checkCtx)
			results[i] = HealthResult{
				Name:      check.Name,
				Healthy:   err == nil,
				Critical:  check.Critical,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// RequireCritical returns ErrDependencyUnavailable naming every failed critical check
func (h *HealthChecker) RequireCritical(ctx context.Context) error {
	var failed []string
	for _, r := range h.Run(ctx) {
		if r.Critical && !r.Healthy {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Error))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	h.logger.Warn().Str("failed", strings.Join(failed, "; ")).Msg("Critical dependency check failed")
	return fmt.Errorf("%w: %s", ErrDependencyUnavailable, strings.Join(failed, "; "))
}

// HTTPReachable treats any response below 500 as reachable. Login pages
// commonly answer 401/403 to an anonymous GET.
func HTTPReachable(client *http.Client, url string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if url == "" {
			return errors.New("no url configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}
