// Package health runs periodic checks over the node's storage and its
// oracle round trip.
package health

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/imperfect-abs/abshub/internal/infra/metrics"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// BacklogFunc counts oracle requests that have waited longer than the
// given age without a callback.
type BacklogFunc func(ctx context.Context, olderThan time.Duration) (int, error)

// RequeueFunc re-sends oracle requests older than the given age and
// reports how many went out again.
type RequeueFunc func(ctx context.Context, olderThan time.Duration) (int, error)

// Options tune the standard checks.
type Options struct {
	DataDir    string
	Backlog    BacklogFunc   // nil skips the oracle check
	Requeue    RequeueFunc   // run when the backlog check fails
	StaleAfter time.Duration // a request older than this is stuck
	MaxStale   int           // stuck requests tolerated
	Interval   time.Duration
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker with the sqlite, data_dir and (when a
// backlog source is given) oracle_backlog checks.
func NewChecker(db *sqlite.DB, opts Options) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	c := &Checker{
		interval: opts.Interval,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "data_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDataDir(opts.DataDir)
				},
			},
		},
	}
	if opts.Backlog != nil {
		check := Check{
			Name: "oracle_backlog",
			CheckFn: func(ctx context.Context) error {
				n, err := opts.Backlog(ctx, opts.StaleAfter)
				if err != nil {
					return err
				}
				if n > opts.MaxStale {
					return fmt.Errorf("%d analysis requests pending for over %s", n, opts.StaleAfter)
				}
				return nil
			},
		}
		if opts.Requeue != nil {
			check.RecoverFn = func(ctx context.Context) error {
				n, err := opts.Requeue(ctx, opts.StaleAfter)
				if n > 0 {
					log.Printf("[health] re-sent %d stale analysis requests", n)
				}
				return err
			}
		}
		c.checks = append(c.checks, check)
	}
	return c
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			log.Printf("[health] %s: %v", check.Name, err)
			if check.RecoverFn != nil {
				if err := check.RecoverFn(ctx); err != nil {
					log.Printf("[health] %s recovery: %v", check.Name, err)
				}
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
