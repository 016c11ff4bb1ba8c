// Package health provides periodic health checks over the daemon's
// collaborators: the result store, the content source, and the
// failsafe circuit. Checks run on an interval and the latest statuses
// are served from the /health endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/failsafe"
	"github.com/tutu-network/sentinel/internal/infra/metrics"
	"github.com/tutu-network/sentinel/internal/infra/sqlite"
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

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a health checker covering the three collaborators
// that can degrade independently of each other: the result store, the
// upstream content source, and the failsafe circuit. sourcePing probes
// the content source without consuming its pagination cursor — callers
// typically pass a lightweight reachability check distinct from Fetch.
func NewChecker(db *sqlite.DB, sourcePing func(ctx context.Context) error, dispatcher *failsafe.Dispatcher) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
				RecoverFn: func(ctx context.Context) error {
					return nil // WAL mode recovers on its own after a transient lock
				},
			},
			{
				Name: "content_source",
				CheckFn: func(ctx context.Context) error {
					if sourcePing == nil {
						return nil
					}
					return sourcePing(ctx)
				},
			},
			{
				Name: "circuit",
				CheckFn: func(ctx context.Context) error {
					if dispatcher == nil {
						return nil
					}
					if phase := dispatcher.Phase(); phase == domain.PhaseOpen {
						return fmt.Errorf("circuit breaker open, serving lexicon fallback only")
					}
					return nil
				},
			},
		},
	}
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
			s.Healthy = false
			s.Error = err.Error()
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s

		gaugeVal := 0.0
		if s.Healthy {
			gaugeVal = 1.0
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(gaugeVal)
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

// IsHealthy returns true if all checks pass. Vacuously true before the
// first run.
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
