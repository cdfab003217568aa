// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
// Only critical checkers affect readiness; the rest are reported but
// degrade gracefully (billing provider, object storage).
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	critical bool
	check    Checker
}

// NewRegistry creates a new health check registry. Each checker is bounded
// by timeout (2s when zero).
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a named checker that gates readiness.
func (r *Registry) Register(name string, check Checker) {
	r.add(name, true, check)
}

// RegisterOptional adds a named checker that is reported but never fails readiness.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(name, false, check)
}

func (r *Registry) add(name string, critical bool, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, critical: critical, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		st := nc.check(cctx)
		cancel()

		st.Name = nc.name
		st.Critical = nc.critical
		statuses[i] = st
		if nc.critical && !st.Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// DBChecker pings a database.
func DBChecker(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}

// ConfiguredChecker reports whether an optional integration has credentials.
func ConfiguredChecker(configured bool, whenMissing string) Checker {
	return func(context.Context) Status {
		if !configured {
			return Status{Healthy: false, Detail: whenMissing}
		}
		return Status{Healthy: true}
	}
}
