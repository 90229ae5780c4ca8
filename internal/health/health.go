// Package health provides health check functionality for geocamd.
//
// Features:
//   - Liveness (is the process running)
//   - Readiness (is the server ready to accept work)
//   - Per-component checks with timeouts
//   - Aggregated status for the health endpoint
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

// Check performs a health check.
type Check func(ctx context.Context) CheckResult

// Component is a health-checkable part of the server.
type Component struct {
	Name     string
	Critical bool // failure makes the overall status unhealthy
	Check    Check
	Timeout  time.Duration
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
	ready      bool
	version    string
}

// NewChecker creates a Checker reporting the given version string.
func NewChecker(version string) *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
		version:    version,
	}
}

// Register adds a component.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if component.Timeout == 0 {
		component.Timeout = 5 * time.Second
	}
	c.components[component.Name] = component
}

// SetReady flips the readiness flag once startup completes.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// Report is the aggregated health response.
type Report struct {
	Status     string                 `json:"status"`
	Ready      bool                   `json:"ready"`
	UptimeS    int64                  `json:"uptime_s"`
	Version    string                 `json:"version"`
	Components map[string]CheckResult `json:"components,omitempty"`
}

// RunChecks executes every registered check and aggregates the result.
func (c *Checker) RunChecks(ctx context.Context) Report {
	c.mu.RLock()
	comps := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		comps = append(comps, comp)
	}
	ready := c.ready
	c.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]CheckResult, len(comps))
	for _, comp := range comps {
		res := c.runOne(ctx, comp)
		results[comp.Name] = res
		switch res.Status {
		case StatusUnhealthy:
			if comp.Critical {
				overall = StatusUnhealthy
			} else if overall == StatusHealthy {
				overall = StatusDegraded
			}
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	c.mu.Lock()
	c.results = results
	c.mu.Unlock()

	return Report{
		Status:     string(overall),
		Ready:      ready,
		UptimeS:    int64(time.Since(c.startTime).Seconds()),
		Version:    c.version,
		Components: results,
	}
}

func (c *Checker) runOne(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- comp.Check(ctx) }()

	select {
	case res := <-done:
		res.LastChecked = start
		res.Duration = time.Since(start)
		return res
	case <-ctx.Done():
		return CheckResult{
			Status:      StatusUnhealthy,
			Error:       "check timed out",
			LastChecked: start,
			Duration:    time.Since(start),
		}
	}
}
