// Package health runs dependency probes concurrently and serves the results
// as liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/umrum/umrum/pkg/resilience"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes a single dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Pinger is anything with a cheap round-trip probe, such as the Redis and
// Postgres clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports p as down when its Ping fails or takes longer than
// timeout.
func PingCheck(name string, p Pinger, timeout time.Duration) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := resilience.WithTimeout(ctx, timeout, name, p.Ping); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// BreakerCheck reports degraded while cb is not closed. Beacons are still
// answered then, but their tracking writes are shed.
func BreakerCheck(cb *resilience.CircuitBreaker) Check {
	return func(context.Context) ComponentHealth {
		if state := cb.State(); state != resilience.StateClosed {
			return ComponentHealth{Status: StatusDegraded, Message: "circuit " + state.String()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Checker manages registered health checks and runs them concurrently.
type Checker struct {
	checks map[string]Check
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all registered checks concurrently. The overall status is the
// worst status among all components.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			result := check(ctx)
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for name, comp := range report.Components {
		switch comp.Status {
		case StatusDown:
			c.logger.Warn("dependency down", "dependency", name, "message", comp.Message)
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// LiveHandler answers liveness probes; it never touches dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes with the full Report. Only a down
// component fails readiness.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
