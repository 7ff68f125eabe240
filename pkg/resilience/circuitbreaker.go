// Package resilience provides fault-tolerance primitives: a circuit breaker
// that sheds tracking-store writes while Redis is unavailable, exponential
// backoff retry for boot-time connections, and a context-based timeout
// wrapper for probes.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls when the breaker trips and how it probes
// for recovery.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a probe.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests caps concurrent probes while half-open.
	HalfOpenMaxRequests int
	// IsFailure decides whether an error counts against the store. The
	// default ignores cancellation by the caller.
	IsFailure func(error) bool
	// OnStateChange is called with the lock held on every transition and
	// must not call back into the breaker.
	OnStateChange func(name string, to State)
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker counts consecutive store failures and opens after
// FailureThreshold of them. Once ResetTimeout has passed it lets a limited
// number of probes through; one success closes it again, one failure
// reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker fills zero config values with defaults: 5 failures,
// 30s reset, one probe.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn with ctx if the circuit admits the call. A rejected call
// returns an error wrapping ErrCircuitOpen without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State reports the current state, moving an expired open circuit to
// half-open first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.transition(StateHalfOpen)
		cb.probes = 0
		cb.logger.Info("circuit half-open, probing", "after", cb.cfg.ResetTimeout)
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()

	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		return fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.cfg.IsFailure(err) {
		if cb.state == StateHalfOpen {
			if err == nil {
				cb.transition(StateClosed)
				cb.logger.Info("circuit closed, store recovered")
			} else {
				cb.probes--
			}
		}
		if err == nil {
			cb.failures = 0
		}
		return
	}

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
			cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures, "error", err)
		}
	case StateHalfOpen:
		cb.open()
		cb.logger.Warn("circuit reopened, probe failed", "error", err)
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
		cb.probes = 0
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
