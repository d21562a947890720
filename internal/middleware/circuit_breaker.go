package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/natours/api/internal/metrics"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned without calling the upstream while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// BreakerSettings tunes when a breaker trips and recovers.
type BreakerSettings struct {
	// consecutive failures that open the circuit
	MaxFailures int
	// time spent open before a trial call is let through
	Cooldown time.Duration
	// trial successes needed to close again
	TrialSuccesses int
}

// DefaultBreakerSettings suits the payment provider.
var DefaultBreakerSettings = BreakerSettings{MaxFailures: 5, Cooldown: 10 * time.Second, TrialSuccesses: 3}

// CircuitBreaker guards calls to one upstream.
type CircuitBreaker struct {
	upstream string
	settings BreakerSettings
	logger   *logrus.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

func NewCircuitBreaker(upstream string, settings BreakerSettings, logger *logrus.Logger) *CircuitBreaker {
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = DefaultBreakerSettings.MaxFailures
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultBreakerSettings.Cooldown
	}
	if settings.TrialSuccesses <= 0 {
		settings.TrialSuccesses = DefaultBreakerSettings.TrialSuccesses
	}
	return &CircuitBreaker{upstream: upstream, settings: settings, logger: logger, now: time.Now}
}

// Execute runs fn unless the circuit is open. A cancelled caller context
// does not count against the upstream.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.succeeded()
	case ctx.Err() == nil:
		cb.failed(err)
	}
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) <= cb.settings.Cooldown {
		return false
	}
	cb.moveTo(StateHalfOpen, nil)
	return true
}

func (cb *CircuitBreaker) failed(err error) {
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.settings.MaxFailures {
		cb.moveTo(StateOpen, err)
	}
}

func (cb *CircuitBreaker) succeeded() {
	if cb.state != StateHalfOpen {
		cb.failures = 0
		return
	}
	cb.successes++
	if cb.successes >= cb.settings.TrialSuccesses {
		cb.moveTo(StateClosed, nil)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(next BreakerState, cause error) {
	entry := cb.logger.WithFields(logrus.Fields{
		"upstream": cb.upstream,
		"from":     cb.state.String(),
		"to":       next.String(),
		"failures": cb.failures,
	})

	cb.state = next
	cb.successes = 0
	switch next {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.failures = 0
		entry.WithError(cause).Error("Circuit breaker opened")
	case StateClosed:
		cb.failures = 0
		entry.Info("Circuit breaker closed")
	default:
		entry.Info("Circuit breaker probing")
	}
	metrics.RecordBreakerState(cb.upstream, int(next))
}

// State is the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
