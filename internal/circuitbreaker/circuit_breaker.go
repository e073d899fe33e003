// Package circuitbreaker guards outbound dependencies. After enough
// consecutive failures the breaker opens and calls fail fast until a
// cooldown passes; a half-open probe then decides whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chain-ledger/internal/logging"
)

// State is the breaker state.
type State string

const (
	// StateClosed allows requests.
	StateClosed State = "closed"
	// StateOpen blocks requests until the cooldown passes.
	StateOpen State = "open"
	// StateHalfOpen admits a few probe requests.
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker tracks consecutive failures of one dependency.
type CircuitBreaker struct {
	name             string
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxCalls int

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenCalls    int
	lastStateChange  time.Time
	logger           *logging.Logger
}

// Config configures a circuit breaker.
type Config struct {
	Name string
	// MaxFailures is the consecutive-failure count that opens the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probes.
	HalfOpenMaxCalls int
}

// New creates a circuit breaker. Zero config fields get working defaults.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		maxFailures:      cfg.MaxFailures,
		timeout:          cfg.Timeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		logger:           logging.WithField("circuit_breaker", cfg.Name),
	}
}

// Execute runs fn under breaker protection. Context cancellation counts as
// the caller's failure, not the dependency's.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
		cb.release()
		return err
	}

	cb.afterRequest(err)
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenCalls = 1
		return nil

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return ErrCircuitOpen
		}
		cb.halfOpenCalls++
		return nil

	default:
		return nil
	}
}

// release undoes a half-open slot when the call never reached the
// dependency.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.consecutiveFails = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
			cb.logger.Info("Circuit breaker closed after successful probe")
		}
		return
	}

	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.maxFailures {
		if cb.state != StateOpen {
			cb.setState(StateOpen)
			cb.logger.WithField("consecutive_failures", cb.consecutiveFails).
				Warn("Circuit breaker opened")
		}
	}
}

// setState transitions state. Caller must hold the lock.
func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
}
