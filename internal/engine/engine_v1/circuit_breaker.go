package engine_v1

import (
	"sync"
	"time"

	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"go.uber.org/zap"
)

// BreakerState is the circuit breaker's protective state.
type BreakerState string

const (
	// BreakerClosed permits calls
	BreakerClosed BreakerState = "CLOSED"
	// BreakerOpen rejects calls immediately until the recovery timeout
	BreakerOpen BreakerState = "OPEN"
	// BreakerHalfOpen allows trial calls to probe recovery
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreakerConfig holds the breaker thresholds.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it
	SuccessThreshold int
	// RecoveryTimeout is how long the breaker stays open before probing
	RecoveryTimeout time.Duration
}

// CircuitBreaker protects one external dependency. Lifecycle is driven
// solely by call outcomes reported through Allow/RecordSuccess/RecordFailure.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *logger.Logger
	clock  func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	probing         bool
}

// NewCircuitBreaker creates a closed breaker for the named dependency.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: log,
		clock:  time.Now,
		state:  BreakerClosed,
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Allow reports whether a call may proceed. While open, it returns
// ErrCodeCircuitOpen until the recovery timeout elapses; the first Allow
// after that moves to HALF_OPEN and admits exactly one trial call at a time.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if b.clock().Sub(b.lastFailureTime) < b.config.RecoveryTimeout {
			return errors.Newf(errors.ErrCodeCircuitOpen,
				"circuit breaker %s is open", b.name)
		}

		b.transition(BreakerHalfOpen)
		b.probing = true

		return nil

	case BreakerHalfOpen:
		if b.probing {
			return errors.Newf(errors.ErrCodeCircuitOpen,
				"circuit breaker %s trial call in flight", b.name)
		}

		b.probing = true

		return nil
	}

	return nil
}

// RecordSuccess reports a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failureCount = 0

	case BreakerHalfOpen:
		b.probing = false
		b.successCount++

		if b.successCount >= b.config.SuccessThreshold {
			b.failureCount = 0
			b.successCount = 0
			b.transition(BreakerClosed)
		}

	case BreakerOpen:
		// a late success from a call admitted before opening; ignored
	}
}

// RecordFailure reports a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.clock()

	switch b.state {
	case BreakerClosed:
		b.failureCount++

		if b.failureCount >= b.config.FailureThreshold {
			b.transition(BreakerOpen)
		}

	case BreakerHalfOpen:
		b.probing = false
		b.successCount = 0
		b.transition(BreakerOpen)

	case BreakerOpen:
	}
}

// Execute runs fn under the breaker, recording its outcome.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.RecordFailure()

		return err
	}

	b.RecordSuccess()

	return nil
}

// transition must be called with the mutex held.
func (b *CircuitBreaker) transition(next BreakerState) {
	if b.state == next {
		return
	}

	b.logger.Warn("Circuit breaker state change",
		zap.String("dependency", b.name),
		zap.String("from", string(b.state)),
		zap.String("to", string(next)))

	b.state = next
}
