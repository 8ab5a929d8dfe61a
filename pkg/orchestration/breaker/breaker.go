// Package breaker implements the failure-threshold gate that protects a
// fragile dependency from being hammered by an orchestration loop. Each
// control loop guards exactly one fragile step with a breaker; a trip aborts
// the remaining work for that workflow run.
package breaker

import (
	"sync"
	"time"

	runtime "github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

// CircuitBreaker is a two-state (CLOSED/OPEN) failure gate. State lives in
// memory only: workflow replay reconstructs it deterministically from step
// outcomes, it is never persisted.
type CircuitBreaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	clock        runtime.Clock

	mu       sync.Mutex
	failures int
	open     bool
	halfOpen bool
	openedAt time.Time
}

// New creates a CircuitBreaker that opens after threshold consecutive
// failures and allows a trial call once resetTimeout has elapsed.
func New(name string, threshold int, resetTimeout time.Duration, clock runtime.Clock) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        clock,
	}
}

// Check returns exception.ErrCircuitOpen while the breaker is open and the
// reset timeout has not elapsed. Once the timeout elapses, exactly one caller
// is let through as a trial; everyone else keeps seeing ErrCircuitOpen until
// the trial's outcome is recorded. The failure count is kept across the trial.
func (b *CircuitBreaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if b.clock.Now().Sub(b.openedAt) < b.resetTimeout {
		return exception.ErrCircuitOpen
	}
	if b.halfOpen {
		// A trial is already in flight.
		return exception.ErrCircuitOpen
	}
	b.halfOpen = true
	return nil
}

// RecordFailure increments the consecutive failure count; reaching the
// threshold opens the breaker and stamps the open time.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		if !b.open {
			logger.Warnf("CircuitBreaker '%s' opened after %d consecutive failures.", b.name, b.failures)
		}
		b.open = true
		b.halfOpen = false
		b.openedAt = b.clock.Now()
	}
}

// RecordSuccess resets the failure count to zero and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		logger.Infof("CircuitBreaker '%s' closed after successful trial.", b.name)
	}
	b.failures = 0
	b.open = false
	b.halfOpen = false
}

// IsOpen reports whether the breaker is currently open.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Failures returns the current consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
