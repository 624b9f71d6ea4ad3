// Package circuit guards calls to external sinks (broker, frame archive) so
// an outage sheds work instead of stalling the worker pool.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/mixer/clock"
)

// ErrOpen is returned by Call while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker opens after maxFailures consecutive failures. While open it waits
// a backoff that starts at half the reset timeout (at least 5s) and doubles
// on every re-open, capped at 10 minutes. A half-open breaker closes after
// halfOpenSuccesses consecutive successes.
type Breaker struct {
	name              string
	maxFailures       int64
	resetTimeout      time.Duration
	halfOpenSuccesses int64
	clock             clock.Clock

	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64

	mu             sync.RWMutex
	state          State
	failures       int64
	successes      int64
	currentBackoff time.Duration
	lastFailTime   time.Time
	lastStateTime  time.Time
}

func NewBreaker(name string, maxFailures int64, resetTimeout time.Duration) *Breaker {
	return NewBreakerWithClock(name, maxFailures, resetTimeout, clock.C)
}

func NewBreakerWithClock(name string, maxFailures int64, resetTimeout time.Duration, c clock.Clock) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	initialBackoff := resetTimeout / 2
	if initialBackoff < 5*time.Second {
		initialBackoff = 5 * time.Second
	}

	cb := &Breaker{
		name:              name,
		maxFailures:       maxFailures,
		resetTimeout:      resetTimeout,
		halfOpenSuccesses: 3,
		clock:             c,
		initialBackoff:    initialBackoff,
		maxBackoff:        10 * time.Minute,
		backoffMultiplier: 2.0,
		currentBackoff:    initialBackoff,
		state:             StateClosed,
		lastStateTime:     c.Now(),
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

func (cb *Breaker) Name() string {
	return cb.name
}

// Call runs fn if the breaker allows it and records the outcome. A rejected
// call returns an error wrapping ErrOpen without running fn.
func (cb *Breaker) Call(fn func() error) error {
	if !cb.Allow() {
		return fmt.Errorf("%s: %w", cb.name, ErrOpen)
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

func (cb *Breaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.clock.Since(cb.lastFailTime) > cb.currentBackoff {
			cb.setState(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
		cb.currentBackoff = cb.initialBackoff

	case StateHalfOpen:
		if cb.successes >= cb.halfOpenSuccesses {
			cb.setState(StateClosed)
			cb.failures = 0
			cb.successes = 0
			cb.currentBackoff = cb.initialBackoff
		}
	}
}

func (cb *Breaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailTime = cb.clock.Now()
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.setState(StateOpen)
			cb.growBackoff()
		}

	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.growBackoff()
	}
}

func (cb *Breaker) growBackoff() {
	cb.currentBackoff = time.Duration(float64(cb.currentBackoff) * cb.backoffMultiplier)
	if cb.currentBackoff > cb.maxBackoff {
		cb.currentBackoff = cb.maxBackoff
	}
}

// setState must be called with mu held.
func (cb *Breaker) setState(newState State) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateTime = cb.clock.Now()
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(newState))

	logger.Log.Warnw("Circuit breaker state changed",
		"breaker", cb.name,
		"from", oldState.String(),
		"to", newState.String(),
		"failures", cb.failures,
		"next_retry", cb.currentBackoff)
}

func (cb *Breaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *Breaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return BreakerStats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		MaxFailures:     cb.maxFailures,
		CurrentBackoff:  cb.currentBackoff,
		LastFailTime:    cb.lastFailTime,
		LastStateChange: cb.lastStateTime,
	}
}

func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.currentBackoff = cb.initialBackoff
}

type BreakerStats struct {
	Name            string        `json:"name"`
	State           State         `json:"-"`
	Failures        int64         `json:"failures"`
	Successes       int64         `json:"successes"`
	MaxFailures     int64         `json:"max_failures"`
	CurrentBackoff  time.Duration `json:"current_backoff_ns"`
	LastFailTime    time.Time     `json:"last_fail_time"`
	LastStateChange time.Time     `json:"last_state_change"`
}

func (bs BreakerStats) String() string {
	return fmt.Sprintf("Circuit[%s]: %s, Failures: %d/%d, Successes: %d, NextRetry: %v",
		bs.Name, bs.State, bs.Failures, bs.MaxFailures, bs.Successes, bs.CurrentBackoff)
}
