package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when calls are rejected without being attempted.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Calls fail immediately
	BreakerHalfOpen                     // Probing whether the upstream recovered
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker protects a flaky upstream (the response model, a synthesis API)
// from being hammered while it is failing.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeMax     int

	onStateChange func(name string, state BreakerState)

	mu            sync.RWMutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	probeSuccess  int
	totalCalls    int64
	totalFailures int64
}

// NewBreaker creates a circuit breaker. onStateChange may be nil; when set it
// is called outside the lock on every state transition.
func NewBreaker(name string, maxFailures int, resetTimeout time.Duration, onStateChange func(string, BreakerState)) *Breaker {
	return &Breaker{
		name:          name,
		maxFailures:   maxFailures,
		resetTimeout:  resetTimeout,
		probeMax:      3,
		state:         BreakerClosed,
		onStateChange: onStateChange,
	}
}

// Call executes fn under breaker protection. When the breaker is open it
// returns ErrBreakerOpen without invoking fn.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.Record(err == nil)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	changed := false
	allowed := false

	switch b.state {
	case BreakerClosed:
		allowed = true
	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			b.probeSuccess = 0
			changed = true
			allowed = true
		}
	case BreakerHalfOpen:
		allowed = true
	}
	state := b.state
	b.mu.Unlock()

	if changed {
		b.notify(state)
	}
	return allowed
}

// Record feeds the outcome of a call into the breaker. Exposed so callers
// that manage their own invocation (streaming requests) can report results.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	b.totalCalls++
	changed := false

	if success {
		switch b.state {
		case BreakerClosed:
			b.failures = 0
		case BreakerHalfOpen:
			b.probeSuccess++
			if b.probeSuccess >= b.probeMax {
				b.state = BreakerClosed
				b.failures = 0
				b.probeSuccess = 0
				changed = true
			}
		}
	} else {
		b.totalFailures++
		b.lastFailure = time.Now()
		switch b.state {
		case BreakerClosed:
			b.failures++
			if b.failures >= b.maxFailures {
				b.state = BreakerOpen
				changed = true
			}
		case BreakerHalfOpen:
			b.state = BreakerOpen
			b.probeSuccess = 0
			changed = true
		}
	}
	state := b.state
	b.mu.Unlock()

	if changed {
		b.notify(state)
	}
}

func (b *Breaker) notify(state BreakerState) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, state)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns call counts and the failure rate as a percentage.
func (b *Breaker) Stats() (calls, failures int64, failureRate float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	calls = b.totalCalls
	failures = b.totalFailures
	if calls > 0 {
		failureRate = float64(failures) / float64(calls) * 100.0
	}
	return
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.state != BreakerClosed
	b.state = BreakerClosed
	b.failures = 0
	b.probeSuccess = 0
	b.mu.Unlock()

	if changed {
		b.notify(BreakerClosed)
	}
}
