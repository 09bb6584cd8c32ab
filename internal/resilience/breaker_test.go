package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker("responder", 3, time.Second, nil)

	if b.State() != BreakerClosed {
		t.Errorf("Expected initial state closed, got %v", b.State())
	}
	if !b.allow() {
		t.Error("Expected calls allowed in closed state")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := NewBreaker("responder", 3, time.Second, nil)

	b.Record(false)
	b.Record(false)
	if b.State() != BreakerClosed {
		t.Error("Expected breaker still closed after 2 failures")
	}

	b.Record(false)
	if b.State() != BreakerOpen {
		t.Error("Expected breaker open after 3 failures")
	}

	err := b.Call(func() error { return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Expected ErrBreakerOpen from open breaker, got %v", err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker("responder", 3, 50*time.Millisecond, nil)

	b.Record(false)
	b.Record(false)
	b.Record(false)
	if b.State() != BreakerOpen {
		t.Fatal("Expected breaker open")
	}

	time.Sleep(80 * time.Millisecond)

	if !b.allow() {
		t.Error("Expected probe call allowed after reset timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Errorf("Expected half-open after timeout, got %v", b.State())
	}
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b := NewBreaker("responder", 3, 50*time.Millisecond, nil)

	b.Record(false)
	b.Record(false)
	b.Record(false)
	time.Sleep(80 * time.Millisecond)
	b.allow()

	b.Record(true)
	b.Record(true)
	b.Record(true)
	if b.State() != BreakerClosed {
		t.Errorf("Expected closed after probe successes, got %v", b.State())
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b := NewBreaker("responder", 3, 50*time.Millisecond, nil)

	b.Record(false)
	b.Record(false)
	b.Record(false)
	time.Sleep(80 * time.Millisecond)
	b.allow()

	b.Record(false)
	if b.State() != BreakerOpen {
		t.Errorf("Expected reopen on half-open failure, got %v", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("responder", 3, time.Second, nil)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	if b.State() != BreakerClosed {
		t.Error("Expected closed, success should reset the failure streak")
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []BreakerState
	b := NewBreaker("responder", 2, time.Second, func(name string, state BreakerState) {
		if name != "responder" {
			t.Errorf("Expected breaker name responder, got %q", name)
		}
		mu.Lock()
		transitions = append(transitions, state)
		mu.Unlock()
	})

	b.Record(false)
	b.Record(false)
	b.Reset()

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != BreakerOpen || transitions[1] != BreakerClosed {
		t.Errorf("Expected transitions [open closed], got %v", transitions)
	}
}

func TestBreakerStats(t *testing.T) {
	b := NewBreaker("responder", 5, time.Second, nil)

	b.Record(true)
	b.Record(true)
	b.Record(false)
	b.Record(false)

	calls, failures, rate := b.Stats()
	if calls != 4 || failures != 2 {
		t.Errorf("Expected 4 calls 2 failures, got %d/%d", calls, failures)
	}
	if rate != 50.0 {
		t.Errorf("Expected 50%% failure rate, got %v", rate)
	}
}
