package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastPolicy(maxAttempts int) *Policy {
	return &Policy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return nil
	}, fastPolicy(3), nil)

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, fastPolicy(5), IsTransient)

	if err != nil {
		t.Errorf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonTransientError(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid api key")
	err := Do(func() error {
		calls++
		return permanent
	}, fastPolicy(5), IsTransient)

	if !errors.Is(err, permanent) {
		t.Errorf("Expected the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected no retry on permanent error, got %d calls", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errors.New("timeout")
	}, fastPolicy(3), IsTransient)

	if err == nil {
		t.Error("Expected an error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("upstream returned status 503"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("invalid request payload"), false},
		{MarkTransient(errors.New("weird one-off")), true},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	if d := Backoff(0, 100*time.Millisecond, time.Minute, 2.0); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms for attempt 0, got %v", d)
	}
	if d := Backoff(3, 100*time.Millisecond, time.Minute, 2.0); d != 800*time.Millisecond {
		t.Errorf("Expected 800ms for attempt 3, got %v", d)
	}
	if d := Backoff(20, 100*time.Millisecond, time.Second, 2.0); d != time.Second {
		t.Errorf("Expected cap at 1s, got %v", d)
	}
}

func TestReconnectSucceeds(t *testing.T) {
	calls := 0
	cfg := &ReconnectConfig{MaxAttempts: 4, Backoff: time.Millisecond, Multiplier: 2.0, MaxBackoff: 5 * time.Millisecond}
	err := Reconnect(context.Background(), zerolog.Nop(), func() error {
		calls++
		if calls < 2 {
			return errors.New("connection closed")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Errorf("Expected reconnect success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls)
	}
}

func TestReconnectGivesUp(t *testing.T) {
	cfg := &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2.0, MaxBackoff: 5 * time.Millisecond}
	err := Reconnect(context.Background(), zerolog.Nop(), func() error {
		return errors.New("still down")
	}, cfg)

	if err == nil {
		t.Error("Expected failure after exhausting attempts")
	}
}

func TestReconnectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Reconnect(ctx, zerolog.Nop(), func() error {
		t.Error("Expected no attempts with a cancelled context")
		return nil
	}, DefaultReconnectConfig())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
