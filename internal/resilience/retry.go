package resilience

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Policy holds configuration for retry logic.
type Policy struct {
	MaxAttempts    int           // Maximum number of attempts, including the first
	InitialBackoff time.Duration // Backoff before the second attempt
	MaxBackoff     time.Duration // Cap on the backoff duration
	Multiplier     float64       // Exponential growth factor
	Jitter         bool          // Add up to 25% random jitter to each backoff
}

// DefaultPolicy returns the retry policy used for short upstream calls.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// ClassifyFunc reports whether an error is worth retrying.
type ClassifyFunc func(error) bool

// Do executes fn with retry logic. A nil classify retries every error.
func Do(fn func() error, policy *Policy, classify ClassifyFunc) error {
	if policy == nil {
		policy = DefaultPolicy()
	}

	var lastErr error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if classify != nil && !classify(err) {
			return err
		}

		if attempt < policy.MaxAttempts-1 {
			sleep := backoff
			if policy.Jitter {
				sleep += time.Duration(rand.Float64() * 0.25 * float64(sleep))
			}
			if sleep > policy.MaxBackoff {
				sleep = policy.MaxBackoff
			}
			time.Sleep(sleep)

			backoff = time.Duration(float64(backoff) * policy.Multiplier)
			if backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}
	}

	return lastErr
}

// Backoff returns the backoff duration for a given zero-based attempt.
func Backoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	d := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	if d > max {
		return max
	}
	return d
}

// IsTransient reports whether an error looks like a temporary upstream or
// network condition that a retry could clear.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"broken pipe",
		"network is unreachable",
		"no route to host",
		"deadline exceeded",
		"timeout",
		"i/o timeout",
		"temporarily unavailable",
		"service unavailable",
		"too many requests",
		"rate limit",
		"status 429",
		"status 502",
		"status 503",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// TransientError marks an error as retryable regardless of its message.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err so IsTransient recognizes it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}
