package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "igcollector/pkg/errors"
)

// BackoffStrategy computes the pause before a given attempt
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 || eb.BaseDelay <= 0 {
		return 0
	}

	multiplier := eb.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(eb.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClassBackoff picks the pause between login attempts from the failure class
// that ended the previous attempt. Cooldown and soft restrictions signal
// platform-wide pressure and wait longer than a challenge or a dead session.
type ClassBackoff struct {
	Pressure BackoffStrategy
	Default  BackoffStrategy
}

// NewClassBackoff derives the per-class strategies from a base delay
func NewClassBackoff(base, max time.Duration, multiplier float64) *ClassBackoff {
	return &ClassBackoff{
		Pressure: &ExponentialBackoff{
			BaseDelay:    base * 2,
			MaxDelay:     max,
			Multiplier:   multiplier,
			JitterFactor: 0.3,
		},
		Default: &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     max,
			Multiplier:   multiplier,
			JitterFactor: 0.1,
		},
	}
}

// NextDelay returns the delay before attempt given the failure class that
// ended the previous one
func (cb *ClassBackoff) NextDelay(class errs.ErrorType, attempt int) time.Duration {
	switch class {
	case errs.ErrorTypeCooldown, errs.ErrorTypeSoftRestriction:
		return cb.Pressure.NextDelay(attempt)
	default:
		return cb.Default.NextDelay(attempt)
	}
}
