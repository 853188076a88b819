package login

import (
	"fmt"
	"sync"
	"time"

	errs "igcollector/pkg/errors"
)

// Budget bounds the work spent on one fetch: a number of attempts and an
// optional deadline. It is shared between login retries and re-runs after
// page failures, so a fetch never exceeds it in total.
type Budget struct {
	mu          sync.Mutex
	maxAttempts int
	deadline    time.Time
	attempts    int
	failures    int
	lastClass   errs.ErrorType
	lastErr     error
}

// NewBudget creates a budget. maxAttempts 0 leaves the size to the
// orchestrator, which uses the eligible pool size at the first attempt.
// maxDuration 0 means no wall-clock limit.
func NewBudget(maxAttempts int, maxDuration time.Duration, now time.Time) *Budget {
	b := &Budget{maxAttempts: maxAttempts}
	if maxDuration > 0 {
		b.deadline = now.Add(maxDuration)
	}
	return b
}

// Attempts returns the number of attempts started so far
func (b *Budget) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// MaxAttempts returns the attempt limit, 0 while unsized
func (b *Budget) MaxAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxAttempts
}

// Failures returns the number of classified failures recorded
func (b *Budget) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastError returns the most recent classified failure
func (b *Budget) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Budget) sizeOnce(eligible, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxAttempts > 0 {
		return
	}
	n := eligible
	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	b.maxAttempts = n
}

// begin starts an attempt, or reports why none may start
func (b *Budget) begin(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.deadline.IsZero() && !now.Before(b.deadline) {
		return b.exhausted("time budget spent")
	}
	if b.maxAttempts > 0 && b.attempts >= b.maxAttempts {
		return b.exhausted(fmt.Sprintf("%d attempts spent", b.attempts))
	}
	b.attempts++
	return nil
}

func (b *Budget) record(class errs.ErrorType, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastClass = class
	b.lastErr = err
}

func (b *Budget) last() (errs.ErrorType, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastClass, b.attempts
}

func (b *Budget) exhausted(reason string) error {
	return errs.Wrap(errs.ErrorTypeExhaustedRetries, reason, b.lastErr)
}
