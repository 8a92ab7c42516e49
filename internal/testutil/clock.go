package testutil

import (
	"context"
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe monotonic sequence for tests.
// It satisfies eventlog.Sequencer.
//
// Unlike eventlog.Clock, DeterministicClock can be reset for test reuse.
// This enables the same scenario to run multiple times with identical seq values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// StepClock is a wall clock that starts at a fixed instant and advances by
// a fixed step on every reading. Event timestamps taken from it are the
// same on every run.
//
// Thread-safety: Now is safe for concurrent use.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepClock creates a clock whose first reading is start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{next: start.UTC(), step: step}
}

// Now returns the current reading and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// RecordingSleeper stands in for a real sleep: it returns at once and
// remembers every requested pause. It satisfies pacing.Sleeper through
// its Sleep method.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingSleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
}

// Sleep records d and honours cancellation.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses = append(s.pauses, d)
	return nil
}

// Pauses returns every recorded pause in order.
func (s *RecordingSleeper) Pauses() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.pauses...)
}

// Total returns the sum of the recorded pauses.
func (s *RecordingSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.pauses {
		total += d
	}
	return total
}
