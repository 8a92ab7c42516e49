// Package pacing decides how long to wait before each upstream call.
//
// The Governor keeps the capacity signals of the latest response and maps
// them to a pause through an ordered rule table (see Policy.Rules). Missing
// headers never shorten the wait: they fall through to the baseline rule.
//
// A Governor belongs to one run. It is safe for concurrent use, but the
// remaining-calls signal is only meaningful when calls are sequential.
package pacing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Governor.
type Option func(*Governor)

// WithSleeper replaces the real sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(g *Governor) { g.sleep = s }
}

// WithJitter replaces the random jitter source.
func WithJitter(j func() time.Duration) Option {
	return func(g *Governor) { g.jitter = j }
}

// WithNow replaces the clock used to resolve date headers.
func WithNow(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithCeiling caps the request rate regardless of header signals.
// A non-positive rps disables the ceiling.
func WithCeiling(rps float64, burst int) Option {
	return func(g *Governor) {
		if rps <= 0 {
			g.ceiling = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.ceiling = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for pause diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// Governor paces upstream calls from observed rate-limit headers.
type Governor struct {
	mu     sync.Mutex
	policy Policy
	state  RateState

	ceiling *rate.Limiter
	sleep   Sleeper
	jitter  func() time.Duration
	now     func() time.Time
	logger  *slog.Logger

	waits int
	total time.Duration
}

// NewGovernor creates a Governor starting from an unknown state.
func NewGovernor(policy Policy, opts ...Option) *Governor {
	g := &Governor{
		policy: policy,
		sleep:  SleepContext,
		now:    time.Now,
		logger: slog.Default(),
	}
	g.jitter = func() time.Duration { return uniformJitter(g.policy.JitterMin, g.policy.JitterMax) }
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Observe replaces the rate state with the signals in h.
func (g *Governor) Observe(h http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = ParseRateState(h, g.now())
}

// State returns the current rate state.
func (g *Governor) State() RateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// WaitBudget returns the pause to apply before the next call.
func (g *Governor) WaitBudget() time.Duration {
	d, _ := g.budget()
	return d
}

func (g *Governor) budget() (time.Duration, string) {
	g.mu.Lock()
	state := g.state
	g.mu.Unlock()
	pause, rule := g.policy.Pause(state)
	return pause + g.jitter(), rule
}

// Wait sleeps for the current budget, then takes a token from the rate
// ceiling if one is configured.
func (g *Governor) Wait(ctx context.Context) error {
	d, rule := g.budget()
	if rule != "baseline" {
		g.logger.Debug("pacing upstream call", "rule", rule, "wait_ms", d.Milliseconds())
	}
	if err := g.sleep(ctx, d); err != nil {
		return err
	}
	if g.ceiling != nil {
		if err := g.ceiling.Wait(ctx); err != nil {
			return err
		}
	}
	g.mu.Lock()
	g.waits++
	g.total += d
	g.mu.Unlock()
	return nil
}

// Totals returns how many waits were taken and their summed duration.
func (g *Governor) Totals() (int, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waits, g.total
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep records nothing and returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func uniformJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
