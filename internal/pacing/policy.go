package pacing

import (
	"fmt"
	"time"
)

// Policy holds the pause durations and thresholds of the pacing rules.
type Policy struct {
	Baseline     time.Duration
	MidPause     time.Duration
	LowPause     time.Duration
	LowThreshold int
	MidThreshold int
	JitterMin    time.Duration
	JitterMax    time.Duration
}

// DefaultPolicy returns the production pacing defaults.
func DefaultPolicy() Policy {
	return Policy{
		Baseline:     300 * time.Millisecond,
		MidPause:     2 * time.Second,
		LowPause:     4 * time.Second,
		LowThreshold: 5,
		MidThreshold: 10,
		JitterMin:    100 * time.Millisecond,
		JitterMax:    300 * time.Millisecond,
	}
}

// Validate checks that stricter rules always pause longer than looser ones
// even after jitter is applied.
func (p Policy) Validate() error {
	switch {
	case p.Baseline <= 0:
		return fmt.Errorf("baseline pause must be positive")
	case p.JitterMin < 0 || p.JitterMax < p.JitterMin:
		return fmt.Errorf("jitter range [%s, %s] is invalid", p.JitterMin, p.JitterMax)
	case p.LowThreshold <= 0 || p.MidThreshold <= p.LowThreshold:
		return fmt.Errorf("thresholds must satisfy 0 < low (%d) < mid (%d)", p.LowThreshold, p.MidThreshold)
	case p.MidPause <= p.Baseline+(p.JitterMax-p.JitterMin):
		return fmt.Errorf("mid pause %s must exceed baseline %s plus jitter spread", p.MidPause, p.Baseline)
	case p.LowPause <= p.MidPause+(p.JitterMax-p.JitterMin):
		return fmt.Errorf("low pause %s must exceed mid pause %s plus jitter spread", p.LowPause, p.MidPause)
	}
	return nil
}

// Rule is one row of the pacing table.
type Rule struct {
	Name  string
	Match func(RateState) bool
	Pause func(RateState) time.Duration
}

// Rules returns the ordered rule table. The last rule always matches.
func (p Policy) Rules() []Rule {
	return []Rule{
		{
			Name:  "retry_after",
			Match: func(s RateState) bool { return s.RetryAfterSet },
			Pause: func(s RateState) time.Duration { return s.RetryAfter },
		},
		{
			Name:  "exhausted",
			Match: func(s RateState) bool { return s.RemainingKnown && s.Remaining <= 0 && s.ResetKnown },
			Pause: func(s RateState) time.Duration { return max(s.ResetAfter, p.LowPause) },
		},
		{
			Name:  "low",
			Match: func(s RateState) bool { return s.RemainingKnown && s.Remaining < p.LowThreshold },
			Pause: func(RateState) time.Duration { return p.LowPause },
		},
		{
			Name:  "mid",
			Match: func(s RateState) bool { return s.RemainingKnown && s.Remaining < p.MidThreshold },
			Pause: func(RateState) time.Duration { return p.MidPause },
		},
		{
			Name:  "baseline",
			Match: func(RateState) bool { return true },
			Pause: func(RateState) time.Duration { return p.Baseline },
		},
	}
}

// Pause evaluates the rule table against s and returns the pause before
// jitter together with the name of the rule that chose it.
func (p Policy) Pause(s RateState) (time.Duration, string) {
	for _, r := range p.Rules() {
		if r.Match(s) {
			return r.Pause(s), r.Name
		}
	}
	return p.Baseline, "baseline"
}
