package pacing

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names carrying upstream capacity signals. HubSpot sends its own
// prefixed variants; the generic names are accepted as well.
const (
	HeaderRetryAfter            = "Retry-After"
	HeaderRemaining             = "X-RateLimit-Remaining"
	HeaderHubSpotRemaining      = "X-HubSpot-RateLimit-Remaining"
	HeaderHubSpotSecondlyRemain = "X-HubSpot-RateLimit-Secondly-Remaining"
	HeaderReset                 = "X-RateLimit-Reset"
	HeaderHubSpotIntervalMillis = "X-HubSpot-RateLimit-Interval-Milliseconds"
	epochThresholdSeconds       = 1_000_000_000
)

// RateState is the capacity picture from the most recent upstream response.
// Each signal carries its own known flag; unknown is distinct from zero.
type RateState struct {
	Remaining      int
	RemainingKnown bool

	ResetAfter time.Duration
	ResetKnown bool

	RetryAfter    time.Duration
	RetryAfterSet bool
}

// ParseRateState reads capacity headers. now resolves HTTP-date and epoch
// forms into durations.
func ParseRateState(h http.Header, now time.Time) RateState {
	var s RateState
	if h == nil {
		return s
	}

	for _, name := range []string{HeaderHubSpotRemaining, HeaderRemaining, HeaderHubSpotSecondlyRemain} {
		n, ok := parseNonNegativeInt(h.Get(name))
		if !ok {
			continue
		}
		if !s.RemainingKnown || n < s.Remaining {
			s.Remaining = n
			s.RemainingKnown = true
		}
	}

	if d, ok := parseReset(h.Get(HeaderReset), now); ok {
		s.ResetAfter, s.ResetKnown = d, true
	} else if ms, ok := parseNonNegativeInt(h.Get(HeaderHubSpotIntervalMillis)); ok && ms > 0 {
		s.ResetAfter, s.ResetKnown = time.Duration(ms)*time.Millisecond, true
	}

	if d, ok := parseRetryAfter(h.Get(HeaderRetryAfter), now); ok {
		s.RetryAfter, s.RetryAfterSet = d, true
	}
	return s
}

func parseNonNegativeInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseRetryAfter accepts delta-seconds or an HTTP date. A date in the past
// yields a zero wait that is still "set".
func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if ts, err := http.ParseTime(raw); err == nil {
		d := ts.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// parseReset accepts seconds-until-reset or a unix epoch in seconds.
func parseReset(raw string, now time.Time) (time.Duration, bool) {
	n, ok := parseNonNegativeInt(raw)
	if !ok {
		return 0, false
	}
	if n >= epochThresholdSeconds {
		d := time.Unix(int64(n), 0).Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return time.Duration(n) * time.Second, true
}
