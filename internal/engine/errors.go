package engine

import (
	"errors"
	"fmt"
)

// ErrContactNotFound is returned by the resolver when no contact matches.
// It is an expected outcome, counted as skipped.
var ErrContactNotFound = errors.New("contact not found")

// ErrEmptyDecision is returned by the applier for a decision with no
// fields. No upstream call is made.
var ErrEmptyDecision = errors.New("update decision has no fields")

// ErrorCode categorizes failures of one unit of work.
type ErrorCode string

const (
	// CodeUpstream is a non-2xx or transport failure from HubSpot.
	CodeUpstream ErrorCode = "UPSTREAM"

	// CodeNotFound is a missing contact or a missing form.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeValidationGap is a submission without email or mapped fields.
	CodeValidationGap ErrorCode = "VALIDATION_GAP"

	// CodeAmbiguousContact is several contacts for one email under the
	// strict match policy.
	CodeAmbiguousContact ErrorCode = "AMBIGUOUS_CONTACT"

	// CodeStalled is a pagination loop that stopped making progress.
	CodeStalled ErrorCode = "STALLED"
)

// Stage names the pipeline step a RunError came from.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageResolve Stage = "resolve"
	StageApply   Stage = "apply"
)

// RunError is a failure of one submission or one form fetch. The
// orchestrator converts it to counters and events; it never aborts a run.
type RunError struct {
	Code    ErrorCode
	Stage   Stage
	FormID  string
	Email   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.FormID != "" {
		return fmt.Sprintf("%s: %s: %s (form=%s)", e.Code, e.Stage, msg, e.FormID)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, msg)
}

// Unwrap exposes the underlying cause.
func (e *RunError) Unwrap() error { return e.Err }

// CodeOf returns the RunError code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsUpstreamError reports whether err is an upstream failure.
// Uses errors.As to handle wrapped errors.
func IsUpstreamError(err error) bool {
	return CodeOf(err) == CodeUpstream
}

// IsStalled reports whether err is a stalled pagination failure.
func IsStalled(err error) bool {
	return CodeOf(err) == CodeStalled
}

// IsAmbiguous reports whether err is a rejected multiple match.
func IsAmbiguous(err error) bool {
	return CodeOf(err) == CodeAmbiguousContact
}
