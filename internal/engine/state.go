package engine

import "fmt"

// SubmissionState is a step in the processing of one submission.
type SubmissionState string

const (
	StateReceived     SubmissionState = "received"
	StateSkipNoEmail  SubmissionState = "skip_no_email"
	StateSkipNoMapped SubmissionState = "skip_no_mapped_fields"
	StateMapped       SubmissionState = "mapped"
	StateResolving    SubmissionState = "resolving_contact"
	StateNotFound     SubmissionState = "not_found"
	StateDeciding     SubmissionState = "deciding"
	StateNoOp         SubmissionState = "no_op"
	StateApplying     SubmissionState = "applying"
	StateUpdated      SubmissionState = "updated"
	StateError        SubmissionState = "error"
)

// FormState is a step in the processing of one form.
type FormState string

const (
	FormFetching  FormState = "fetching"
	FormIterating FormState = "iterating"
	FormDone      FormState = "done"
	FormFailed    FormState = "failed"
)

// Outcome is the counter a terminal submission state feeds.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// submissionTransitions lists the legal moves. Terminal states have none.
var submissionTransitions = map[SubmissionState][]SubmissionState{
	StateReceived:  {StateSkipNoEmail, StateSkipNoMapped, StateMapped},
	StateMapped:    {StateResolving},
	StateResolving: {StateNotFound, StateDeciding, StateError},
	StateDeciding:  {StateNoOp, StateApplying},
	StateApplying:  {StateUpdated, StateError},
}

var terminalOutcomes = map[SubmissionState]Outcome{
	StateSkipNoEmail:  OutcomeSkipped,
	StateSkipNoMapped: OutcomeSkipped,
	StateNotFound:     OutcomeSkipped,
	StateNoOp:         OutcomeSkipped,
	StateUpdated:      OutcomeUpdated,
	StateError:        OutcomeError,
}

var formTransitions = map[FormState][]FormState{
	FormFetching:  {FormIterating, FormFailed},
	FormIterating: {FormDone},
}

// CanTransition reports whether a submission may move from one state to another.
func CanTransition(from, to SubmissionState) bool {
	for _, s := range submissionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends processing, and which counter it feeds.
func (s SubmissionState) Terminal() (Outcome, bool) {
	o, ok := terminalOutcomes[s]
	return o, ok
}

// CanAdvance reports whether a form may move from one state to another.
func CanAdvance(from, to FormState) bool {
	for _, s := range formTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is an illegal state move. It indicates a bug in the
// orchestrator, not an upstream condition.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}
