package harness

import (
	"time"

	"github.com/roach88/formrecovery/internal/eventlog"
	"github.com/roach88/formrecovery/internal/model"
)

// TraceEvent is one emitted event without its envelope.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Field returns one event field.
func (e TraceEvent) Field(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the stats match and all assertions hold.
	Pass bool `json:"pass"`

	RunID string         `json:"run_id"`
	Stats model.RunStats `json:"stats"`

	// Trace contains the emitted events in seq order.
	Trace []TraceEvent `json:"trace"`

	// Calls are the upstream calls as "METHOD path", in arrival order.
	Calls []string `json:"calls"`

	// Pauses are the pacing pauses the run asked for.
	Pauses []time.Duration `json:"pauses,omitempty"`

	// Contacts is the final upstream contact state by id.
	Contacts map[string]map[string]string `json:"contacts,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Calls:    []string{},
		Errors:   []string{},
		Contacts: make(map[string]map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddRecord appends an emitted event, stripping the envelope keys other
// than the event name and seq.
func (r *Result) AddRecord(rec eventlog.Record) {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		switch k {
		case eventlog.KeyEvent, eventlog.KeySeq, eventlog.KeyRunID, eventlog.KeyTS:
			continue
		}
		fields[k] = v
	}
	r.Trace = append(r.Trace, TraceEvent{Seq: rec.Seq, Event: rec.Event, Fields: fields})
}

// EventNames returns the trace as event names.
func (r *Result) EventNames() []string {
	names := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		names[i] = e.Event
	}
	return names
}
