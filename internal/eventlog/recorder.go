// Package eventlog writes the structured event stream of a recovery run.
//
// Each event is one canonical JSON object per line carrying at least
// "event", "seq", "run_id" and "ts". A Recorder belongs to exactly one
// run; runs that share an output share it through a SyncWriter so lines
// from interleaved runs never tear.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event names.
const (
	StartRun            = "start_run"
	EndRun              = "end_run"
	StartForm           = "start_form"
	EndForm             = "end_form"
	FetchPage           = "fetch_page"
	FetchTruncated      = "fetch_truncated"
	SubmissionsDeduped  = "submissions_deduped"
	SubmissionProcessed = "submission_processed"
	ContactNotFound     = "contact_not_found"
	SkipNoEmail         = "skip_no_email"
	SkipNoMappedFields  = "skip_no_mapped_fields"
	MultipleMatches     = "multiple_matches"
	DryRunForced        = "dry_run_forced"
	Error               = "error"
	SubmissionState     = "submission_state"
	Progress            = "progress"
)

// Envelope keys. Fields passed to Emit may not use them.
const (
	KeyEvent = "event"
	KeySeq   = "seq"
	KeyRunID = "run_id"
	KeyTS    = "ts"
)

var levels = map[string]slog.Level{
	SubmissionState: slog.LevelDebug,
	FetchPage:       slog.LevelDebug,
	ContactNotFound: slog.LevelInfo,
	MultipleMatches: slog.LevelWarn,
	FetchTruncated:  slog.LevelWarn,
	DryRunForced:    slog.LevelWarn,
	Error:           slog.LevelError,
}

// LevelOf returns the level an event is emitted at.
func LevelOf(name string) slog.Level {
	if l, ok := levels[name]; ok {
		return l
	}
	return slog.LevelInfo
}

// Fields are the event-specific keys of one event.
type Fields map[string]any

// Record is one emitted event, kept when retention is enabled.
type Record struct {
	Seq    int64
	Event  string
	Level  slog.Level
	Fields Fields
	Line   []byte
}

// Sequencer hands out strictly increasing sequence numbers.
type Sequencer interface {
	Next() int64
}

// Options configures a Recorder. The zero MinLevel is slog.LevelInfo, so
// debug events such as submission_state are dropped unless asked for.
type Options struct {
	RunID     string
	Writer    io.Writer
	Logger    *slog.Logger
	Now       func() time.Time
	Sequencer Sequencer
	MinLevel  slog.Level
	Retain    bool
}

// Recorder emits the events of one run.
//
// Thread-safety: Emit is safe for concurrent use; seq order matches line
// order within one Recorder.
type Recorder struct {
	mu       sync.Mutex
	runID    string
	w        io.Writer
	logger   *slog.Logger
	now      func() time.Time
	seq      Sequencer
	minLevel slog.Level
	retain   bool
	records  []Record
	writeErr error
}

// NewRecorder creates a Recorder. A nil Writer discards lines; the events
// are still mirrored to the logger and retained if requested.
func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		runID:    opts.RunID,
		w:        opts.Writer,
		logger:   opts.Logger,
		now:      opts.Now,
		seq:      opts.Sequencer,
		minLevel: opts.MinLevel,
		retain:   opts.Retain,
	}
	if r.w == nil {
		r.w = io.Discard
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.seq == nil {
		r.seq = NewClock()
	}
	return r
}

// RunID returns the run this recorder belongs to.
func (r *Recorder) RunID() string { return r.runID }

// Emit writes one event. Events below the minimum level are dropped
// without consuming a sequence number. Write failures are reported once
// through the logger and never interrupt the caller.
func (r *Recorder) Emit(ctx context.Context, name string, fields Fields) {
	level := LevelOf(name)
	if level < r.minLevel {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.seq.Next()
	ts := r.now().UTC()
	obj := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		if v == nil || isEnvelopeKey(k) {
			continue
		}
		obj[k] = v
	}
	obj[KeyEvent] = name
	obj[KeySeq] = seq
	obj[KeyRunID] = r.runID
	obj[KeyTS] = ts.Format(time.RFC3339Nano)

	line, err := MarshalCanonical(obj)
	if err != nil {
		r.logger.ErrorContext(ctx, "event encoding failed", "event", name, "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := r.w.Write(line); err != nil && r.writeErr == nil {
		r.writeErr = err
		r.logger.ErrorContext(ctx, "event stream write failed", "error", err)
	}

	attrs := make([]any, 0, 2*len(fields)+4)
	attrs = append(attrs, "run_id", r.runID, "seq", seq)
	for _, k := range sortedKeys(obj) {
		if isEnvelopeKey(k) {
			continue
		}
		attrs = append(attrs, k, obj[k])
	}
	r.logger.Log(ctx, level, name, attrs...)

	if r.retain {
		r.records = append(r.records, Record{
			Seq:    seq,
			Event:  name,
			Level:  level,
			Fields: copyFields(obj),
			Line:   line,
		})
	}
}

// Records returns the retained events in emission order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Count returns how many retained events have the given name.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Event == name {
			n++
		}
	}
	return n
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return fmt.Errorf("event stream: %w", r.writeErr)
	}
	return nil
}

func isEnvelopeKey(k string) bool {
	return k == KeyEvent || k == KeySeq || k == KeyRunID || k == KeyTS
}

func copyFields(obj map[string]any) Fields {
	out := make(Fields, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
