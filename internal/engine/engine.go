package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/formrecovery/internal/eventlog"
	"github.com/roach88/formrecovery/internal/hubspot"
	"github.com/roach88/formrecovery/internal/model"
)

// DefaultProgressEvery is how many submissions pass between progress events.
const DefaultProgressEvery = 1000

// DefaultEmailField is the submission field holding the email.
const DefaultEmailField = "email"

// Upstream is everything a run needs from HubSpot.
type Upstream interface {
	SubmissionSource
	ContactSearcher
	ContactUpdater
}

// UpstreamFactory builds the upstream client of one run. Each run gets its
// own client so pacing state never leaks between runs.
type UpstreamFactory func(runID string) (Upstream, error)

// StaticUpstream returns a factory that always hands out u.
func StaticUpstream(u Upstream) UpstreamFactory {
	return func(string) (Upstream, error) { return u, nil }
}

// RecorderFactory builds the event recorder of one run.
type RecorderFactory func(runID string) *eventlog.Recorder

// Options configures an Orchestrator. Forms are copied at construction and
// never change afterwards.
type Options struct {
	Forms         []model.FormSpec
	EmailField    string
	ForceDryRun   bool
	DedupeByEmail bool
	Fetch         FetchOptions
	Resolve       ResolverOptions
	ProgressEvery int
	RunIDs        RunIDGenerator
	Recorders     RecorderFactory
	Logger        *slog.Logger
}

// Request is one trigger of a recovery run.
type Request struct {
	Mode        model.Mode
	ForceDryRun bool
}

// Orchestrator drives recovery runs: forms one at a time, each fully
// fetched before its submissions are processed one at a time.
//
// Thread-safety: Run may be called concurrently; runs share only the
// read-only configuration. Preventing overlapping runs is the caller's job.
type Orchestrator struct {
	connect UpstreamFactory
	opts    Options
	forms   []model.FormSpec
}

// New creates an Orchestrator.
func New(connect UpstreamFactory, opts Options) (*Orchestrator, error) {
	if connect == nil {
		return nil, errors.New("engine: upstream factory is required")
	}
	if len(opts.Forms) == 0 {
		return nil, errors.New("engine: at least one form is required")
	}
	if opts.EmailField == "" {
		opts.EmailField = DefaultEmailField
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.RunIDs == nil {
		opts.RunIDs = UUIDv7Generator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorders == nil {
		logger := opts.Logger
		opts.Recorders = func(runID string) *eventlog.Recorder {
			return eventlog.NewRecorder(eventlog.Options{RunID: runID, Logger: logger})
		}
	}
	opts.Fetch = opts.Fetch.withDefaults()

	forms := make([]model.FormSpec, len(opts.Forms))
	copy(forms, opts.Forms)
	opts.Forms = nil
	return &Orchestrator{connect: connect, opts: opts, forms: forms}, nil
}

// ListConfiguredForms returns the configured form IDs in order.
func (o *Orchestrator) ListConfiguredForms() []string {
	ids := make([]string, len(o.forms))
	for i, f := range o.forms {
		ids[i] = f.ID
	}
	return ids
}

// Run executes one recovery pass over every configured form.
//
// Failures of single submissions or form fetches become counters and
// events. The returned error is non-nil only when ctx ends the run early
// or the run could not start; the stats gathered so far are returned with
// it and still satisfy processed = updated + skipped + errors.
func (o *Orchestrator) Run(ctx context.Context, req Request) (model.RunStats, error) {
	runID := o.opts.RunIDs.Generate()
	rec := o.opts.Recorders(runID)
	logger := o.opts.Logger.With("run_id", runID)

	up, err := o.connect(runID)
	if err != nil {
		return model.RunStats{}, fmt.Errorf("connect upstream: %w", err)
	}

	forced := req.ForceDryRun || o.opts.ForceDryRun
	r := &run{
		id:            runID,
		mode:          req.Mode.Effective(forced),
		rec:           rec,
		logger:        logger,
		fetcher:       NewFetcher(up, o.opts.Fetch),
		resolver:      NewResolver(up, o.opts.Resolve),
		applier:       NewApplier(up),
		emailField:    o.opts.EmailField,
		dedupe:        o.opts.DedupeByEmail,
		progressEvery: o.opts.ProgressEvery,
	}

	rec.Emit(ctx, eventlog.StartRun, eventlog.Fields{
		"requested_mode": string(req.Mode),
		"mode":           string(r.mode),
		"force_dry_run":  forced,
		"forms":          o.ListConfiguredForms(),
	})
	if req.Mode == model.ModeWrite && r.mode != model.ModeWrite {
		rec.Emit(ctx, eventlog.DryRunForced, eventlog.Fields{"requested_mode": string(req.Mode)})
	}
	logger.Info("recovery run started", "mode", r.mode, "forms", len(o.forms))

	var runErr error
	for _, form := range o.forms {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := r.processForm(ctx, form); err != nil {
			runErr = err
			break
		}
	}

	end := eventlog.Fields{
		"mode":      string(r.mode),
		"processed": r.stats.Processed,
		"updated":   r.stats.Updated,
		"skipped":   r.stats.Skipped,
		"errors":    r.stats.Errors,
	}
	if runErr != nil {
		end["interrupted"] = true
	}
	// The run may end because ctx was cancelled; the closing event is
	// still written.
	rec.Emit(context.WithoutCancel(ctx), eventlog.EndRun, end)
	logger.Info("recovery run finished",
		"processed", r.stats.Processed, "updated", r.stats.Updated,
		"skipped", r.stats.Skipped, "errors", r.stats.Errors)
	return r.stats, runErr
}

// run is the state of one recovery pass. Nothing in it is shared.
type run struct {
	id            string
	mode          model.Mode
	rec           *eventlog.Recorder
	logger        *slog.Logger
	fetcher       *Fetcher
	resolver      *Resolver
	applier       *Applier
	emailField    string
	dedupe        bool
	progressEvery int
	stats         model.RunStats
}

func (r *run) count(o Outcome) {
	r.stats.Processed++
	switch o {
	case OutcomeUpdated:
		r.stats.Updated++
	case OutcomeSkipped:
		r.stats.Skipped++
	case OutcomeError:
		r.stats.Errors++
	}
}

// processForm returns an error only when ctx ends the run.
func (r *run) processForm(ctx context.Context, form model.FormSpec) error {
	before := r.stats
	state := FormFetching
	advance := func(to FormState) {
		if !CanAdvance(state, to) {
			panic(&TransitionError{From: string(state), To: string(to)})
		}
		state = to
	}

	r.rec.Emit(ctx, eventlog.StartForm, eventlog.Fields{"form": form.ID, "mapped_fields": form.Fields.Len()})

	subs, report, err := r.fetcher.FetchAll(ctx, form.ID)
	for _, p := range report.Pages {
		r.rec.Emit(ctx, eventlog.FetchPage, eventlog.Fields{
			"form":     form.ID,
			"page":     p.Number,
			"count":    p.Count,
			"repeated": p.Repeated,
			"has_next": p.Next != "",
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		advance(FormFailed)
		r.count(OutcomeError)
		r.emitError(ctx, form.ID, 0, "", err)
		r.endForm(ctx, form.ID, state, before, len(subs))
		return nil
	}
	if report.Truncated {
		r.rec.Emit(ctx, eventlog.FetchTruncated, eventlog.Fields{
			"form":        form.ID,
			"max_pages":   report.MaxPages,
			"submissions": report.Total,
		})
	}

	fetched := len(subs)
	if r.dedupe {
		var dropped int
		subs, dropped = LatestPerEmail(subs, r.emailField)
		if dropped > 0 {
			r.rec.Emit(ctx, eventlog.SubmissionsDeduped, eventlog.Fields{
				"form":    form.ID,
				"kept":    len(subs),
				"dropped": dropped,
			})
		}
	}

	advance(FormIterating)
	r.logger.Info("form fetched", "form", form.ID, "submissions", fetched, "pages", len(report.Pages))
	targets := form.Fields.TargetProperties()

	for i, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processSubmission(ctx, form, i+1, sub, targets); err != nil {
			return err
		}
		if done := i + 1; done%r.progressEvery == 0 && done < len(subs) {
			r.rec.Emit(ctx, eventlog.Progress, eventlog.Fields{"form": form.ID, "done": done, "total": len(subs)})
		}
	}

	advance(FormDone)
	r.endForm(ctx, form.ID, state, before, fetched)
	return nil
}

func (r *run) endForm(ctx context.Context, formID string, state FormState, before model.RunStats, fetched int) {
	r.rec.Emit(ctx, eventlog.EndForm, eventlog.Fields{
		"form":        formID,
		"status":      string(state),
		"submissions": fetched,
		"processed":   r.stats.Processed - before.Processed,
		"updated":     r.stats.Updated - before.Updated,
		"skipped":     r.stats.Skipped - before.Skipped,
		"errors":      r.stats.Errors - before.Errors,
	})
}

// processSubmission walks one submission through the state machine. It
// returns an error only when ctx ends the run; the submission is then left
// uncounted.
func (r *run) processSubmission(ctx context.Context, form model.FormSpec, index int, sub model.Submission, targets []string) error {
	s := &tracker{run: r, form: form.ID, index: index, state: StateReceived}

	email := sub.Email(r.emailField)
	if email == "" {
		s.to(ctx, StateSkipNoEmail)
		r.rec.Emit(ctx, eventlog.SkipNoEmail, eventlog.Fields{
			"form":          form.ID,
			"index":         index,
			"conversion_id": optional(sub.ConversionID()),
		})
		return nil
	}
	s.email = email

	mapped := MapFields(sub, form.Fields)
	if len(mapped) == 0 {
		s.to(ctx, StateSkipNoMapped)
		r.rec.Emit(ctx, eventlog.SkipNoMappedFields, eventlog.Fields{"form": form.ID, "index": index, "email": email})
		return nil
	}
	s.to(ctx, StateMapped)
	s.to(ctx, StateResolving)

	res, err := r.resolver.FindByEmail(ctx, email, targets)
	if res.Matches > 1 {
		r.rec.Emit(ctx, eventlog.MultipleMatches, eventlog.Fields{
			"form":       form.ID,
			"index":      index,
			"email":      email,
			"matches":    res.Matches,
			"contact_id": res.Contact.ID(),
			"policy":     string(r.resolver.opts.MultipleMatches),
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrContactNotFound) {
			s.to(ctx, StateNotFound)
			r.rec.Emit(ctx, eventlog.ContactNotFound, eventlog.Fields{"form": form.ID, "index": index, "email": email})
			return nil
		}
		s.to(ctx, StateError)
		r.emitError(ctx, form.ID, index, email, err)
		return nil
	}

	s.to(ctx, StateDeciding)
	d := Decide(res.Contact, mapped, r.mode)
	processed := eventlog.Fields{
		"form":               form.ID,
		"index":              index,
		"email":              email,
		"contact_id":         d.ContactID,
		"updates_count":      len(d.Fields),
		"would_update_count": d.HeldFor(model.HoldDryRun),
	}
	if len(d.Held) > 0 {
		held := make(map[string]string, len(d.Held))
		for _, h := range d.Held {
			if _, ok := held[h.Property]; !ok {
				held[h.Property] = string(h.Reason)
			}
		}
		processed["held"] = held
	}

	if d.Empty() {
		s.to(ctx, StateNoOp)
		processed["outcome"] = string(StateNoOp)
		r.rec.Emit(ctx, eventlog.SubmissionProcessed, processed)
		return nil
	}

	s.to(ctx, StateApplying)
	if err := r.applier.Apply(ctx, d); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.to(ctx, StateError)
		r.emitError(ctx, form.ID, index, email, err)
		processed["outcome"] = string(StateError)
		processed["updates_count"] = 0
		r.rec.Emit(ctx, eventlog.SubmissionProcessed, processed)
		return nil
	}

	s.to(ctx, StateUpdated)
	processed["outcome"] = string(StateUpdated)
	processed["properties"] = d.Properties()
	r.rec.Emit(ctx, eventlog.SubmissionProcessed, processed)
	return nil
}

func (r *run) emitError(ctx context.Context, formID string, index int, email string, err error) {
	fields := eventlog.Fields{
		"form":    formID,
		"message": err.Error(),
	}
	if index > 0 {
		fields["index"] = index
	}
	if email != "" {
		fields["email"] = email
	}
	var re *RunError
	if errors.As(err, &re) {
		fields["code"] = string(re.Code)
		fields["stage"] = string(re.Stage)
		if status := hubspot.StatusCode(re.Err); status != 0 {
			fields["status"] = status
		}
	}
	r.rec.Emit(ctx, eventlog.Error, fields)
}

// tracker follows one submission through the state table and emits a
// submission_state event per move. Reaching a terminal state counts it.
type tracker struct {
	run   *run
	form  string
	index int
	email string
	state SubmissionState
}

// to panics on an illegal move: that is an orchestrator bug.
func (t *tracker) to(ctx context.Context, next SubmissionState) {
	if !CanTransition(t.state, next) {
		panic(&TransitionError{From: string(t.state), To: string(next)})
	}
	t.run.rec.Emit(ctx, eventlog.SubmissionState, eventlog.Fields{
		"form":  t.form,
		"index": t.index,
		"email": optional(t.email),
		"from":  string(t.state),
		"to":    string(next),
	})
	t.state = next
	if outcome, ok := next.Terminal(); ok {
		t.run.count(outcome)
	}
}

// optional maps "" to nil so the field is left out of the event.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
