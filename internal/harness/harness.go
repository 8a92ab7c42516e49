package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/formrecovery/internal/engine"
	"github.com/roach88/formrecovery/internal/eventlog"
	"github.com/roach88/formrecovery/internal/hubspot"
	"github.com/roach88/formrecovery/internal/model"
	"github.com/roach88/formrecovery/internal/pacing"
	"github.com/roach88/formrecovery/internal/testutil"
)

// scenarioToken is the bearer token the fake upstream demands.
const scenarioToken = "scenario-token"

// Epoch is the first wall-clock reading of every scenario run. Each
// reading advances it by one second.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh fake upstream for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Seed the fake with forms, submissions, contacts and faults
// 2. Build the real client, governor and orchestrator around it
// 3. Trigger one run with the scenario's mode
// 4. Collect events, calls, pauses and final contacts
// 5. Check expected stats and assertions
//
// The returned error is reserved for runs that could not complete; a run
// that completes with wrong results is a failing Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	mode, err := model.ParseMode(scenario.Mode)
	if err != nil {
		return nil, err
	}
	policy, err := engine.ParseMatchPolicy(scenario.Settings.MultipleMatches)
	if err != nil {
		return nil, err
	}

	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	seed(fake, scenario)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sleeper := &testutil.RecordingSleeper{}
	seq := testutil.NewDeterministicClock()
	wall := testutil.NewStepClock(Epoch, time.Second)

	governor := pacing.NewGovernor(pacing.DefaultPolicy(),
		pacing.WithSleeper(sleeper.Sleep),
		pacing.WithJitter(func() time.Duration { return 0 }),
		pacing.WithNow(func() time.Time { return Epoch }),
		pacing.WithLogger(quiet),
	)
	client, err := hubspot.NewClient(hubspot.Options{
		BaseURL:    fake.URL(),
		Token:      scenarioToken,
		Pacer:      governor,
		MaxRetries: scenario.Settings.MaxRetries,
		Logger:     quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build client: %w", err)
	}

	minLevel := slog.LevelInfo
	if scenario.Settings.TraceStates {
		minLevel = slog.LevelDebug
	}
	var rec *eventlog.Recorder
	orch, err := engine.New(engine.StaticUpstream(client), engine.Options{
		Forms:         scenario.Forms,
		EmailField:    scenario.Settings.EmailField,
		ForceDryRun:   scenario.ConfigForceDryRun,
		DedupeByEmail: scenario.Settings.DedupeByEmail,
		Fetch: engine.FetchOptions{
			PageSize: scenario.Settings.PageSize,
			MaxPages: scenario.Settings.MaxPages,
		},
		Resolve:       engine.ResolverOptions{MultipleMatches: policy},
		ProgressEvery: scenario.Settings.ProgressEvery,
		RunIDs:        testutil.NewFixedRunIDGenerator(scenario.RunID),
		Recorders: func(runID string) *eventlog.Recorder {
			rec = eventlog.NewRecorder(eventlog.Options{
				RunID:     runID,
				Logger:    quiet,
				Now:       wall.Now,
				Sequencer: seq,
				MinLevel:  minLevel,
				Retain:    true,
			})
			return rec
		},
		Logger: quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	stats, err := orch.Run(ctx, engine.Request{Mode: mode, ForceDryRun: scenario.ForceDryRun})
	if err != nil {
		return nil, fmt.Errorf("run did not complete: %w", err)
	}

	result := NewResult()
	result.RunID = rec.RunID()
	result.Stats = stats
	for _, r := range rec.Records() {
		result.AddRecord(r)
	}
	result.Calls = fake.CallSequence()
	result.Pauses = sleeper.Pauses()
	for _, c := range scenario.Contacts {
		props, _ := fake.Contact(c.ID)
		result.Contacts[c.ID] = props
	}

	if !stats.Balanced() {
		result.AddError(fmt.Sprintf("unbalanced stats: %+v", stats))
	}
	if scenario.Expect != nil && *scenario.Expect != stats {
		result.AddError((&AssertionError{
			Type:     "expect",
			Expected: fmt.Sprintf("%+v", *scenario.Expect),
			Actual:   fmt.Sprintf("%+v", stats),
			Trace:    result.Trace,
		}).Error())
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// seed loads the scenario's upstream world into the fake.
func seed(fake *testutil.FakeHubSpot, s *Scenario) {
	fake.RequireToken(scenarioToken)

	deleted := make(map[string]bool, len(s.DeletedForms))
	for _, id := range s.DeletedForms {
		deleted[id] = true
	}
	for _, f := range s.Forms {
		if !deleted[f.ID] {
			fake.AddForm(f.ID, s.Submissions[f.ID]...)
		}
	}
	for _, c := range s.Contacts {
		fake.AddContact(c.ID, c.Properties)
	}
	for _, f := range s.Faults {
		fake.AddFault(f)
	}
	for cursor, times := range s.RepeatCursors {
		fake.RepeatCursor(cursor, times)
	}
	for name, value := range s.RateHeaders {
		fake.SetHeader(name, value)
	}
}
