package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/formrecovery/internal/eventlog"
)

// TraceSnapshot captures what a scenario run did: its stats, the upstream
// calls and the events without wall-clock timestamps.
type TraceSnapshot struct {
	ScenarioName string
	RunID        string
	Result       *Result
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because eventlog.MarshalCanonical only handles plain maps, slices and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Result.Trace))
	for i, event := range s.Result.Trace {
		eventMap := make(map[string]any, len(event.Fields)+2)
		for k, v := range event.Fields {
			eventMap[k] = v
		}
		eventMap[eventlog.KeyEvent] = event.Event
		eventMap[eventlog.KeySeq] = event.Seq
		trace[i] = eventMap
	}

	stats := s.Result.Stats
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"run_id":        s.RunID,
		"stats": map[string]any{
			"processed": stats.Processed,
			"updated":   stats.Updated,
			"skipped":   stats.Skipped,
			"errors":    stats.Errors,
		},
		"calls": append([]string{}, s.Result.Calls...),
		"trace": trace,
	}
}

// Snapshot renders a result as the canonical JSON stored in golden files.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, RunID: result.RunID, Result: result}
	return eventlog.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
