package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formrecovery/internal/model"
	"github.com/roach88/formrecovery/internal/testutil"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

// TestScenarios runs every scenario in testdata and requires it to pass.
func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
			assert.True(t, result.Stats.Balanced())
		})
	}
}

func TestRun_DefaultsToSmokeAndDefaultRunID(t *testing.T) {
	scenario := &Scenario{
		Name:        "defaults",
		Description: "no mode and no run id",
		Forms:       []model.FormSpec{{ID: "f1", Fields: model.NewFieldMap(model.FieldMapping{ExternalField: "plan", TargetProperty: "plan_tier"})}},
		Submissions: map[string][]testutil.FakeSubmission{"f1": {testutil.Sub("email", "a@x.com", "plan", "gold")}},
		Contacts:    []ContactFixture{{ID: "1", Properties: map[string]string{"email": "a@x.com"}}},
		Expect:      &model.RunStats{Processed: 1, Skipped: 1},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, testutil.DefaultRunID, result.RunID)
	assert.NotContains(t, result.EventNames(), "dry_run_forced")
	assert.Empty(t, result.Contacts["1"]["plan_tier"])
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := loadTestdata(t, "fill_empty_property")
	scenario.Expect = &model.RunStats{Processed: 1, Skipped: 1}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: expect")
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario := loadTestdata(t, "populated_property_untouched")
	scenario.Assertions = append(scenario.Assertions,
		Assertion{Type: AssertCallCount, Method: "PATCH", Count: 1},
		Assertion{Type: AssertFinalContact, Contact: "1", Expect: map[string]string{"plan_tier": "gold"}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}

func TestRun_IsDeterministic(t *testing.T) {
	first, err := Run(loadTestdata(t, "repeated_cursor"))
	require.NoError(t, err)
	second, err := Run(loadTestdata(t, "repeated_cursor"))
	require.NoError(t, err)

	a, err := Snapshot("repeated_cursor", first)
	require.NoError(t, err)
	b, err := Snapshot("repeated_cursor", second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_TraceStatesIncludesDebugEvents(t *testing.T) {
	scenario := loadTestdata(t, "fill_empty_property")
	scenario.Settings.TraceStates = true

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	var moves []string
	for _, e := range result.Trace {
		if e.Event == "submission_state" {
			moves = append(moves, e.Fields["to"].(string))
		}
	}
	assert.Equal(t, []string{"mapped", "resolving_contact", "deciding", "applying", "updated"}, moves)
	assert.Contains(t, result.EventNames(), "fetch_page")
}

func TestRun_RatePressureSlowsCalls(t *testing.T) {
	result, err := Run(loadTestdata(t, "rate_pressure"))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	// GET, then two searches; the first pause is taken before any
	// header was seen.
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 4 * time.Second, 4 * time.Second}, result.Pauses)
}

func TestRun_ThrottledSearchIsNotRetried(t *testing.T) {
	result, err := Run(loadTestdata(t, "throttled_search_counts_error"))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	assert.Equal(t, []string{
		"GET /form-integrations/v1/submissions/forms/f1",
		"POST /crm/v3/objects/contacts/search",
		"POST /crm/v3/objects/contacts/search",
		"PATCH /crm/v3/objects/contacts/2",
	}, result.Calls, "one search per submission even with retries configured")
	// Retry-After from the throttled search dominates the next pause.
	assert.Equal(t, []time.Duration{
		300 * time.Millisecond,
		300 * time.Millisecond,
		3 * time.Second,
		300 * time.Millisecond,
	}, result.Pauses)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunContext(ctx, loadTestdata(t, "fill_empty_property"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ScenarioFilesHaveUniqueNames(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)

	seen := map[string]string{}
	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err)
		prev, dup := seen[s.Name]
		assert.False(t, dup, "%s and %s share name %q", prev, f, s.Name)
		seen[s.Name] = f
		assert.Equal(t, s.Name, strings.TrimSuffix(filepath.Base(f), ".yaml"), "file name matches scenario name")
	}
}

func TestRun_GoldenFilesHaveScenarios(t *testing.T) {
	goldens, err := filepath.Glob(filepath.Join("testdata", "golden", "*.golden"))
	require.NoError(t, err)
	for _, g := range goldens {
		name := strings.TrimSuffix(filepath.Base(g), ".golden")
		_, err := os.Stat(filepath.Join("testdata", "scenarios", name+".yaml"))
		assert.NoError(t, err, "golden %s has no scenario", g)
	}
}
