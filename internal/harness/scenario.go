package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/formrecovery/internal/engine"
	"github.com/roach88/formrecovery/internal/model"
	"github.com/roach88/formrecovery/internal/testutil"
)

// Scenario defines one recovery run against a fake upstream and the
// conditions its outcome must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID fixes the run ID. Empty means testutil.DefaultRunID.
	RunID string `yaml:"run_id,omitempty"`

	// Mode is the requested mode: "smoke" (default) or "write".
	Mode string `yaml:"mode,omitempty"`

	// ForceDryRun is the request flag; ConfigForceDryRun is the
	// process-wide setting. Either one forces smoke.
	ForceDryRun       bool `yaml:"force_dry_run,omitempty"`
	ConfigForceDryRun bool `yaml:"config_force_dry_run,omitempty"`

	Settings Settings `yaml:"settings,omitempty"`

	// Forms are the configured forms, in processing order.
	Forms []model.FormSpec `yaml:"forms"`

	// Submissions holds the upstream submissions per form id.
	Submissions map[string][]testutil.FakeSubmission `yaml:"submissions,omitempty"`

	// DeletedForms are configured but unknown upstream (404).
	DeletedForms []string `yaml:"deleted_forms,omitempty"`

	// Contacts are stored upstream in search order.
	Contacts []ContactFixture `yaml:"contacts,omitempty"`

	Faults        []testutil.Fault  `yaml:"faults,omitempty"`
	RepeatCursors map[string]int    `yaml:"repeat_cursors,omitempty"`
	RateHeaders   map[string]string `yaml:"rate_headers,omitempty"`

	// Expect, when set, must equal the returned run stats.
	Expect *model.RunStats `yaml:"expect,omitempty"`

	// Assertions validate the event trace, calls and final contacts.
	Assertions []Assertion `yaml:"assertions"`
}

// Settings are the run options a scenario may override.
type Settings struct {
	EmailField      string `yaml:"email_field,omitempty"`
	MultipleMatches string `yaml:"multiple_matches,omitempty"`
	PageSize        int    `yaml:"page_size,omitempty"`
	MaxPages        int    `yaml:"max_pages,omitempty"`
	ProgressEvery   int    `yaml:"progress_every,omitempty"`
	MaxRetries      int    `yaml:"max_retries,omitempty"`
	DedupeByEmail   bool   `yaml:"dedupe_by_email,omitempty"`

	// TraceStates keeps the debug-level submission_state and fetch_page
	// events in the trace.
	TraceStates bool `yaml:"trace_states,omitempty"`
}

// ContactFixture is one stored contact.
type ContactFixture struct {
	ID         string            `yaml:"id"`
	Properties map[string]string `yaml:"properties"`
}

// Assertion validates the trace, the upstream calls or a final contact.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_contains": an event with Event and a subset of Fields exists
	// - "event_order": Events first appear in order
	// - "event_count": Event appears exactly Count times
	// - "call_count": Method was called exactly Count times
	// - "final_contact": Contact ends with the Expect properties
	Type string `yaml:"type"`

	// Event is the event name (event_contains, event_count).
	Event string `yaml:"event,omitempty"`

	// Fields are the expected event fields (event_contains). Subset match.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Events is the expected order (event_order).
	Events []string `yaml:"events,omitempty"`

	// Method is the HTTP method (call_count).
	Method string `yaml:"method,omitempty"`

	// Count is the expected number (event_count, call_count).
	Count int `yaml:"count,omitempty"`

	// Contact is the contact id (final_contact).
	Contact string `yaml:"contact,omitempty"`

	// Expect holds expected property values (final_contact). An empty
	// string expects the property to be absent or empty.
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertCallCount     = "call_count"
	AssertFinalContact  = "final_contact"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := model.ParseMode(s.Mode); err != nil {
		return err
	}
	if _, err := engine.ParseMatchPolicy(s.Settings.MultipleMatches); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if len(s.Forms) == 0 {
		return fmt.Errorf("forms list is required and must be non-empty")
	}
	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or a non-empty assertions list is required")
	}

	known := make(map[string]bool, len(s.Forms))
	for i, f := range s.Forms {
		if f.ID == "" {
			return fmt.Errorf("forms[%d]: id is required", i)
		}
		if known[f.ID] {
			return fmt.Errorf("forms[%d]: duplicate id %q", i, f.ID)
		}
		known[f.ID] = true
	}
	for formID := range s.Submissions {
		if !known[formID] {
			return fmt.Errorf("submissions: form %q is not configured", formID)
		}
	}
	for i, id := range s.DeletedForms {
		if !known[id] {
			return fmt.Errorf("deleted_forms[%d]: form %q is not configured", i, id)
		}
		if len(s.Submissions[id]) > 0 {
			return fmt.Errorf("deleted_forms[%d]: form %q also has submissions", i, id)
		}
	}
	for i, c := range s.Contacts {
		if c.ID == "" {
			return fmt.Errorf("contacts[%d]: id is required", i)
		}
	}
	for i, f := range s.Faults {
		if f.Status < 400 || f.Status > 599 {
			return fmt.Errorf("faults[%d]: status must be 4xx or 5xx, got %d", i, f.Status)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_contains", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertCallCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertFinalContact:
		if a.Contact == "" {
			return fmt.Errorf("assertions[%d]: contact is required for final_contact", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_contact", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
