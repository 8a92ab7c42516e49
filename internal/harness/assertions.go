package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Event, formatFields(event.Fields))
		}
	}
	return buf.String()
}

// assertEventContains checks if the trace contains an event with the
// given name whose fields include the expected ones (subset match).
func assertEventContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Event == assertion.Event && matchFields(event.Fields, assertion.Fields) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertEventContains,
		Expected: fmt.Sprintf("event %s with fields %s", assertion.Event, formatFields(assertion.Fields)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that events first appear in the given order.
// Events don't need to be consecutive.
func assertEventOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Event]; !seen {
			positions[event.Event] = i + 1 // 1-indexed for readability
		}
	}

	for _, name := range assertion.Events {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertEventCount checks that the event appears exactly Count times.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Event == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertCallCount checks how many upstream calls used the method.
func assertCallCount(calls []string, assertion Assertion) error {
	prefix := strings.ToUpper(assertion.Method) + " "
	count := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d %s calls", assertion.Count, strings.ToUpper(assertion.Method)),
			Actual:   fmt.Sprintf("%d calls: %v", count, calls),
		}
	}
	return nil
}

// assertFinalContact checks a contact's final properties (subset match).
// An expected empty string accepts an absent property.
func assertFinalContact(contacts map[string]map[string]string, assertion Assertion) error {
	props, ok := contacts[assertion.Contact]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalContact,
			Expected: fmt.Sprintf("contact %s", assertion.Contact),
			Actual:   "contact not found",
		}
	}

	for _, key := range sortedKeys(assertion.Expect) {
		want := assertion.Expect[key]
		if got := props[key]; got != want {
			return &AssertionError{
				Type:     AssertFinalContact,
				Expected: fmt.Sprintf("contact %s property %q = %q", assertion.Contact, key, want),
				Actual:   fmt.Sprintf("property %q = %q", key, got),
			}
		}
	}
	return nil
}

// matchFields checks if actual fields contain all expected fields.
// Extra keys in actual are ignored.
func matchFields(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares an event value with a YAML-parsed expectation.
// YAML yields int, string, bool, []any and map[string]any; events carry
// Go ints, []string and map[string]string, so both sides are normalized
// first.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint64:
		return int64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventContains:
			err = assertEventContains(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertCallCount:
			err = assertCallCount(result.Calls, assertion)
		case AssertFinalContact:
			err = assertFinalContact(result.Contacts, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
