package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mode selects whether a run may write to the CRM.
type Mode string

const (
	// ModeSmoke reads and decides but never writes.
	ModeSmoke Mode = "smoke"
	// ModeWrite applies permitted updates.
	ModeWrite Mode = "write"
)

// ParseMode parses a mode name. An empty string is smoke.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeSmoke):
		return ModeSmoke, nil
	case string(ModeWrite):
		return ModeWrite, nil
	default:
		return "", fmt.Errorf("mode must be 'smoke' or 'write', got %q", s)
	}
}

// Effective returns the mode actually applied when forceDryRun may
// downgrade a write request.
func (m Mode) Effective(forceDryRun bool) Mode {
	if forceDryRun {
		return ModeSmoke
	}
	return m
}

// FormSpec pairs a form with the fields to recover from it.
type FormSpec struct {
	ID     string   `json:"id"`
	Fields FieldMap `json:"fields"`
}

// Submission is one historical form fill.
type Submission struct {
	values       map[string]string
	submittedAt  time.Time
	conversionID string
}

// NewSubmission copies values into a new Submission.
func NewSubmission(values map[string]string, submittedAt time.Time, conversionID string) Submission {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Submission{values: copied, submittedAt: submittedAt, conversionID: conversionID}
}

// Value returns the raw value of an external field.
func (s Submission) Value(field string) (string, bool) {
	v, ok := s.values[field]
	return v, ok
}

// Email returns the trimmed value of emailField, or "" when absent.
func (s Submission) Email(emailField string) string {
	v, ok := s.values[emailField]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Fields returns the submission's field names, sorted.
func (s Submission) Fields() []string {
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SubmittedAt returns when the form was submitted.
func (s Submission) SubmittedAt() time.Time { return s.submittedAt }

// ConversionID returns the upstream identifier of the submission, if any.
func (s Submission) ConversionID() string { return s.conversionID }

// SubmissionPage is one page of a paginated submissions listing.
type SubmissionPage struct {
	Submissions []Submission
	// Next is the continuation cursor; empty when there are no more pages.
	Next string
}

// Contact is a snapshot of one CRM contact.
type Contact struct {
	id         string
	properties map[string]string
}

// NewContact copies properties into a new Contact. Properties with no
// value upstream should be left out of the map.
func NewContact(id string, properties map[string]string) Contact {
	copied := make(map[string]string, len(properties))
	for k, v := range properties {
		copied[k] = v
	}
	return Contact{id: id, properties: copied}
}

// ID returns the CRM record id.
func (c Contact) ID() string { return c.id }

// Property returns the current value of a property.
func (c Contact) Property(name string) (string, bool) {
	v, ok := c.properties[name]
	return v, ok
}

// Properties returns a copy of all known properties.
func (c Contact) Properties() map[string]string {
	out := make(map[string]string, len(c.properties))
	for k, v := range c.properties {
		out[k] = v
	}
	return out
}

// MappedField is a configured field that is present in a submission.
type MappedField struct {
	ExternalField  string
	TargetProperty string
	RawValue       string
}

// PropertyUpdate is one permitted write.
type PropertyUpdate struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// HoldReason explains why a mapped field was not written.
type HoldReason string

const (
	// HoldPopulated means the contact already has a non-empty value.
	HoldPopulated HoldReason = "populated"
	// HoldDryRun means the write was permitted but the run is read-only.
	HoldDryRun HoldReason = "dry_run"
	// HoldBlankValue means the submission carried no usable value.
	HoldBlankValue HoldReason = "blank_value"
	// HoldDuplicate means an earlier mapping already targets the property.
	HoldDuplicate HoldReason = "duplicate_target"
)

// HeldField is a mapped field excluded from an UpdateDecision.
type HeldField struct {
	Property string     `json:"property"`
	Reason   HoldReason `json:"reason"`
}

// UpdateDecision lists the writes permitted for one contact. An empty
// Fields slice is a valid no-op.
type UpdateDecision struct {
	ContactID string
	Fields    []PropertyUpdate
	Held      []HeldField
}

// Empty reports whether the decision carries no writes.
func (d UpdateDecision) Empty() bool {
	return len(d.Fields) == 0
}

// Properties returns the decision as a property map for a patch body.
func (d UpdateDecision) Properties() map[string]string {
	out := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		out[f.Property] = f.Value
	}
	return out
}

// HeldFor counts held fields with the given reason.
func (d UpdateDecision) HeldFor(reason HoldReason) int {
	n := 0
	for _, h := range d.Held {
		if h.Reason == reason {
			n++
		}
	}
	return n
}

// RunStats summarizes a run. Processed always equals
// Updated + Skipped + Errors.
type RunStats struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Balanced reports whether the counters satisfy the sum invariant.
func (s RunStats) Balanced() bool {
	return s.Processed == s.Updated+s.Skipped+s.Errors
}

// IsBlank reports whether a property value counts as empty: absent, "",
// or whitespace only.
func IsBlank(value string, present bool) bool {
	return !present || strings.TrimSpace(value) == ""
}
