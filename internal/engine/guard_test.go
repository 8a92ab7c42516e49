package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/formrecovery/internal/model"
)

func mf(external, target, raw string) model.MappedField {
	return model.MappedField{ExternalField: external, TargetProperty: target, RawValue: raw}
}

func TestDecide(t *testing.T) {
	contact := model.NewContact("c1", map[string]string{
		"plan_tier": "",
		"region":    "   ",
		"company":   "Acme",
	})

	tests := []struct {
		name   string
		mapped []model.MappedField
		mode   model.Mode
		want   model.UpdateDecision
	}{
		{
			name:   "fills absent and blank properties in write mode",
			mapped: []model.MappedField{mf("plan", "plan_tier", "gold"), mf("region", "region", "emea"), mf("size", "company_size", "50")},
			mode:   model.ModeWrite,
			want: model.UpdateDecision{
				ContactID: "c1",
				Fields: []model.PropertyUpdate{
					{Property: "plan_tier", Value: "gold"},
					{Property: "region", Value: "emea"},
					{Property: "company_size", Value: "50"},
				},
			},
		},
		{
			name:   "never overwrites a populated property",
			mapped: []model.MappedField{mf("company", "company", "Other Inc")},
			mode:   model.ModeWrite,
			want: model.UpdateDecision{
				ContactID: "c1",
				Held:      []model.HeldField{{Property: "company", Reason: model.HoldPopulated}},
			},
		},
		{
			name:   "smoke mode holds permitted writes",
			mapped: []model.MappedField{mf("plan", "plan_tier", "gold"), mf("company", "company", "x")},
			mode:   model.ModeSmoke,
			want: model.UpdateDecision{
				ContactID: "c1",
				Held: []model.HeldField{
					{Property: "plan_tier", Reason: model.HoldDryRun},
					{Property: "company", Reason: model.HoldPopulated},
				},
			},
		},
		{
			name:   "blank submission value is held",
			mapped: []model.MappedField{mf("plan", "plan_tier", " \t")},
			mode:   model.ModeWrite,
			want: model.UpdateDecision{
				ContactID: "c1",
				Held:      []model.HeldField{{Property: "plan_tier", Reason: model.HoldBlankValue}},
			},
		},
		{
			name:   "first mapping to a property wins",
			mapped: []model.MappedField{mf("plan", "plan_tier", "gold"), mf("plan_alt", "plan_tier", "silver")},
			mode:   model.ModeWrite,
			want: model.UpdateDecision{
				ContactID: "c1",
				Fields:    []model.PropertyUpdate{{Property: "plan_tier", Value: "gold"}},
				Held:      []model.HeldField{{Property: "plan_tier", Reason: model.HoldDuplicate}},
			},
		},
		{
			name:   "raw value is written untrimmed",
			mapped: []model.MappedField{mf("plan", "plan_tier", "  gold ")},
			mode:   model.ModeWrite,
			want: model.UpdateDecision{
				ContactID: "c1",
				Fields:    []model.PropertyUpdate{{Property: "plan_tier", Value: "  gold "}},
			},
		},
		{
			name: "nothing mapped is an empty decision",
			mode: model.ModeWrite,
			want: model.UpdateDecision{ContactID: "c1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(contact, tt.mapped, tt.mode)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Decide() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDecide_WriteNeverTargetsPopulated runs every combination of contact
// state and mode and checks that a populated property is never written.
func TestDecide_WriteNeverTargetsPopulated(t *testing.T) {
	values := []string{"", " ", "x"}
	for _, current := range values {
		for _, present := range []bool{true, false} {
			for _, raw := range values {
				for _, mode := range []model.Mode{model.ModeSmoke, model.ModeWrite} {
					props := map[string]string{}
					if present {
						props["p"] = current
					}
					d := Decide(model.NewContact("c", props), []model.MappedField{mf("f", "p", raw)}, mode)

					if !model.IsBlank(current, present) || mode == model.ModeSmoke || model.IsBlank(raw, true) {
						assert.True(t, d.Empty(), "current=%q present=%v raw=%q mode=%s", current, present, raw, mode)
						assert.Len(t, d.Held, 1)
					} else {
						assert.Equal(t, []model.PropertyUpdate{{Property: "p", Value: raw}}, d.Fields)
					}
				}
			}
		}
	}
}

func TestDecide_SmokeAndWriteConsiderTheSameFields(t *testing.T) {
	contact := model.NewContact("c1", map[string]string{"a": "set"})
	mapped := []model.MappedField{mf("x", "a", "1"), mf("y", "b", "2"), mf("z", "c", "3")}

	write := Decide(contact, mapped, model.ModeWrite)
	smoke := Decide(contact, mapped, model.ModeSmoke)

	assert.Equal(t, len(write.Fields), smoke.HeldFor(model.HoldDryRun))
	assert.Equal(t, write.HeldFor(model.HoldPopulated), smoke.HeldFor(model.HoldPopulated))
	assert.True(t, smoke.Empty())
}
