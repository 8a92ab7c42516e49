package engine

import "github.com/roach88/formrecovery/internal/model"

// Decide applies the overwrite guard. A candidate becomes a write only if
// its raw value is non-blank, the contact's current value is absent or
// blank, and mode is write. Everything else is recorded as held with the
// first rule that blocked it.
//
// mode must already be the effective mode; a forced dry run is resolved by
// the caller. When several candidates target the same property, the first
// one wins and the rest are held as duplicates.
func Decide(contact model.Contact, mapped []model.MappedField, mode model.Mode) model.UpdateDecision {
	d := model.UpdateDecision{ContactID: contact.ID()}
	claimed := make(map[string]bool, len(mapped))

	for _, m := range mapped {
		if claimed[m.TargetProperty] {
			d.Held = append(d.Held, model.HeldField{Property: m.TargetProperty, Reason: model.HoldDuplicate})
			continue
		}
		claimed[m.TargetProperty] = true

		if model.IsBlank(m.RawValue, true) {
			d.Held = append(d.Held, model.HeldField{Property: m.TargetProperty, Reason: model.HoldBlankValue})
			continue
		}
		if current, ok := contact.Property(m.TargetProperty); !model.IsBlank(current, ok) {
			d.Held = append(d.Held, model.HeldField{Property: m.TargetProperty, Reason: model.HoldPopulated})
			continue
		}
		if mode != model.ModeWrite {
			d.Held = append(d.Held, model.HeldField{Property: m.TargetProperty, Reason: model.HoldDryRun})
			continue
		}
		d.Fields = append(d.Fields, model.PropertyUpdate{Property: m.TargetProperty, Value: m.RawValue})
	}
	return d
}
