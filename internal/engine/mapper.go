package engine

import "github.com/roach88/formrecovery/internal/model"

// MapFields pairs the submission's values with the form's field map, in
// field-map order. A pair is included only when the submission carries the
// external field with a non-blank value; fields outside the map are never
// looked at.
func MapFields(sub model.Submission, fields model.FieldMap) []model.MappedField {
	var out []model.MappedField
	for _, pair := range fields.Pairs() {
		v, ok := sub.Value(pair.ExternalField)
		if model.IsBlank(v, ok) {
			continue
		}
		out = append(out, model.MappedField{
			ExternalField:  pair.ExternalField,
			TargetProperty: pair.TargetProperty,
			RawValue:       v,
		})
	}
	return out
}
