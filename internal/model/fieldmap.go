package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldMapping routes one external submission field into one CRM property.
type FieldMapping struct {
	ExternalField  string `json:"field"`
	TargetProperty string `json:"property"`
}

// FieldMap is an ordered set of mappings. Iteration follows insertion order
// so that logs and decisions are deterministic.
type FieldMap struct {
	pairs []FieldMapping
}

// NewFieldMap builds a FieldMap from pairs, keeping their order.
// A repeated external field keeps its first position and last target,
// matching how a YAML or JSON object with a duplicate key is read.
func NewFieldMap(pairs ...FieldMapping) FieldMap {
	out := make([]FieldMapping, 0, len(pairs))
	index := make(map[string]int, len(pairs))
	for _, p := range pairs {
		if i, ok := index[p.ExternalField]; ok {
			out[i].TargetProperty = p.TargetProperty
			continue
		}
		index[p.ExternalField] = len(out)
		out = append(out, p)
	}
	return FieldMap{pairs: out}
}

// Pairs returns a copy of the mappings in order.
func (m FieldMap) Pairs() []FieldMapping {
	out := make([]FieldMapping, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// Len returns the number of mappings.
func (m FieldMap) Len() int {
	return len(m.pairs)
}

// Target returns the property an external field maps to.
func (m FieldMap) Target(externalField string) (string, bool) {
	for _, p := range m.pairs {
		if p.ExternalField == externalField {
			return p.TargetProperty, true
		}
	}
	return "", false
}

// TargetProperties returns the distinct target properties in map order.
func (m FieldMap) TargetProperties() []string {
	seen := make(map[string]struct{}, len(m.pairs))
	out := make([]string, 0, len(m.pairs))
	for _, p := range m.pairs {
		if _, ok := seen[p.TargetProperty]; ok {
			continue
		}
		seen[p.TargetProperty] = struct{}{}
		out = append(out, p.TargetProperty)
	}
	return out
}

// UnmarshalYAML reads a YAML mapping node, preserving key order.
func (m *FieldMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: field map must be a mapping of field to property", node.Line)
	}
	pairs := make([]FieldMapping, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: field map entries must be scalar field: property pairs", key.Line)
		}
		pairs = append(pairs, FieldMapping{
			ExternalField:  strings.TrimSpace(key.Value),
			TargetProperty: strings.TrimSpace(value.Value),
		})
	}
	*m = NewFieldMap(pairs...)
	return nil
}

// UnmarshalJSON reads a JSON object, preserving key order.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	pairs, err := decodeOrderedStringObject(json.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return err
	}
	*m = NewFieldMap(pairs...)
	return nil
}

// MarshalJSON writes the map as a JSON object in mapping order.
func (m FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m.pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.ExternalField)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.TargetProperty)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeOrderedStringObject reads one {"k":"v",...} object from dec.
func decodeOrderedStringObject(dec *json.Decoder) ([]FieldMapping, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("field map: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("field map must be a JSON object of field to property")
	}
	var pairs []FieldMapping
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("field map: %w", err)
		}
		key, _ := keyTok.(string)
		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("field map %q: %w", key, err)
		}
		val, ok := valTok.(string)
		if !ok {
			return nil, fmt.Errorf("field map %q: property must be a string", key)
		}
		pairs = append(pairs, FieldMapping{
			ExternalField:  strings.TrimSpace(key),
			TargetProperty: strings.TrimSpace(val),
		})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("field map: %w", err)
	}
	return pairs, nil
}

// DecodeFormMap parses {"formId": {"field": "property"}, ...} keeping the
// order of both forms and fields. This is the shape of the
// HUBSPOT_FORM_PROPERTY_MAP environment variable.
func DecodeFormMap(data []byte) ([]FormSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("form map: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("form map must be a JSON object of form id to field map")
	}
	var forms []FormSpec
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("form map: %w", err)
		}
		formID, _ := keyTok.(string)
		pairs, err := decodeOrderedStringObject(dec)
		if err != nil {
			return nil, fmt.Errorf("form %q: %w", formID, err)
		}
		forms = append(forms, FormSpec{
			ID:     strings.TrimSpace(formID),
			Fields: NewFieldMap(pairs...),
		})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("form map: %w", err)
	}
	return forms, nil
}
