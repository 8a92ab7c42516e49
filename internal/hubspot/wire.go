package hubspot

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/roach88/formrecovery/internal/model"
)

// multiValueSeparator joins repeated values of one field, matching the
// CRM's multi-select property format.
const multiValueSeparator = ";"

type submissionsResponse struct {
	Results []submissionJSON `json:"results"`
	Paging  *pagingJSON      `json:"paging,omitempty"`
}

type pagingJSON struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next,omitempty"`
}

type submissionJSON struct {
	SubmittedAt  int64       `json:"submittedAt"`
	ConversionID string      `json:"conversionId"`
	Values       []valueJSON `json:"values"`
}

type valueJSON struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchResponse struct {
	Total   int          `json:"total"`
	Results []objectJSON `json:"results"`
}

type objectJSON struct {
	ID         string                     `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type updateRequest struct {
	Properties map[string]string `json:"properties"`
}

func (p *pagingJSON) next() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return strings.TrimSpace(p.Next.After)
}

// toSubmission flattens the name/value list. Null values are dropped and
// repeated names are joined in arrival order.
func (s submissionJSON) toSubmission() model.Submission {
	values := make(map[string]string, len(s.Values))
	for _, v := range s.Values {
		if v.Name == "" {
			continue
		}
		str, ok := scalarString(v.Value)
		if !ok {
			continue
		}
		if prev, seen := values[v.Name]; seen {
			values[v.Name] = prev + multiValueSeparator + str
			continue
		}
		values[v.Name] = str
	}
	var at time.Time
	if s.SubmittedAt > 0 {
		at = time.UnixMilli(s.SubmittedAt).UTC()
	}
	return model.NewSubmission(values, at, s.ConversionID)
}

func (o objectJSON) toContact() model.Contact {
	props := make(map[string]string, len(o.Properties))
	for name, raw := range o.Properties {
		if str, ok := scalarString(raw); ok {
			props[name] = str
		}
	}
	return model.NewContact(o.ID, props)
}

// scalarString renders a JSON scalar as a string. Null, objects and arrays
// report false.
func scalarString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case float64:
		return strings.TrimSpace(string(raw)), true
	}
	return "", false
}
