package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// FakeValue is one name/value pair of a fake form submission. A nil Value
// is sent as JSON null.
type FakeValue struct {
	Name  string `yaml:"name" json:"name"`
	Value any    `yaml:"value" json:"value"`
}

// FakeSubmission is a stored form submission.
type FakeSubmission struct {
	SubmittedAt  int64       `yaml:"submitted_at" json:"submittedAt"`
	ConversionID string      `yaml:"conversion_id" json:"conversionId,omitempty"`
	Values       []FakeValue `yaml:"values" json:"values"`
}

// Sub builds a FakeSubmission from alternating name/value strings.
func Sub(kv ...string) FakeSubmission {
	s := FakeSubmission{}
	for i := 0; i+1 < len(kv); i += 2 {
		s.Values = append(s.Values, FakeValue{Name: kv[i], Value: kv[i+1]})
	}
	return s
}

// Fault makes matching requests fail. Times <= 0 means every match fails.
type Fault struct {
	Method     string            `yaml:"method"`
	PathPrefix string            `yaml:"path_prefix"`
	Status     int               `yaml:"status"`
	Times      int               `yaml:"times"`
	Headers    map[string]string `yaml:"headers"`
	Body       string            `yaml:"body"`
}

// Call records one request received by the fake.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Status int
}

// String renders the call as "METHOD path", used in call-sequence asserts.
func (c Call) String() string {
	return c.Method + " " + c.Path
}

type activeFault struct {
	Fault
	left int
}

type fakeContact struct {
	id    string
	props map[string]*string
}

// FakeHubSpot is an in-memory stand-in for the three HubSpot endpoints the
// recovery run uses. It records every call in arrival order.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeHubSpot struct {
	mu sync.Mutex

	token    string
	forms    map[string][]FakeSubmission
	contacts []*fakeContact
	faults   []*activeFault
	headers  http.Header
	scripted []http.Header
	repeats  map[string]int
	pageCap  int
	calls    []Call

	server *httptest.Server
}

// NewFakeHubSpot starts a fake server. Close it when done.
func NewFakeHubSpot() *FakeHubSpot {
	f := &FakeHubSpot{
		forms:   map[string][]FakeSubmission{},
		headers: http.Header{},
		repeats: map[string]int{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	return f
}

// URL is the base URL to hand to the client.
func (f *FakeHubSpot) URL() string { return f.server.URL }

// Close shuts the server down.
func (f *FakeHubSpot) Close() { f.server.Close() }

// RequireToken makes every request without the bearer token fail with 401.
func (f *FakeHubSpot) RequireToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// AddForm registers a form, possibly with no submissions.
func (f *FakeHubSpot) AddForm(formID string, subs ...FakeSubmission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms[formID] = append(f.forms[formID], subs...)
}

// AddContact stores a contact. Properties with an empty string are stored
// as present but empty.
func (f *FakeHubSpot) AddContact(id string, props map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeContact{id: id, props: map[string]*string{}}
	for k, v := range props {
		v := v
		c.props[k] = &v
	}
	f.contacts = append(f.contacts, c)
}

// Contact returns a copy of the stored properties of id.
func (f *FakeHubSpot) Contact(id string) (map[string]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if c.id == id {
			out := make(map[string]string, len(c.props))
			for k, v := range c.props {
				if v != nil {
					out[k] = *v
				}
			}
			return out, true
		}
	}
	return nil, false
}

// AddFault installs a fault. Faults are checked in installation order.
func (f *FakeHubSpot) AddFault(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &activeFault{Fault: fault, left: fault.Times})
}

// SetHeader adds a header to every response.
func (f *FakeHubSpot) SetHeader(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers.Set(name, value)
}

// ScriptHeaders queues per-response headers, consumed one per request
// before the static headers are applied.
func (f *FakeHubSpot) ScriptHeaders(hs ...http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted = append(f.scripted, hs...)
}

// RepeatCursor makes the page served for cursor answer with the same cursor
// as its continuation token the given number of times before advancing.
// The first page has no cursor and cannot repeat.
func (f *FakeHubSpot) RepeatCursor(cursor string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repeats[cursor] = times
}

// CapPageSize makes submission pages hold at most n results whatever limit
// is requested, as the production forms endpoint does. Zero removes the cap.
func (f *FakeHubSpot) CapPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCap = n
}

// Calls returns every recorded call in arrival order.
func (f *FakeHubSpot) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallSequence returns the calls rendered as "METHOD path".
func (f *FakeHubSpot) CallSequence() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// CountCalls counts calls with the given method.
func (f *FakeHubSpot) CountCalls(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (f *FakeHubSpot) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeHubSpot) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body}
	status := f.route(w, r, body)
	call.Status = status
	f.calls = append(f.calls, call)
}

func (f *FakeHubSpot) route(w http.ResponseWriter, r *http.Request, body []byte) int {
	if len(f.scripted) > 0 {
		for k, vs := range f.scripted[0] {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		f.scripted = f.scripted[1:]
	}
	for k, vs := range f.headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	if f.token != "" && r.Header.Get("Authorization") != "Bearer "+f.token {
		return writeError(w, http.StatusUnauthorized, "INVALID_AUTHENTICATION", "missing or invalid token")
	}
	if status, ok := f.applyFault(w, r); ok {
		return status
	}

	const formsPrefix = "/form-integrations/v1/submissions/forms/"
	const contactsPrefix = "/crm/v3/objects/contacts/"
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, formsPrefix):
		return f.listSubmissions(w, r, strings.TrimPrefix(r.URL.Path, formsPrefix))
	case r.Method == http.MethodPost && r.URL.Path == contactsPrefix+"search":
		return f.search(w, body)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, contactsPrefix):
		return f.update(w, strings.TrimPrefix(r.URL.Path, contactsPrefix), body)
	}
	return writeError(w, http.StatusNotFound, "OBJECT_NOT_FOUND", "no route")
}

func (f *FakeHubSpot) applyFault(w http.ResponseWriter, r *http.Request) (int, bool) {
	for _, fault := range f.faults {
		if fault.Method != "" && !strings.EqualFold(fault.Method, r.Method) {
			continue
		}
		if !strings.HasPrefix(r.URL.Path, fault.PathPrefix) {
			continue
		}
		if fault.Times > 0 {
			if fault.left == 0 {
				continue
			}
			fault.left--
		}
		for k, v := range fault.Headers {
			w.Header().Set(k, v)
		}
		msg := fault.Body
		if msg == "" {
			msg = http.StatusText(fault.Status)
		}
		return writeError(w, fault.Status, "INJECTED", msg), true
	}
	return 0, false
}

func (f *FakeHubSpot) listSubmissions(w http.ResponseWriter, r *http.Request, formID string) int {
	subs, ok := f.forms[formID]
	if !ok {
		return writeError(w, http.StatusNotFound, "OBJECT_NOT_FOUND", "form not found")
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if f.pageCap > 0 && limit > f.pageCap {
		limit = f.pageCap
	}
	cursor := r.URL.Query().Get("after")
	offset := 0
	if cursor != "" {
		offset, err = strconv.Atoi(cursor)
		if err != nil || offset < 0 || offset > len(subs) {
			return writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "bad cursor")
		}
	}
	end := min(offset+limit, len(subs))
	page := subs[offset:end]

	resp := map[string]any{"results": page}
	next := ""
	if end < len(subs) {
		next = strconv.Itoa(end)
	}
	if n := f.repeats[cursor]; n > 0 && cursor != "" && next != "" {
		f.repeats[cursor] = n - 1
		next = cursor
	}
	if next != "" {
		resp["paging"] = map[string]any{"next": map[string]any{"after": next}}
	}
	return writeJSON(w, http.StatusOK, resp)
}

func (f *FakeHubSpot) search(w http.ResponseWriter, body []byte) int {
	var req struct {
		FilterGroups []struct {
			Filters []struct {
				PropertyName string `json:"propertyName"`
				Operator     string `json:"operator"`
				Value        string `json:"value"`
			} `json:"filters"`
		} `json:"filterGroups"`
		Properties []string `json:"properties"`
		Limit      int      `json:"limit"`
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.FilterGroups) == 0 || len(req.FilterGroups[0].Filters) == 0 {
		return writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid search body")
	}
	flt := req.FilterGroups[0].Filters[0]
	if flt.Operator != "EQ" {
		return writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unsupported operator")
	}

	results := []map[string]any{}
	total := 0
	for _, c := range f.contacts {
		v, ok := c.props[flt.PropertyName]
		if !ok || v == nil || !strings.EqualFold(*v, flt.Value) {
			continue
		}
		total++
		if req.Limit > 0 && len(results) >= req.Limit {
			continue
		}
		props := map[string]any{}
		for _, p := range req.Properties {
			if pv, ok := c.props[p]; ok && pv != nil {
				props[p] = *pv
			} else {
				props[p] = nil
			}
		}
		results = append(results, map[string]any{"id": c.id, "properties": props})
	}
	return writeJSON(w, http.StatusOK, map[string]any{"total": total, "results": results})
}

func (f *FakeHubSpot) update(w http.ResponseWriter, id string, body []byte) int {
	var req struct {
		Properties map[string]string `json:"properties"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid update body")
	}
	for _, c := range f.contacts {
		if c.id != id {
			continue
		}
		for k, v := range req.Properties {
			v := v
			c.props[k] = &v
		}
		return writeJSON(w, http.StatusOK, map[string]any{"id": c.id})
	}
	return writeError(w, http.StatusNotFound, "OBJECT_NOT_FOUND", fmt.Sprintf("contact %s not found", id))
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	return status
}

func writeError(w http.ResponseWriter, status int, category, message string) int {
	return writeJSON(w, status, map[string]any{
		"status":   "error",
		"category": category,
		"message":  message,
	})
}
