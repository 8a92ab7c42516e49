package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formrecovery/internal/testutil"
)

// countingPacer records Wait and Observe calls without sleeping.
type countingPacer struct {
	mu       sync.Mutex
	waits    int
	observed []http.Header
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return ctx.Err()
}

func (p *countingPacer) Observe(h http.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = append(p.observed, h.Clone())
}

func newTestClient(t *testing.T, fake *testutil.FakeHubSpot, retries int) (*Client, *countingPacer) {
	t.Helper()
	pacer := &countingPacer{}
	c, err := NewClient(Options{
		BaseURL:    fake.URL(),
		Token:      "tok",
		Pacer:      pacer,
		MaxRetries: retries,
	})
	require.NoError(t, err)
	return c, pacer
}

func TestNewClient_RequiresPacer(t *testing.T) {
	_, err := NewClient(Options{Token: "tok"})
	assert.Error(t, err)
}

func TestListFormSubmissions_FlattensValues(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.RequireToken("tok")
	fake.AddForm("form-1", testutil.FakeSubmission{
		SubmittedAt:  1700000000000,
		ConversionID: "conv-1",
		Values: []testutil.FakeValue{
			{Name: "email", Value: "a@x.com"},
			{Name: "interests", Value: "golf"},
			{Name: "interests", Value: "tennis"},
			{Name: "phone", Value: nil},
			{Name: "opt_in", Value: true},
		},
	})

	c, pacer := newTestClient(t, fake, 0)
	page, err := c.ListFormSubmissions(context.Background(), "form-1", "", 1000)
	require.NoError(t, err)
	require.Len(t, page.Submissions, 1)
	assert.Empty(t, page.Next)

	sub := page.Submissions[0]
	assert.Equal(t, "a@x.com", sub.Email("email"))
	v, _ := sub.Value("interests")
	assert.Equal(t, "golf;tennis", v)
	_, ok := sub.Value("phone")
	assert.False(t, ok, "null values are absent")
	v, _ = sub.Value("opt_in")
	assert.Equal(t, "true", v)
	assert.Equal(t, "conv-1", sub.ConversionID())
	assert.Equal(t, int64(1700000000000), sub.SubmittedAt().UnixMilli())

	assert.Equal(t, 1, pacer.waits)
	assert.Len(t, pacer.observed, 1)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "1000", calls[0].Query.Get("limit"))
	assert.False(t, calls[0].Query.Has("after"))
}

func TestListFormSubmissions_ReturnsCursor(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.AddForm("f", testutil.Sub("email", "a@x.com"), testutil.Sub("email", "b@x.com"), testutil.Sub("email", "c@x.com"))

	c, _ := newTestClient(t, fake, 0)
	page, err := c.ListFormSubmissions(context.Background(), "f", "", 2)
	require.NoError(t, err)
	assert.Len(t, page.Submissions, 2)
	assert.Equal(t, "2", page.Next)

	page, err = c.ListFormSubmissions(context.Background(), "f", page.Next, 2)
	require.NoError(t, err)
	assert.Len(t, page.Submissions, 1)
	assert.Empty(t, page.Next)
	assert.Equal(t, "2", fake.Calls()[1].Query.Get("after"))
}

func TestListFormSubmissions_UnknownFormIsNotFound(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()

	c, _ := newTestClient(t, fake, 0)
	_, err := c.ListFormSubmissions(context.Background(), "missing", "", 10)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "OBJECT_NOT_FOUND", he.Category)
	assert.Equal(t, "/form-integrations/v1/submissions/forms/missing", he.Path)
}

func TestSearchContactsByEmail_RequestShape(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.AddContact("101", map[string]string{"email": "a@x.com", "plan_tier": ""})

	c, _ := newTestClient(t, fake, 0)
	contacts, err := c.SearchContactsByEmail(context.Background(), "email", "A@X.com", []string{"email", "plan_tier", "region"}, 2)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "101", contacts[0].ID())

	v, ok := contacts[0].Property("plan_tier")
	assert.True(t, ok)
	assert.Equal(t, "", v)
	_, ok = contacts[0].Property("region")
	assert.False(t, ok, "null property is absent")

	var body map[string]any
	require.NoError(t, json.Unmarshal(fake.Calls()[0].Body, &body))
	assert.EqualValues(t, 2, body["limit"])
	groups := body["filterGroups"].([]any)
	flt := groups[0].(map[string]any)["filters"].([]any)[0].(map[string]any)
	assert.Equal(t, "EQ", flt["operator"])
	assert.Equal(t, "email", flt["propertyName"])
	assert.Equal(t, "A@X.com", flt["value"])
}

func TestUpdateContact_SendsOnlyGivenProperties(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.AddContact("7", map[string]string{"email": "a@x.com", "plan_tier": "gold"})

	c, _ := newTestClient(t, fake, 0)
	require.NoError(t, c.UpdateContact(context.Background(), "7", map[string]string{"region": "emea"}))

	props, ok := fake.Contact("7")
	require.True(t, ok)
	assert.Equal(t, "gold", props["plan_tier"])
	assert.Equal(t, "emea", props["region"])

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(fake.Calls()[0].Body, &body))
	assert.Equal(t, map[string]string{"region": "emea"}, body["properties"])
}

func TestDoJSON_RetriesTransientPageReadThroughPacer(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.AddForm("f", testutil.Sub("email", "a@x.com"))
	fake.AddFault(testutil.Fault{
		Method:     http.MethodGet,
		PathPrefix: "/form-integrations/",
		Status:     http.StatusTooManyRequests,
		Times:      2,
		Headers:    map[string]string{"Retry-After": "1"},
	})

	c, pacer := newTestClient(t, fake, 3)
	page, err := c.ListFormSubmissions(context.Background(), "f", "", 50)
	require.NoError(t, err)
	assert.Len(t, page.Submissions, 1)

	assert.Equal(t, 3, fake.CountCalls(http.MethodGet))
	assert.Equal(t, 3, pacer.waits, "every attempt waits on the pacer")
	require.Len(t, pacer.observed, 3)
	assert.Equal(t, "1", pacer.observed[0].Get("Retry-After"))
}

func TestDoJSON_SearchIsSentOnceWhenThrottled(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.AddContact("1", map[string]string{"email": "a@x.com"})
	fake.AddFault(testutil.Fault{
		Method:     http.MethodPost,
		PathPrefix: "/crm/v3/objects/contacts/search",
		Status:     http.StatusTooManyRequests,
		Times:      2,
		Headers:    map[string]string{"Retry-After": "2"},
	})

	c, pacer := newTestClient(t, fake, 2)
	_, err := c.SearchContactsByEmail(context.Background(), "email", "a@x.com", nil, 2)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.Equal(t, 1, fake.CountCalls(http.MethodPost))
	require.Len(t, pacer.observed, 1)
	assert.Equal(t, "2", pacer.observed[0].Get("Retry-After"), "the throttle still reaches the pacer")
}

func TestDoJSON_UpdateIsSentOnceWhenUnavailable(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.AddContact("7", map[string]string{"email": "a@x.com"})
	fake.AddFault(testutil.Fault{Method: http.MethodPatch, Status: http.StatusServiceUnavailable, Times: 1})

	c, _ := newTestClient(t, fake, 2)
	err := c.UpdateContact(context.Background(), "7", map[string]string{"x": "y"})
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, 1, fake.CountCalls(http.MethodPatch))
}

func TestDoJSON_GivesUpAfterMaxRetries(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.AddForm("f")
	fake.AddFault(testutil.Fault{Method: http.MethodGet, Status: http.StatusServiceUnavailable})

	c, _ := newTestClient(t, fake, 2)
	_, err := c.ListFormSubmissions(context.Background(), "f", "", 10)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, 3, fake.CountCalls(http.MethodGet))
}

func TestDoJSON_DoesNotRetryClientErrors(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()
	fake.RequireToken("other")

	c, _ := newTestClient(t, fake, 3)
	err := c.UpdateContact(context.Background(), "7", map[string]string{"x": "y"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Len(t, fake.Calls(), 1)
}

func TestDoJSON_CancelledContextStopsBeforeRequest(t *testing.T) {
	fake := testutil.NewFakeHubSpot()
	defer fake.Close()

	c, _ := newTestClient(t, fake, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SearchContactsByEmail(ctx, "email", "a@x.com", nil, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.Calls())
}

func TestHTTPError_Message(t *testing.T) {
	err := newHTTPError(http.MethodGet, "/x?limit=1", 500, []byte("boom"))
	assert.Equal(t, "/x", err.Path)
	assert.Equal(t, "GET /x: http 500: boom", err.Error())
	assert.True(t, (&HTTPError{StatusCode: 429}).Transient())
	assert.False(t, (&HTTPError{StatusCode: 400}).Transient())
}
