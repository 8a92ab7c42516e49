package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, f *FakeHubSpot, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.URL()+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func nextCursor(body map[string]any) string {
	paging, ok := body["paging"].(map[string]any)
	if !ok {
		return ""
	}
	return paging["next"].(map[string]any)["after"].(string)
}

func TestFakeHubSpot_Pagination(t *testing.T) {
	f := NewFakeHubSpot()
	t.Cleanup(f.Close)
	f.AddForm("f1", Sub("email", "a"), Sub("email", "b"), Sub("email", "c"))

	status, body := do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1?limit=2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["results"], 2)
	assert.Equal(t, "2", nextCursor(body))

	_, body = do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1?limit=2&after=2", "")
	assert.Len(t, body["results"], 1)
	assert.Empty(t, nextCursor(body))
}

func TestFakeHubSpot_CapPageSize(t *testing.T) {
	f := NewFakeHubSpot()
	t.Cleanup(f.Close)
	f.AddForm("f1", Sub("email", "a"), Sub("email", "b"), Sub("email", "c"))
	f.CapPageSize(2)

	_, body := do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1?limit=1000", "")
	assert.Len(t, body["results"], 2)
	assert.Equal(t, "2", nextCursor(body))
}

func TestFakeHubSpot_RepeatCursor(t *testing.T) {
	f := NewFakeHubSpot()
	t.Cleanup(f.Close)
	f.AddForm("f1", Sub("email", "a"), Sub("email", "b"), Sub("email", "c"), Sub("email", "d"), Sub("email", "e"))
	f.RepeatCursor("2", 1)

	_, body := do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1?limit=2&after=2", "")
	assert.Equal(t, "2", nextCursor(body), "first visit repeats the cursor")
	_, body = do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1?limit=2&after=2", "")
	assert.Equal(t, "4", nextCursor(body))
}

func TestFakeHubSpot_UnknownForm(t *testing.T) {
	f := NewFakeHubSpot()
	t.Cleanup(f.Close)

	status, body := do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "OBJECT_NOT_FOUND", body["category"])
}

func TestFakeHubSpot_RequireToken(t *testing.T) {
	f := NewFakeHubSpot()
	t.Cleanup(f.Close)
	f.AddForm("f1")
	f.RequireToken("other")

	status, _ := do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	f.RequireToken("tok")
	status, _ = do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestFakeHubSpot_FaultTimes(t *testing.T) {
	f := NewFakeHubSpot()
	t.Cleanup(f.Close)
	f.AddForm("f1")
	f.AddFault(Fault{Method: "get", PathPrefix: "/form-integrations/", Status: 429, Times: 2,
		Headers: map[string]string{"Retry-After": "1"}})

	for i := 0; i < 2; i++ {
		status, body := do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1", "")
		assert.Equal(t, 429, status)
		assert.Equal(t, "Too Many Requests", body["message"])
	}
	status, _ := do(t, f, http.MethodGet, "/form-integrations/v1/submissions/forms/f1", "")
	assert.Equal(t, http.StatusOK, status)

	calls := f.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []int{429, 429, 200}, []int{calls[0].Status, calls[1].Status, calls[2].Status})
}

func TestFakeHubSpot_SearchAndUpdate(t *testing.T) {
	f := NewFakeHubSpot()
	t.Cleanup(f.Close)
	f.AddContact("1", map[string]string{"email": "A@x.com", "plan": ""})
	f.AddContact("2", map[string]string{"email": "a@x.com"})

	search := `{"filterGroups":[{"filters":[{"propertyName":"email","operator":"EQ","value":"a@x.com"}]}],"properties":["email","plan"],"limit":1}`
	status, body := do(t, f, http.MethodPost, "/crm/v3/objects/contacts/search", search)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["total"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, map[string]any{"email": "A@x.com", "plan": ""}, first["properties"])

	status, _ = do(t, f, http.MethodPatch, "/crm/v3/objects/contacts/1", `{"properties":{"plan":"gold"}}`)
	require.Equal(t, http.StatusOK, status)
	props, ok := f.Contact("1")
	require.True(t, ok)
	assert.Equal(t, "gold", props["plan"])

	status, _ = do(t, f, http.MethodPatch, "/crm/v3/objects/contacts/9", `{"properties":{"plan":"gold"}}`)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, []string{
		"POST /crm/v3/objects/contacts/search",
		"PATCH /crm/v3/objects/contacts/1",
		"PATCH /crm/v3/objects/contacts/9",
	}, f.CallSequence())
	assert.Equal(t, 2, f.CountCalls(http.MethodPatch))
	f.ResetCalls()
	assert.Empty(t, f.Calls())
}
