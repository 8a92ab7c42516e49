package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formrecovery/internal/model"
	"github.com/roach88/formrecovery/internal/testutil"
)

func TestFindByEmail_LoadsRequestedProperties(t *testing.T) {
	fake := newFake(t)
	fake.AddContact("7", map[string]string{"email": "a@x.com", "plan_tier": "gold"})
	r := NewResolver(newClient(t, fake, nil), ResolverOptions{})

	res, err := r.FindByEmail(context.Background(), "a@x.com", []string{"plan_tier", "region", "email"})
	require.NoError(t, err)

	assert.Equal(t, "7", res.Contact.ID())
	assert.Equal(t, 1, res.Matches)
	v, ok := res.Contact.Property("plan_tier")
	assert.True(t, ok)
	assert.Equal(t, "gold", v)
	_, ok = res.Contact.Property("region")
	assert.False(t, ok, "null property is absent")

	var body struct {
		Properties []string `json:"properties"`
		Limit      int      `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(fake.Calls()[0].Body, &body))
	assert.Equal(t, []string{"email", "plan_tier", "region"}, body.Properties)
	assert.Equal(t, 2, body.Limit)
}

func TestFindByEmail_CaseInsensitive(t *testing.T) {
	fake := newFake(t)
	fake.AddContact("7", map[string]string{"email": "Alice@Example.com"})
	r := NewResolver(newClient(t, fake, nil), ResolverOptions{})

	res, err := r.FindByEmail(context.Background(), "alice@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "7", res.Contact.ID())
}

func TestFindByEmail_NotFound(t *testing.T) {
	fake := newFake(t)
	r := NewResolver(newClient(t, fake, nil), ResolverOptions{})

	_, err := r.FindByEmail(context.Background(), "nobody@x.com", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContactNotFound)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, 1, fake.CountCalls(http.MethodPost), "exactly one search")
}

// fixedSearcher returns canned contacts regardless of the query.
type fixedSearcher struct {
	contacts []model.Contact
	err      error
}

func (f fixedSearcher) SearchContactsByEmail(context.Context, string, string, []string, int) ([]model.Contact, error) {
	return f.contacts, f.err
}

func TestFindByEmail_DiscardsNonMatchingResults(t *testing.T) {
	r := NewResolver(fixedSearcher{contacts: []model.Contact{
		model.NewContact("1", map[string]string{"email": "other@x.com"}),
		model.NewContact("2", map[string]string{}),
	}}, ResolverOptions{})

	_, err := r.FindByEmail(context.Background(), "a@x.com", nil)
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestFindByEmail_MultipleMatches(t *testing.T) {
	both := fixedSearcher{contacts: []model.Contact{
		model.NewContact("1", map[string]string{"email": "a@x.com"}),
		model.NewContact("2", map[string]string{"email": "A@x.com"}),
	}}

	res, err := NewResolver(both, ResolverOptions{}).FindByEmail(context.Background(), "a@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Contact.ID())
	assert.Equal(t, 2, res.Matches)

	res, err = NewResolver(both, ResolverOptions{MultipleMatches: MatchError}).FindByEmail(context.Background(), "a@x.com", nil)
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))
	assert.Equal(t, 2, res.Matches)
}

func TestFindByEmail_UpstreamFailure(t *testing.T) {
	r := NewResolver(fixedSearcher{err: errors.New("connection reset")}, ResolverOptions{})

	_, err := r.FindByEmail(context.Background(), "a@x.com", nil)
	require.Error(t, err)
	assert.True(t, IsUpstreamError(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFindByEmail_CustomIdentityProperty(t *testing.T) {
	fake := newFake(t)
	fake.AddContact("9", map[string]string{"work_email": "a@x.com"})
	r := NewResolver(newClient(t, fake, nil), ResolverOptions{IdentityProperty: "work_email"})

	res, err := r.FindByEmail(context.Background(), "a@x.com", []string{"plan_tier"})
	require.NoError(t, err)
	assert.Equal(t, "9", res.Contact.ID())
}

func TestParseMatchPolicy(t *testing.T) {
	for in, want := range map[string]MatchPolicy{"": MatchFirst, "first": MatchFirst, " ERROR ": MatchError} {
		got, err := ParseMatchPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMatchPolicy("newest")
	assert.Error(t, err)
}

func TestApply_SendsExactlyTheDecisionFields(t *testing.T) {
	fake := newFake(t)
	fake.AddContact("1", map[string]string{"email": "a@x.com", "company": "Acme"})
	a := NewApplier(newClient(t, fake, nil))

	err := a.Apply(context.Background(), model.UpdateDecision{
		ContactID: "1",
		Fields:    []model.PropertyUpdate{{Property: "plan_tier", Value: "gold"}},
		Held:      []model.HeldField{{Property: "company", Reason: model.HoldPopulated}},
	})
	require.NoError(t, err)

	props, _ := fake.Contact("1")
	assert.Equal(t, map[string]string{"email": "a@x.com", "company": "Acme", "plan_tier": "gold"}, props)
}

func TestApply_EmptyDecisionMakesNoCall(t *testing.T) {
	fake := newFake(t)
	a := NewApplier(newClient(t, fake, nil))

	err := a.Apply(context.Background(), model.UpdateDecision{ContactID: "1"})
	assert.ErrorIs(t, err, ErrEmptyDecision)
	assert.Empty(t, fake.Calls())
}

func TestApply_UpstreamFailure(t *testing.T) {
	fake := newFake(t)
	fake.AddFault(testutil.Fault{Method: http.MethodPatch, Status: http.StatusBadRequest, Body: "bad property"})
	a := NewApplier(newClient(t, fake, nil))

	err := a.Apply(context.Background(), model.UpdateDecision{
		ContactID: "1",
		Fields:    []model.PropertyUpdate{{Property: "plan_tier", Value: "gold"}},
	})
	require.Error(t, err)
	assert.True(t, IsUpstreamError(err))
	assert.Contains(t, err.Error(), "bad property")
}

func TestStateTables(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateMapped))
	assert.True(t, CanTransition(StateResolving, StateNotFound))
	assert.False(t, CanTransition(StateReceived, StateApplying))
	assert.False(t, CanTransition(StateUpdated, StateApplying), "terminal states have no moves")

	for s, want := range map[SubmissionState]Outcome{
		StateSkipNoEmail:  OutcomeSkipped,
		StateSkipNoMapped: OutcomeSkipped,
		StateNotFound:     OutcomeSkipped,
		StateNoOp:         OutcomeSkipped,
		StateUpdated:      OutcomeUpdated,
		StateError:        OutcomeError,
	} {
		got, ok := s.Terminal()
		assert.True(t, ok, s)
		assert.Equal(t, want, got, s)
	}
	_, ok := StateDeciding.Terminal()
	assert.False(t, ok)

	assert.True(t, CanAdvance(FormFetching, FormFailed))
	assert.False(t, CanAdvance(FormFailed, FormIterating))
	assert.Equal(t, "illegal transition a -> b", (&TransitionError{From: "a", To: "b"}).Error())
}
