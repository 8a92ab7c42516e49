package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/formrecovery/internal/model"
)

// DefaultIdentityProperty is the contact property matched against the
// submission email.
const DefaultIdentityProperty = "email"

// searchLimit asks for two results so duplicates are detectable with one call.
const searchLimit = 2

// MatchPolicy decides what happens when several contacts share an email.
type MatchPolicy string

const (
	// MatchFirst takes the first result the upstream returns.
	MatchFirst MatchPolicy = "first"

	// MatchError treats several matches as an error outcome.
	MatchError MatchPolicy = "error"
)

// ParseMatchPolicy parses a policy name; empty means MatchFirst.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch MatchPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchFirst:
		return MatchFirst, nil
	case MatchError:
		return MatchError, nil
	}
	return "", fmt.Errorf("unknown multiple-match policy %q (want first or error)", s)
}

// ContactSearcher searches contacts by an exact property value.
type ContactSearcher interface {
	SearchContactsByEmail(ctx context.Context, property, email string, properties []string, limit int) ([]model.Contact, error)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	IdentityProperty string
	MultipleMatches  MatchPolicy
}

// Resolution is a resolved contact. Matches > 1 means the email was
// ambiguous and the first result was taken.
type Resolution struct {
	Contact model.Contact
	Matches int
}

// Resolver finds the contact for a submission email with exactly one
// search call. Nothing is cached across submissions.
type Resolver struct {
	src  ContactSearcher
	opts ResolverOptions
}

// NewResolver creates a Resolver.
func NewResolver(src ContactSearcher, opts ResolverOptions) *Resolver {
	if opts.IdentityProperty == "" {
		opts.IdentityProperty = DefaultIdentityProperty
	}
	if opts.MultipleMatches == "" {
		opts.MultipleMatches = MatchFirst
	}
	return &Resolver{src: src, opts: opts}
}

// FindByEmail returns the matching contact with the identity property and
// the requested properties loaded. Results whose identity value differs
// from email (ignoring case) are discarded. No match is reported as a
// *RunError wrapping ErrContactNotFound.
func (r *Resolver) FindByEmail(ctx context.Context, email string, properties []string) (Resolution, error) {
	props := r.requestedProperties(properties)
	contacts, err := r.src.SearchContactsByEmail(ctx, r.opts.IdentityProperty, email, props, searchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		return Resolution{}, &RunError{Code: CodeUpstream, Stage: StageResolve, Email: email, Err: err}
	}

	var matches []model.Contact
	for _, c := range contacts {
		if v, ok := c.Property(r.opts.IdentityProperty); ok && strings.EqualFold(strings.TrimSpace(v), email) {
			matches = append(matches, c)
		}
	}

	switch {
	case len(matches) == 0:
		return Resolution{}, &RunError{Code: CodeNotFound, Stage: StageResolve, Email: email, Err: ErrContactNotFound}
	case len(matches) > 1 && r.opts.MultipleMatches == MatchError:
		return Resolution{Contact: matches[0], Matches: len(matches)}, &RunError{
			Code:    CodeAmbiguousContact,
			Stage:   StageResolve,
			Email:   email,
			Message: fmt.Sprintf("%d contacts share this email", len(matches)),
		}
	}
	return Resolution{Contact: matches[0], Matches: len(matches)}, nil
}

func (r *Resolver) requestedProperties(properties []string) []string {
	out := make([]string, 0, len(properties)+1)
	seen := map[string]bool{r.opts.IdentityProperty: true}
	out = append(out, r.opts.IdentityProperty)
	for _, p := range properties {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
