package engine

import (
	"context"

	"github.com/roach88/formrecovery/internal/model"
)

// ContactUpdater patches contact properties.
type ContactUpdater interface {
	UpdateContact(ctx context.Context, contactID string, properties map[string]string) error
}

// Applier issues the single patch for an update decision.
type Applier struct {
	dst ContactUpdater
}

// NewApplier creates an Applier.
func NewApplier(dst ContactUpdater) *Applier {
	return &Applier{dst: dst}
}

// Apply writes exactly the decision's fields. An empty decision returns
// ErrEmptyDecision without calling upstream.
func (a *Applier) Apply(ctx context.Context, d model.UpdateDecision) error {
	if d.Empty() {
		return ErrEmptyDecision
	}
	props := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		props[f.Property] = f.Value
	}
	if err := a.dst.UpdateContact(ctx, d.ContactID, props); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RunError{Code: CodeUpstream, Stage: StageApply, Err: err}
	}
	return nil
}
