// Package operations defines the atomic, declarative schema changes a
// migration is made of. Each operation mutates project state as a pure
// function; the paired database methods realize the same meaning through a
// schema editor for the active backend.
package operations

import (
	"context"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

// Operation is one atomic schema change.
//
// StateForwards is the single source of truth for what the operation means;
// DatabaseForwards and DatabaseBackwards must realize that meaning as DDL and
// may be no-ops only when the state change has no schema effect.
type Operation interface {
	// Kind is the stable tag used by the file format.
	Kind() string

	// Describe returns a one-line human description.
	Describe() string

	// StateForwards applies the operation to st in place. It fails with a
	// *state.Error when a referenced model or field is absent.
	StateForwards(app string, st *state.ProjectState) error

	DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error
	DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error

	// Reversible reports whether DatabaseBackwards can undo the change.
	Reversible() bool

	// References returns the models the operation touches. The second result
	// is false when the touched set cannot be determined (raw SQL, opaque
	// callbacks), which makes conflict auto-merging refuse to linearize.
	References(app string) ([]state.ModelKey, bool)
}

func modelOrError(st *state.ProjectState, app, name string) (*state.ModelState, error) {
	ms, ok := st.Model(app, name)
	if !ok {
		return nil, &state.Error{App: app, Model: name, Reason: "model does not exist"}
	}
	return ms, nil
}
