package operations

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

// AddIndex creates a named index on a model.
type AddIndex struct {
	ModelName string      `json:"model"`
	Index     state.Index `json:"index"`
}

func (op *AddIndex) Kind() string { return "add_index" }

func (op *AddIndex) Describe() string {
	return fmt.Sprintf("Add index %s to %s", op.Index.Name, op.ModelName)
}

func (op *AddIndex) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.ModelName)
	if err != nil {
		return err
	}
	for _, idx := range ms.Indexes {
		if idx.Name == op.Index.Name {
			return &state.Error{App: app, Model: op.ModelName, Reason: fmt.Sprintf("index %s already exists", op.Index.Name)}
		}
	}
	for _, fname := range op.Index.Fields {
		if _, ok := ms.Field(fname); !ok {
			return &state.Error{App: app, Model: op.ModelName, Field: fname, Reason: fmt.Sprintf("index %s covers unknown field", op.Index.Name)}
		}
	}
	ms.Indexes = append(ms.Indexes, state.Index{
		Name:   op.Index.Name,
		Fields: append([]string(nil), op.Index.Fields...),
		Unique: op.Index.Unique,
	})
	return nil
}

func (op *AddIndex) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	return ed.AddIndex(ctx, ms, op.Index)
}

func (op *AddIndex) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(from, app, op.ModelName)
	if err != nil {
		return err
	}
	return ed.RemoveIndex(ctx, ms, op.Index)
}

func (op *AddIndex) Reversible() bool { return true }

func (op *AddIndex) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.ModelName)}, true
}

// RemoveIndex drops a named index from a model.
type RemoveIndex struct {
	ModelName string `json:"model"`
	IndexName string `json:"index"`
}

func (op *RemoveIndex) Kind() string { return "remove_index" }

func (op *RemoveIndex) Describe() string {
	return fmt.Sprintf("Remove index %s from %s", op.IndexName, op.ModelName)
}

func (op *RemoveIndex) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.ModelName)
	if err != nil {
		return err
	}
	for i, idx := range ms.Indexes {
		if idx.Name == op.IndexName {
			ms.Indexes = slices.Delete(ms.Indexes, i, i+1)
			return nil
		}
	}
	return &state.Error{App: app, Model: op.ModelName, Reason: fmt.Sprintf("index %s does not exist", op.IndexName)}
}

func (op *RemoveIndex) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(from, app, op.ModelName)
	if err != nil {
		return err
	}
	idx, ok := findIndex(ms, op.IndexName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Reason: fmt.Sprintf("index %s does not exist", op.IndexName)}
	}
	return ed.RemoveIndex(ctx, ms, idx)
}

func (op *RemoveIndex) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	idx, ok := findIndex(ms, op.IndexName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Reason: fmt.Sprintf("index %s does not exist", op.IndexName)}
	}
	return ed.AddIndex(ctx, ms, idx)
}

func (op *RemoveIndex) Reversible() bool { return true }

func (op *RemoveIndex) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.ModelName)}, true
}

func findIndex(ms *state.ModelState, name string) (state.Index, bool) {
	for _, idx := range ms.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return state.Index{}, false
}
