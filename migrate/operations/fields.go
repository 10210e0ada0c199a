package operations

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

// AddField appends a field to an existing model.
type AddField struct {
	ModelName string      `json:"model"`
	Field     state.Field `json:"field"`
}

func (op *AddField) Kind() string { return "add_field" }

func (op *AddField) Describe() string {
	return fmt.Sprintf("Add field %s to %s", op.Field.Name, op.ModelName)
}

func (op *AddField) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.ModelName)
	if err != nil {
		return err
	}
	if _, ok := ms.Field(op.Field.Name); ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.Field.Name, Reason: "field already exists"}
	}
	ms.Fields = append(ms.Fields, op.Field.Clone())
	return nil
}

func (op *AddField) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	return ed.AddField(ctx, ms, op.Field)
}

func (op *AddField) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(from, app, op.ModelName)
	if err != nil {
		return err
	}
	return ed.RemoveField(ctx, ms, op.Field)
}

func (op *AddField) Reversible() bool { return true }

func (op *AddField) References(app string) ([]state.ModelKey, bool) {
	keys := []state.ModelKey{state.MakeKey(app, op.ModelName)}
	if op.Field.Rel != nil {
		if key, err := state.ParseKey(op.Field.Rel.To); err == nil {
			keys = append(keys, key)
		}
	}
	return keys, true
}

// RemoveField drops a field from a model.
type RemoveField struct {
	ModelName string `json:"model"`
	FieldName string `json:"field"`
}

func (op *RemoveField) Kind() string { return "remove_field" }

func (op *RemoveField) Describe() string {
	return fmt.Sprintf("Remove field %s from %s", op.FieldName, op.ModelName)
}

func (op *RemoveField) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.ModelName)
	if err != nil {
		return err
	}
	i := ms.FieldIndex(op.FieldName)
	if i < 0 {
		return &state.Error{App: app, Model: op.ModelName, Field: op.FieldName, Reason: "field does not exist"}
	}
	ms.Fields = slices.Delete(ms.Fields, i, i+1)
	return nil
}

func (op *RemoveField) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(from, app, op.ModelName)
	if err != nil {
		return err
	}
	f, ok := ms.Field(op.FieldName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.FieldName, Reason: "field does not exist"}
	}
	target, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	return ed.RemoveField(ctx, target, f)
}

func (op *RemoveField) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	f, ok := ms.Field(op.FieldName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.FieldName, Reason: "field does not exist"}
	}
	return ed.AddField(ctx, ms, f)
}

func (op *RemoveField) Reversible() bool { return true }

func (op *RemoveField) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.ModelName)}, true
}

// AlterField replaces a field descriptor in place. The field keeps its name;
// type, nullability, uniqueness, length and default may all change.
type AlterField struct {
	ModelName string      `json:"model"`
	Field     state.Field `json:"field"`
}

func (op *AlterField) Kind() string { return "alter_field" }

func (op *AlterField) Describe() string {
	return fmt.Sprintf("Alter field %s on %s", op.Field.Name, op.ModelName)
}

func (op *AlterField) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.ModelName)
	if err != nil {
		return err
	}
	i := ms.FieldIndex(op.Field.Name)
	if i < 0 {
		return &state.Error{App: app, Model: op.ModelName, Field: op.Field.Name, Reason: "field does not exist"}
	}
	ms.Fields[i] = op.Field.Clone()
	return nil
}

func (op *AlterField) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	prev, err := modelOrError(from, app, op.ModelName)
	if err != nil {
		return err
	}
	old, ok := prev.Field(op.Field.Name)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.Field.Name, Reason: "field does not exist"}
	}
	ms, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	return ed.AlterField(ctx, ms, old, op.Field)
}

func (op *AlterField) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	prior, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	restored, ok := prior.Field(op.Field.Name)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.Field.Name, Reason: "field does not exist"}
	}
	return ed.AlterField(ctx, prior, op.Field, restored)
}

func (op *AlterField) Reversible() bool { return true }

func (op *AlterField) References(app string) ([]state.ModelKey, bool) {
	keys := []state.ModelKey{state.MakeKey(app, op.ModelName)}
	if op.Field.Rel != nil {
		if key, err := state.ParseKey(op.Field.Rel.To); err == nil {
			keys = append(keys, key)
		}
	}
	return keys, true
}

// RenameField renames a field, updating indexes and unique_together sets
// that referenced it.
type RenameField struct {
	ModelName string `json:"model"`
	OldName   string `json:"old_name"`
	NewName   string `json:"new_name"`
}

func (op *RenameField) Kind() string { return "rename_field" }

func (op *RenameField) Describe() string {
	return fmt.Sprintf("Rename field %s on %s to %s", op.OldName, op.ModelName, op.NewName)
}

func (op *RenameField) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.ModelName)
	if err != nil {
		return err
	}
	i := ms.FieldIndex(op.OldName)
	if i < 0 {
		return &state.Error{App: app, Model: op.ModelName, Field: op.OldName, Reason: "field does not exist"}
	}
	if _, ok := ms.Field(op.NewName); ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.NewName, Reason: "field already exists"}
	}
	ms.Fields[i].Name = op.NewName
	for ii := range ms.Indexes {
		for fi, fname := range ms.Indexes[ii].Fields {
			if fname == op.OldName {
				ms.Indexes[ii].Fields[fi] = op.NewName
			}
		}
	}
	for si := range ms.Options.UniqueTogether {
		for fi, fname := range ms.Options.UniqueTogether[si] {
			if fname == op.OldName {
				ms.Options.UniqueTogether[si][fi] = op.NewName
			}
		}
	}
	return nil
}

func (op *RenameField) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	prev, err := modelOrError(from, app, op.ModelName)
	if err != nil {
		return err
	}
	old, ok := prev.Field(op.OldName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.OldName, Reason: "field does not exist"}
	}
	ms, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	renamed, ok := ms.Field(op.NewName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.NewName, Reason: "field does not exist"}
	}
	if old.ColumnName() == renamed.ColumnName() {
		return nil
	}
	return ed.RenameField(ctx, ms, old, renamed)
}

func (op *RenameField) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	prev, err := modelOrError(from, app, op.ModelName)
	if err != nil {
		return err
	}
	old, ok := prev.Field(op.NewName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.NewName, Reason: "field does not exist"}
	}
	ms, err := modelOrError(to, app, op.ModelName)
	if err != nil {
		return err
	}
	restored, ok := ms.Field(op.OldName)
	if !ok {
		return &state.Error{App: app, Model: op.ModelName, Field: op.OldName, Reason: "field does not exist"}
	}
	if old.ColumnName() == restored.ColumnName() {
		return nil
	}
	return ed.RenameField(ctx, ms, old, restored)
}

func (op *RenameField) Reversible() bool { return true }

func (op *RenameField) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.ModelName)}, true
}
