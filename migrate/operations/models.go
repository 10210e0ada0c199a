package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

// CreateModel introduces a new model with its full field, index and option
// set.
type CreateModel struct {
	Name         string        `json:"name"`
	Fields       []state.Field `json:"fields"`
	Indexes      []state.Index `json:"indexes,omitempty"`
	Options      state.Options `json:"options,omitempty"`
	Bases        []string      `json:"bases,omitempty"`
	Capabilities []string      `json:"capabilities,omitempty"`
}

func (op *CreateModel) Kind() string { return "create_model" }

func (op *CreateModel) Describe() string {
	return fmt.Sprintf("Create model %s", op.Name)
}

func (op *CreateModel) StateForwards(app string, st *state.ProjectState) error {
	ms := &state.ModelState{
		App:          app,
		Name:         op.Name,
		Fields:       make([]state.Field, len(op.Fields)),
		Indexes:      append([]state.Index(nil), op.Indexes...),
		Options:      op.Options.Clone(),
		Bases:        append([]string(nil), op.Bases...),
		Capabilities: append([]string(nil), op.Capabilities...),
	}
	for i, f := range op.Fields {
		ms.Fields[i] = f.Clone()
	}
	return st.AddModel(ms)
}

func (op *CreateModel) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(to, app, op.Name)
	if err != nil {
		return err
	}
	return ed.CreateModel(ctx, ms)
}

func (op *CreateModel) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(from, app, op.Name)
	if err != nil {
		return err
	}
	return ed.DeleteModel(ctx, ms)
}

func (op *CreateModel) Reversible() bool { return true }

func (op *CreateModel) References(app string) ([]state.ModelKey, bool) {
	keys := []state.ModelKey{state.MakeKey(app, op.Name)}
	for _, f := range op.Fields {
		if f.Rel == nil {
			continue
		}
		if key, err := state.ParseKey(f.Rel.To); err == nil {
			keys = append(keys, key)
		}
	}
	return keys, true
}

// DeleteModel removes a model. The full shape lives in the prior state, so
// the operation stays reversible.
type DeleteModel struct {
	Name string `json:"name"`
}

func (op *DeleteModel) Kind() string { return "delete_model" }

func (op *DeleteModel) Describe() string {
	return fmt.Sprintf("Delete model %s", op.Name)
}

func (op *DeleteModel) StateForwards(app string, st *state.ProjectState) error {
	return st.RemoveModel(app, op.Name)
}

func (op *DeleteModel) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(from, app, op.Name)
	if err != nil {
		return err
	}
	return ed.DeleteModel(ctx, ms)
}

func (op *DeleteModel) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	ms, err := modelOrError(to, app, op.Name)
	if err != nil {
		return err
	}
	return ed.CreateModel(ctx, ms)
}

func (op *DeleteModel) Reversible() bool { return true }

func (op *DeleteModel) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.Name)}, true
}

// RenameModel renames a model, rewriting every relation that pointed at the
// old identity.
type RenameModel struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (op *RenameModel) Kind() string { return "rename_model" }

func (op *RenameModel) Describe() string {
	return fmt.Sprintf("Rename model %s to %s", op.OldName, op.NewName)
}

func (op *RenameModel) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.OldName)
	if err != nil {
		return err
	}
	renamed := ms.Clone()
	renamed.Name = op.NewName
	if err := st.RemoveModel(app, op.OldName); err != nil {
		return err
	}
	if err := st.AddModel(renamed); err != nil {
		return err
	}
	oldRef := state.MakeKey(app, op.OldName).String()
	newRef := state.MakeKey(app, op.NewName).String()
	for _, other := range st.Models() {
		for i, f := range other.Fields {
			if f.Rel != nil && strings.EqualFold(f.Rel.To, oldRef) {
				other.Fields[i].Rel.To = newRef
			}
		}
	}
	return nil
}

func (op *RenameModel) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	old, err := modelOrError(from, app, op.OldName)
	if err != nil {
		return err
	}
	new, err := modelOrError(to, app, op.NewName)
	if err != nil {
		return err
	}
	if old.TableName() == new.TableName() {
		return nil
	}
	return ed.RenameModel(ctx, old, new)
}

func (op *RenameModel) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	old, err := modelOrError(from, app, op.NewName)
	if err != nil {
		return err
	}
	new, err := modelOrError(to, app, op.OldName)
	if err != nil {
		return err
	}
	if old.TableName() == new.TableName() {
		return nil
	}
	return ed.RenameModel(ctx, old, new)
}

func (op *RenameModel) Reversible() bool { return true }

func (op *RenameModel) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.OldName), state.MakeKey(app, op.NewName)}, true
}

// AlterModelOptions replaces a model's option set. Only a db_table change has
// a schema effect; ordering and the like are state-only.
type AlterModelOptions struct {
	Name    string        `json:"name"`
	Options state.Options `json:"options"`
}

func (op *AlterModelOptions) Kind() string { return "alter_model_options" }

func (op *AlterModelOptions) Describe() string {
	return fmt.Sprintf("Change options on %s", op.Name)
}

func (op *AlterModelOptions) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.Name)
	if err != nil {
		return err
	}
	unique := ms.Options.UniqueTogether
	ms.Options = op.Options.Clone()
	// unique_together is owned by AlterUniqueTogether.
	ms.Options.UniqueTogether = unique
	return nil
}

func (op *AlterModelOptions) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	old, err := modelOrError(from, app, op.Name)
	if err != nil {
		return err
	}
	new, err := modelOrError(to, app, op.Name)
	if err != nil {
		return err
	}
	if old.TableName() == new.TableName() {
		return nil
	}
	return ed.RenameModel(ctx, old, new)
}

func (op *AlterModelOptions) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	old, err := modelOrError(from, app, op.Name)
	if err != nil {
		return err
	}
	new, err := modelOrError(to, app, op.Name)
	if err != nil {
		return err
	}
	if old.TableName() == new.TableName() {
		return nil
	}
	return ed.RenameModel(ctx, old, new)
}

func (op *AlterModelOptions) Reversible() bool { return true }

func (op *AlterModelOptions) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.Name)}, true
}

// AlterUniqueTogether replaces the set of multi-column unique constraints on
// a model.
type AlterUniqueTogether struct {
	Name           string     `json:"name"`
	UniqueTogether [][]string `json:"unique_together"`
}

func (op *AlterUniqueTogether) Kind() string { return "alter_unique_together" }

func (op *AlterUniqueTogether) Describe() string {
	return fmt.Sprintf("Alter unique_together on %s", op.Name)
}

func (op *AlterUniqueTogether) StateForwards(app string, st *state.ProjectState) error {
	ms, err := modelOrError(st, app, op.Name)
	if err != nil {
		return err
	}
	for _, set := range op.UniqueTogether {
		for _, fname := range set {
			if _, ok := ms.Field(fname); !ok {
				return &state.Error{App: app, Model: op.Name, Field: fname, Reason: "unique_together covers unknown field"}
			}
		}
	}
	sets := make([][]string, len(op.UniqueTogether))
	for i, set := range op.UniqueTogether {
		sets[i] = append([]string(nil), set...)
	}
	ms.Options.UniqueTogether = sets
	return nil
}

func (op *AlterUniqueTogether) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	old, err := modelOrError(from, app, op.Name)
	if err != nil {
		return err
	}
	new, err := modelOrError(to, app, op.Name)
	if err != nil {
		return err
	}
	return ed.AlterUniqueTogether(ctx, new, old.Options.UniqueTogether, new.Options.UniqueTogether)
}

func (op *AlterUniqueTogether) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	old, err := modelOrError(from, app, op.Name)
	if err != nil {
		return err
	}
	new, err := modelOrError(to, app, op.Name)
	if err != nil {
		return err
	}
	return ed.AlterUniqueTogether(ctx, new, old.Options.UniqueTogether, new.Options.UniqueTogether)
}

func (op *AlterUniqueTogether) Reversible() bool { return true }

func (op *AlterUniqueTogether) References(app string) ([]state.ModelKey, bool) {
	return []state.ModelKey{state.MakeKey(app, op.Name)}, true
}
