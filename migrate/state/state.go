// Package state models the in-memory shape of every app's models at a point
// in migration history. A ProjectState is only ever mutated by replaying
// operations, so the same operation sequence always reconstructs the same
// state.
package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
)

// ModelKey identifies a model as (app label, lowercased model name).
type ModelKey struct {
	App   string
	Model string
}

func (k ModelKey) String() string {
	return k.App + "." + k.Model
}

// MakeKey builds a ModelKey, lowercasing the model name so lookups are
// case-insensitive the way model references are written.
func MakeKey(app, model string) ModelKey {
	return ModelKey{App: app, Model: strings.ToLower(model)}
}

// ParseKey parses an "app.Model" reference.
func ParseKey(ref string) (ModelKey, error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ModelKey{}, fmt.Errorf("invalid model reference %q (want app.Model)", ref)
	}
	return MakeKey(parts[0], parts[1]), nil
}

// ProjectState is a snapshot of all models across all apps. Models iterate in
// insertion order so replays and diffs are deterministic.
type ProjectState struct {
	models *orderedmap.OrderedMap[ModelKey, *ModelState]
}

// NewProjectState returns an empty state.
func NewProjectState() *ProjectState {
	return &ProjectState{models: orderedmap.NewOrderedMap[ModelKey, *ModelState]()}
}

// Clone deep-copies the state. Operations mutate clones so historical states
// stay untouched.
func (ps *ProjectState) Clone() *ProjectState {
	out := NewProjectState()
	for el := ps.models.Front(); el != nil; el = el.Next() {
		out.models.Set(el.Key, el.Value.Clone())
	}
	return out
}

// AddModel registers a model. Re-adding an existing key is a state error
// because it means an earlier operation already created it.
func (ps *ProjectState) AddModel(ms *ModelState) error {
	key := ms.Key()
	if _, ok := ps.models.Get(key); ok {
		return &Error{App: key.App, Model: key.Model, Reason: "model already exists"}
	}
	ps.models.Set(key, ms)
	return nil
}

// RemoveModel drops a model from the state.
func (ps *ProjectState) RemoveModel(app, model string) error {
	key := MakeKey(app, model)
	if _, ok := ps.models.Get(key); !ok {
		return &Error{App: key.App, Model: key.Model, Reason: "model does not exist"}
	}
	ps.models.Delete(key)
	return nil
}

// Model looks up a model by app label and name.
func (ps *ProjectState) Model(app, model string) (*ModelState, bool) {
	return ps.models.Get(MakeKey(app, model))
}

// MustModel is Model for callers that have already validated presence.
func (ps *ProjectState) MustModel(app, model string) *ModelState {
	ms, ok := ps.Model(app, model)
	if !ok {
		panic(fmt.Sprintf("state: model %s.%s not present", app, model))
	}
	return ms
}

// Models returns all models in insertion order.
func (ps *ProjectState) Models() []*ModelState {
	out := make([]*ModelState, 0, ps.models.Len())
	for el := ps.models.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// AppModels returns the models belonging to one app, in insertion order.
func (ps *ProjectState) AppModels(app string) []*ModelState {
	var out []*ModelState
	for el := ps.models.Front(); el != nil; el = el.Next() {
		if el.Key.App == app {
			out = append(out, el.Value)
		}
	}
	return out
}

// Apps returns the sorted set of app labels present in the state.
func (ps *ProjectState) Apps() []string {
	seen := map[string]bool{}
	var out []string
	for el := ps.models.Front(); el != nil; el = el.Next() {
		if !seen[el.Key.App] {
			seen[el.Key.App] = true
			out = append(out, el.Key.App)
		}
	}
	sort.Strings(out)
	return out
}

// Len reports the number of models in the state.
func (ps *ProjectState) Len() int {
	return ps.models.Len()
}

// Validate checks the coherence invariant: every relation points at a model
// present in the state. A dangling reference is returned as *Error naming
// the offender.
func (ps *ProjectState) Validate() error {
	for el := ps.models.Front(); el != nil; el = el.Next() {
		ms := el.Value
		for _, f := range ms.Fields {
			if f.Rel == nil {
				continue
			}
			target, err := ParseKey(f.Rel.To)
			if err != nil {
				return &Error{App: ms.App, Model: ms.LowerName(), Field: f.Name, Reason: err.Error()}
			}
			if _, ok := ps.models.Get(target); !ok {
				return &Error{
					App:    ms.App,
					Model:  ms.LowerName(),
					Field:  f.Name,
					Reason: fmt.Sprintf("relation targets unknown model %s", target),
				}
			}
		}
		for _, idx := range ms.Indexes {
			for _, fname := range idx.Fields {
				if _, ok := ms.Field(fname); !ok {
					return &Error{
						App:    ms.App,
						Model:  ms.LowerName(),
						Field:  fname,
						Reason: fmt.Sprintf("index %s covers unknown field", idx.Name),
					}
				}
			}
		}
	}
	return nil
}

// Equal reports whether two states describe the same models, ignoring
// insertion order.
func (ps *ProjectState) Equal(other *ProjectState) bool {
	if ps.models.Len() != other.models.Len() {
		return false
	}
	for el := ps.models.Front(); el != nil; el = el.Next() {
		theirs, ok := other.models.Get(el.Key)
		if !ok || !el.Value.Equal(theirs) {
			return false
		}
	}
	return true
}
