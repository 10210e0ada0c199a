package operations

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

// RunSQL executes raw SQL forwards, and ReverseSQL backwards. It has no
// in-memory state effect.
type RunSQL struct {
	SQL        string `json:"sql"`
	ReverseSQL string `json:"reverse_sql,omitempty"`
}

func (op *RunSQL) Kind() string { return "run_sql" }

func (op *RunSQL) Describe() string { return "Raw SQL operation" }

func (op *RunSQL) StateForwards(app string, st *state.ProjectState) error {
	return nil
}

func (op *RunSQL) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	return ed.Execute(ctx, op.SQL)
}

func (op *RunSQL) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	if op.ReverseSQL == "" {
		return fmt.Errorf("operations: RunSQL without reverse_sql is not reversible")
	}
	return ed.Execute(ctx, op.ReverseSQL)
}

func (op *RunSQL) Reversible() bool { return op.ReverseSQL != "" }

func (op *RunSQL) References(app string) ([]state.ModelKey, bool) {
	// Raw SQL can touch anything.
	return nil, false
}

// Callback is the signature for code-backed operations. It receives the
// editor plus both states and runs at its plan position like any other
// operation.
type Callback func(ctx context.Context, ed schema.Editor, from, to *state.ProjectState) error

var (
	callbackMu  sync.RWMutex
	callbackReg = map[string]struct{ forward, backward Callback }{}
)

// RegisterCallback installs the forward and backward callbacks a RunGo
// operation resolves by name at execution time. Migration files stay pure
// data; the caller injects the code side before migrating.
func RegisterCallback(name string, forward, backward Callback) {
	callbackMu.Lock()
	defer callbackMu.Unlock()
	callbackReg[name] = struct{ forward, backward Callback }{forward, backward}
}

func lookupCallback(name string) (struct{ forward, backward Callback }, bool) {
	callbackMu.RLock()
	defer callbackMu.RUnlock()
	cb, ok := callbackReg[name]
	return cb, ok
}

// RunGo invokes a registered callback pair. The migration file stores only
// the name; loading never executes code.
type RunGo struct {
	Name string `json:"callback"`
}

func (op *RunGo) Kind() string { return "run_go" }

func (op *RunGo) Describe() string {
	return fmt.Sprintf("Run callback %s", op.Name)
}

func (op *RunGo) StateForwards(app string, st *state.ProjectState) error {
	return nil
}

func (op *RunGo) DatabaseForwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	cb, ok := lookupCallback(op.Name)
	if !ok {
		return fmt.Errorf("operations: callback %q is not registered", op.Name)
	}
	if cb.forward == nil {
		return nil
	}
	return cb.forward(ctx, ed, from, to)
}

func (op *RunGo) DatabaseBackwards(ctx context.Context, ed schema.Editor, app string, from, to *state.ProjectState) error {
	cb, ok := lookupCallback(op.Name)
	if !ok {
		return fmt.Errorf("operations: callback %q is not registered", op.Name)
	}
	if cb.backward == nil {
		return fmt.Errorf("operations: callback %q has no backward function", op.Name)
	}
	return cb.backward(ctx, ed, from, to)
}

func (op *RunGo) Reversible() bool {
	cb, ok := lookupCallback(op.Name)
	return ok && cb.backward != nil
}

func (op *RunGo) References(app string) ([]state.ModelKey, bool) {
	return nil, false
}
