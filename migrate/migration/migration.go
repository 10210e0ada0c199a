// Package migration defines the named, versioned unit the engine plans and
// applies: an ordered operation list plus dependency links to other
// migrations.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dgsalas/django/migrate/operations"
	"github.com/dgsalas/django/migrate/state"
)

// Key identifies a migration as (app label, name). Names carry a cosmetic
// numeric prefix by convention, but only the full name is identity.
type Key struct {
	App  string `json:"app"`
	Name string `json:"name"`
}

func (k Key) String() string {
	return k.App + "." + k.Name
}

// Less orders keys lexicographically by (app, name); the graph tie-break and
// every listing relies on this.
func (k Key) Less(other Key) bool {
	if k.App != other.App {
		return k.App < other.App
	}
	return k.Name < other.Name
}

// Migration is one dependency-linked unit of schema change. Instances are
// immutable once loaded or written.
type Migration struct {
	App  string
	Name string

	// Dependencies must be applied before this migration.
	Dependencies []Key
	// RunBefore is a soft ordering hint: this migration is applied before the
	// named ones when both are in a plan. It never affects correctness.
	RunBefore []Key

	Operations []operations.Operation

	// Initial marks a plausibly-first migration for its app, the precondition
	// for fake-applying onto pre-existing tables.
	Initial bool
}

// Key returns the migration's identity.
func (m *Migration) Key() Key {
	return Key{App: m.App, Name: m.Name}
}

func (m *Migration) String() string {
	return m.Key().String()
}

// Mutate replays the migration's operations over st, returning a new state.
// The input is never modified.
func (m *Migration) Mutate(st *state.ProjectState) (*state.ProjectState, error) {
	next := st.Clone()
	for i, op := range m.Operations {
		if err := op.StateForwards(m.App, next); err != nil {
			return nil, fmt.Errorf("%s: operation %d (%s): %w", m, i, op.Describe(), err)
		}
	}
	return next, nil
}

// Reversible reports whether every operation can be undone.
func (m *Migration) Reversible() bool {
	for _, op := range m.Operations {
		if !op.Reversible() {
			return false
		}
	}
	return true
}

// CreatedModels returns the models this migration introduces, used for
// initial inference and fake-initial table probing.
func (m *Migration) CreatedModels() []string {
	var out []string
	for _, op := range m.Operations {
		if cm, ok := op.(*operations.CreateModel); ok {
			out = append(out, cm.Name)
		}
	}
	return out
}

// References collects the model keys touched by all operations. ok is false
// when any operation's touched set is indeterminate.
func (m *Migration) References() (keys []state.ModelKey, ok bool) {
	ok = true
	for _, op := range m.Operations {
		ks, known := op.References(m.App)
		if !known {
			ok = false
		}
		keys = append(keys, ks...)
	}
	return keys, ok
}

// Checksum hashes the serialized operation list. The ledger stores it so an
// edited migration file is detectable against its applied record.
func (m *Migration) Checksum() (string, error) {
	raws, err := operations.MarshalList(m.Operations)
	if err != nil {
		return "", err
	}
	blob, err := json.Marshal(raws)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
