// Package schema defines the backend-facing schema-editing contract. The
// engine never emits SQL itself; every operation is realized through an
// Editor obtained from a Backend for the active database.
package schema

import (
	"context"
	"database/sql"

	version "github.com/hashicorp/go-version"

	"github.com/dgsalas/django/migrate/state"
)

// Execer is the slice of database/sql that editors need; both *sql.Tx and
// *sql.DB satisfy it, so a backend with transactional DDL can run a whole
// migration inside one transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Editor executes DDL for one schema-editing scope. Implementations may
// emulate unsupported operations (a table rebuild where in-place ALTER is
// missing) as long as the resulting schema matches the state transition.
type Editor interface {
	CreateModel(ctx context.Context, model *state.ModelState) error
	DeleteModel(ctx context.Context, model *state.ModelState) error
	RenameModel(ctx context.Context, old, new *state.ModelState) error

	AddField(ctx context.Context, model *state.ModelState, field state.Field) error
	RemoveField(ctx context.Context, model *state.ModelState, field state.Field) error
	AlterField(ctx context.Context, model *state.ModelState, old, new state.Field) error
	RenameField(ctx context.Context, model *state.ModelState, old, new state.Field) error

	AddIndex(ctx context.Context, model *state.ModelState, index state.Index) error
	RemoveIndex(ctx context.Context, model *state.ModelState, index state.Index) error
	AlterUniqueTogether(ctx context.Context, model *state.ModelState, old, new [][]string) error

	// Execute runs raw SQL, used by the RunSQL operation.
	Execute(ctx context.Context, query string, args ...any) error

	// CollectedSQL returns every statement the editor ran (or would have run
	// in collect-only mode), in order.
	CollectedSQL() []string
}

// Backend wires a database to editors. One Backend is built per connection;
// it probes the server version once so editors can gate newer DDL forms.
type Backend interface {
	Name() string

	// SupportsTransactionalDDL reports whether DDL joins the surrounding
	// transaction, so a failed migration rolls back cleanly.
	SupportsTransactionalDDL() bool

	// Editor opens a schema-editing scope against run. A nil run is only
	// valid in collect-only mode.
	Editor(run Execer, opts Options) Editor

	// TableExists is used by fake-initial detection to probe for tables a
	// migration would create.
	TableExists(ctx context.Context, table string) (bool, error)

	// ServerVersion returns the probed server version, nil when unknown.
	ServerVersion() *version.Version
}

// Options controls how an editor behaves.
type Options struct {
	// CollectOnly records statements without executing them; sqlmigrate uses
	// this to print the DDL a migration would run.
	CollectOnly bool

	// Resolver maps an "app.Model" relation target to its model state, so
	// foreign key DDL can name the referenced table and column. Without one,
	// editors assume default table and primary key naming.
	Resolver func(ref string) (*state.ModelState, bool)
}
