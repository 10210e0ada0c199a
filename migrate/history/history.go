// Package history persists which migrations have been applied. The ledger is
// an ordinary table in the target database so it travels with the data it
// describes.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dgsalas/django/migrate/migration"
)

// DefaultTable is the ledger table name.
const DefaultTable = "django_migrations"

// Row is one applied migration as recorded in the ledger.
type Row struct {
	ID        int64     `db:"id"`
	App       string    `db:"app"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied"`
	Checksum  string    `db:"checksum"`
}

// Key returns the migration identity of the row.
func (r Row) Key() migration.Key {
	return migration.Key{App: r.App, Name: r.Name}
}

// Recorder reads and writes the ledger. It holds no connection itself; every
// call takes the execution handle so recording can share the migration's
// transaction.
type Recorder struct {
	provider string
	table    string
}

// NewRecorder builds a recorder for the given provider ("postgres", "mysql"
// or "sqlite") using the default table name.
func NewRecorder(provider string) *Recorder {
	return &Recorder{provider: provider, table: DefaultTable}
}

// WithTable overrides the ledger table name.
func (r *Recorder) WithTable(table string) *Recorder {
	out := *r
	out.table = table
	return &out
}

// Table returns the ledger table name.
func (r *Recorder) Table() string {
	return r.table
}

func (r *Recorder) tableDDL() (string, error) {
	switch r.provider {
	case "postgres":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	app VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	applied TIMESTAMPTZ NOT NULL,
	checksum VARCHAR(64) NOT NULL DEFAULT '',
	UNIQUE (app, name)
)`, r.table), nil
	case "mysql":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	app VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	applied DATETIME(6) NOT NULL,
	checksum VARCHAR(64) NOT NULL DEFAULT '',
	UNIQUE KEY %s_app_name (app, name)
)`, r.table, r.table), nil
	case "sqlite":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	app TEXT NOT NULL,
	name TEXT NOT NULL,
	applied TIMESTAMP NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	UNIQUE (app, name)
)`, r.table), nil
	default:
		return "", fmt.Errorf("history: unknown provider %q", r.provider)
	}
}

// EnsureTable creates the ledger table when missing.
func (r *Recorder) EnsureTable(ctx context.Context, run sqlx.ExtContext) error {
	ddl, err := r.tableDDL()
	if err != nil {
		return err
	}
	if _, err := run.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating ledger table %s: %w", r.table, err)
	}
	return nil
}

// Applied returns every ledger row ordered by app then name.
func (r *Recorder) Applied(ctx context.Context, run sqlx.ExtContext) ([]Row, error) {
	var rows []Row
	q := run.Rebind(fmt.Sprintf("SELECT id, app, name, applied, checksum FROM %s ORDER BY app, name", r.table))
	if err := sqlx.SelectContext(ctx, run, &rows, q); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return rows, nil
}

// AppliedSet returns the ledger keyed by migration identity.
func (r *Recorder) AppliedSet(ctx context.Context, run sqlx.ExtContext) (map[migration.Key]Row, error) {
	rows, err := r.Applied(ctx, run)
	if err != nil {
		return nil, err
	}
	out := make(map[migration.Key]Row, len(rows))
	for _, row := range rows {
		out[row.Key()] = row
	}
	return out, nil
}

// RecordApplied inserts a ledger row for the migration.
func (r *Recorder) RecordApplied(ctx context.Context, run sqlx.ExtContext, key migration.Key, checksum string) error {
	q := run.Rebind(fmt.Sprintf("INSERT INTO %s (app, name, applied, checksum) VALUES (?, ?, ?, ?)", r.table))
	if _, err := run.ExecContext(ctx, q, key.App, key.Name, time.Now().UTC(), checksum); err != nil {
		return fmt.Errorf("recording %s: %w", key, err)
	}
	return nil
}

// RecordUnapplied deletes the migration's ledger row.
func (r *Recorder) RecordUnapplied(ctx context.Context, run sqlx.ExtContext, key migration.Key) error {
	q := run.Rebind(fmt.Sprintf("DELETE FROM %s WHERE app = ? AND name = ?", r.table))
	if _, err := run.ExecContext(ctx, q, key.App, key.Name); err != nil {
		return fmt.Errorf("unrecording %s: %w", key, err)
	}
	return nil
}
