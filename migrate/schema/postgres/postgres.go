// Package postgres implements the schema-editing contract for PostgreSQL.
// Nearly everything maps to in-place ALTER TABLE; type changes carry a USING
// cast so existing rows convert.
package postgres

import (
	"context"
	"fmt"
	"strings"

	version "github.com/hashicorp/go-version"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

const quote = '"'

// Backend connects PostgreSQL to the migration engine.
type Backend struct {
	db  *sqlx.DB
	ver *version.Version
	log logrus.FieldLogger
}

// New probes the server version and returns a backend.
func New(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger) (*Backend, error) {
	b := &Backend{db: db, log: log}
	var raw string
	if err := db.GetContext(ctx, &raw, "SHOW server_version"); err != nil {
		return nil, fmt.Errorf("postgres: probing server version: %w", err)
	}
	// "15.4 (Debian 15.4-1)" carries build info after the number.
	head, _, _ := strings.Cut(raw, " ")
	v, err := version.NewVersion(head)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing server version %q: %w", raw, err)
	}
	b.ver = v
	return b, nil
}

func (b *Backend) Name() string                    { return "postgres" }
func (b *Backend) SupportsTransactionalDDL() bool  { return true }
func (b *Backend) ServerVersion() *version.Version { return b.ver }

func (b *Backend) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := b.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", table)
	if err != nil {
		return false, fmt.Errorf("postgres: checking table %q: %w", table, err)
	}
	return n > 0, nil
}

func (b *Backend) Editor(run schema.Execer, opts schema.Options) schema.Editor {
	return &Editor{Base: schema.Base{
		BackendName: b.Name(),
		Run:         run,
		Collect:     opts.CollectOnly,
		Log:         b.log,
		Resolve:     opts.Resolver,
	}}
}

// Editor emits PostgreSQL DDL.
type Editor struct {
	schema.Base
}

func columnType(f state.Field) string {
	switch f.Type {
	case state.AutoField:
		return "BIGSERIAL"
	case state.BooleanField:
		return "BOOLEAN"
	case state.CharField:
		n := f.MaxLength
		if n == 0 {
			n = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", n)
	case state.DateField:
		return "DATE"
	case state.DateTimeField:
		return "TIMESTAMPTZ"
	case state.DecimalField:
		return "NUMERIC"
	case state.FloatField:
		return "DOUBLE PRECISION"
	case state.IntegerField:
		return "INTEGER"
	case state.BigIntField, state.ForeignKey:
		return "BIGINT"
	case state.JSONField:
		return "JSONB"
	case state.TextField:
		return "TEXT"
	case state.UUIDField:
		return "UUID"
	default:
		return "TEXT"
	}
}

func onDeleteClause(od state.OnDelete) string {
	switch od {
	case state.Protect:
		return "RESTRICT"
	case state.SetNull:
		return "SET NULL"
	case state.DoNothing:
		return "NO ACTION"
	default:
		return "CASCADE"
	}
}

func (e *Editor) columnDef(f state.Field) string {
	var sb strings.Builder
	sb.WriteString(schema.QuoteIdent(f.ColumnName(), quote))
	sb.WriteByte(' ')
	sb.WriteString(columnType(f))
	if f.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	} else if !f.Null {
		sb.WriteString(" NOT NULL")
	}
	if f.Unique && !f.PrimaryKey {
		sb.WriteString(" UNIQUE")
	}
	if f.Default != nil {
		sb.WriteString(" DEFAULT " + *f.Default)
	}
	if f.Rel != nil {
		table, col := e.RefTarget(f.Rel.To)
		sb.WriteString(fmt.Sprintf(" REFERENCES %s (%s) ON DELETE %s",
			schema.QuoteIdent(table, quote), schema.QuoteIdent(col, quote), onDeleteClause(f.Rel.OnDelete)))
	}
	return sb.String()
}

func (e *Editor) CreateModel(ctx context.Context, model *state.ModelState) error {
	defs := make([]string, 0, len(model.Fields))
	for _, f := range model.Fields {
		defs = append(defs, e.columnDef(f))
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)",
		schema.QuoteIdent(model.TableName(), quote), strings.Join(defs, ",\n\t"))
	if err := e.Execute(ctx, stmt); err != nil {
		return err
	}
	for _, idx := range model.Indexes {
		if err := e.AddIndex(ctx, model, idx); err != nil {
			return err
		}
	}
	for _, ut := range model.Options.UniqueTogether {
		if err := e.createUniqueTogether(ctx, model, ut); err != nil {
			return err
		}
	}
	return nil
}

func (e *Editor) DeleteModel(ctx context.Context, model *state.ModelState) error {
	return e.Execute(ctx, fmt.Sprintf("DROP TABLE %s CASCADE", schema.QuoteIdent(model.TableName(), quote)))
}

func (e *Editor) RenameModel(ctx context.Context, old, new *state.ModelState) error {
	if old.TableName() == new.TableName() {
		return nil
	}
	return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		schema.QuoteIdent(old.TableName(), quote), schema.QuoteIdent(new.TableName(), quote)))
}

func (e *Editor) AddField(ctx context.Context, model *state.ModelState, field state.Field) error {
	return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		schema.QuoteIdent(model.TableName(), quote), e.columnDef(field)))
}

func (e *Editor) RemoveField(ctx context.Context, model *state.ModelState, field state.Field) error {
	return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		schema.QuoteIdent(model.TableName(), quote), schema.QuoteIdent(field.ColumnName(), quote)))
}

func (e *Editor) AlterField(ctx context.Context, model *state.ModelState, old, new state.Field) error {
	if old.PrimaryKey != new.PrimaryKey {
		return &schema.LimitationError{Backend: e.BackendName, Op: "alter_field",
			Detail: "primary key changes require a manual migration"}
	}
	table := schema.QuoteIdent(model.TableName(), quote)
	col := schema.QuoteIdent(new.ColumnName(), quote)

	if old.ColumnName() != new.ColumnName() {
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			table, schema.QuoteIdent(old.ColumnName(), quote), col)
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	if columnType(old) != columnType(new) {
		stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			table, col, columnType(new), col, columnType(new))
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	if old.Null != new.Null {
		verb := "SET"
		if new.Null {
			verb = "DROP"
		}
		if err := e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NOT NULL", table, col, verb)); err != nil {
			return err
		}
	}
	if !defaultsEqual(old.Default, new.Default) {
		var stmt string
		if new.Default == nil {
			stmt = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col)
		} else {
			stmt = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, col, *new.Default)
		}
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	if old.Unique != new.Unique {
		name := schema.QuoteIdent(model.TableName()+"_"+new.ColumnName()+"_key", quote)
		var stmt string
		if new.Unique {
			stmt = fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", table, name, col)
		} else {
			stmt = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, name)
		}
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	if !relationsEqual(old.Rel, new.Rel) {
		name := schema.QuoteIdent(model.TableName()+"_"+new.ColumnName()+"_fkey", quote)
		if old.Rel != nil {
			if err := e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", table, name)); err != nil {
				return err
			}
		}
		if new.Rel != nil {
			target, targetCol := e.RefTarget(new.Rel.To)
			stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
				table, name, col, schema.QuoteIdent(target, quote), schema.QuoteIdent(targetCol, quote),
				onDeleteClause(new.Rel.OnDelete))
			if err := e.Execute(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Editor) RenameField(ctx context.Context, model *state.ModelState, old, new state.Field) error {
	return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		schema.QuoteIdent(model.TableName(), quote),
		schema.QuoteIdent(old.ColumnName(), quote),
		schema.QuoteIdent(new.ColumnName(), quote)))
}

func (e *Editor) AddIndex(ctx context.Context, model *state.ModelState, index state.Index) error {
	unique := ""
	if index.Unique {
		unique = "UNIQUE "
	}
	cols := schema.FieldColumns(model, index.Fields)
	return e.Execute(ctx, fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, schema.QuoteIdent(index.Name, quote),
		schema.QuoteIdent(model.TableName(), quote), schema.ColumnList(cols, quote)))
}

func (e *Editor) RemoveIndex(ctx context.Context, model *state.ModelState, index state.Index) error {
	return e.Execute(ctx, fmt.Sprintf("DROP INDEX %s", schema.QuoteIdent(index.Name, quote)))
}

func (e *Editor) createUniqueTogether(ctx context.Context, model *state.ModelState, fields []string) error {
	name := schema.UniqueTogetherName(model.TableName(), fields)
	cols := schema.FieldColumns(model, fields)
	return e.Execute(ctx, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		schema.QuoteIdent(name, quote), schema.QuoteIdent(model.TableName(), quote),
		schema.ColumnList(cols, quote)))
}

func (e *Editor) AlterUniqueTogether(ctx context.Context, model *state.ModelState, old, new [][]string) error {
	removed, added := schema.UniqueTogetherDiff(old, new)
	for _, ut := range removed {
		name := schema.UniqueTogetherName(model.TableName(), ut)
		if err := e.Execute(ctx, fmt.Sprintf("DROP INDEX %s", schema.QuoteIdent(name, quote))); err != nil {
			return err
		}
	}
	for _, ut := range added {
		if err := e.createUniqueTogether(ctx, model, ut); err != nil {
			return err
		}
	}
	return nil
}

func defaultsEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func relationsEqual(a, b *state.Relation) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
