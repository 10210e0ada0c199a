// Package mysql implements the schema-editing contract for MySQL and
// MariaDB-compatible servers. Foreign keys are emitted as table constraints
// because MySQL silently ignores inline REFERENCES clauses, and column
// renames fall back to CHANGE COLUMN on servers older than 8.0.
package mysql

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

const quote = '`'

var renameColumnMin = version.Must(version.NewVersion("8.0.0"))

// Backend connects MySQL to the migration engine.
type Backend struct {
	db  *sqlx.DB
	ver *version.Version
	log logrus.FieldLogger
}

// New probes the server version and returns a backend.
func New(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger) (*Backend, error) {
	b := &Backend{db: db, log: log}
	var raw string
	if err := db.GetContext(ctx, &raw, "SELECT VERSION()"); err != nil {
		return nil, fmt.Errorf("mysql: probing server version: %w", err)
	}
	// "8.0.33-0ubuntu0.22.04.2" carries build info after the dash.
	head, _, _ := strings.Cut(raw, "-")
	v, err := version.NewVersion(head)
	if err != nil {
		return nil, fmt.Errorf("mysql: parsing server version %q: %w", raw, err)
	}
	b.ver = v
	return b, nil
}

func (b *Backend) Name() string { return "mysql" }

// SupportsTransactionalDDL is false: every DDL statement commits implicitly,
// so a failed migration leaves earlier statements applied.
func (b *Backend) SupportsTransactionalDDL() bool  { return false }
func (b *Backend) ServerVersion() *version.Version { return b.ver }

func (b *Backend) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := b.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", table)
	if err != nil {
		return false, fmt.Errorf("mysql: checking table %q: %w", table, err)
	}
	return n > 0, nil
}

func (b *Backend) Editor(run schema.Execer, opts schema.Options) schema.Editor {
	return &Editor{
		Base: schema.Base{
			BackendName: b.Name(),
			Run:         run,
			Collect:     opts.CollectOnly,
			Log:         b.log,
			Resolve:     opts.Resolver,
		},
		ver: b.ver,
	}
}

// Editor emits MySQL DDL.
type Editor struct {
	schema.Base
	ver *version.Version
}

func columnType(f state.Field) string {
	switch f.Type {
	case state.AutoField:
		return "BIGINT AUTO_INCREMENT"
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
		return "DATETIME(6)"
	case state.DecimalField:
		return "DECIMAL(65,30)"
	case state.FloatField:
		return "DOUBLE"
	case state.IntegerField:
		return "INTEGER"
	case state.BigIntField, state.ForeignKey:
		return "BIGINT"
	case state.JSONField:
		return "JSON"
	case state.TextField:
		return "LONGTEXT"
	case state.UUIDField:
		return "CHAR(32)"
	default:
		return "LONGTEXT"
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
	return sb.String()
}

func fkName(table, column string) string {
	return table + "_" + column + "_fk"
}

func (e *Editor) fkConstraint(table string, f state.Field) string {
	target, targetCol := e.RefTarget(f.Rel.To)
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
		schema.QuoteIdent(fkName(table, f.ColumnName()), quote),
		schema.QuoteIdent(f.ColumnName(), quote),
		schema.QuoteIdent(target, quote),
		schema.QuoteIdent(targetCol, quote),
		onDeleteClause(f.Rel.OnDelete))
}

func (e *Editor) CreateModel(ctx context.Context, model *state.ModelState) error {
	table := model.TableName()
	defs := make([]string, 0, len(model.Fields))
	for _, f := range model.Fields {
		defs = append(defs, e.columnDef(f))
	}
	for _, f := range model.Fields {
		if f.Rel != nil {
			defs = append(defs, e.fkConstraint(table, f))
		}
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)",
		schema.QuoteIdent(table, quote), strings.Join(defs, ",\n\t"))
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
	return e.Execute(ctx, fmt.Sprintf("DROP TABLE %s", schema.QuoteIdent(model.TableName(), quote)))
}

func (e *Editor) RenameModel(ctx context.Context, old, new *state.ModelState) error {
	if old.TableName() == new.TableName() {
		return nil
	}
	return e.Execute(ctx, fmt.Sprintf("RENAME TABLE %s TO %s",
		schema.QuoteIdent(old.TableName(), quote), schema.QuoteIdent(new.TableName(), quote)))
}

func (e *Editor) AddField(ctx context.Context, model *state.ModelState, field state.Field) error {
	table := model.TableName()
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		schema.QuoteIdent(table, quote), e.columnDef(field))
	if err := e.Execute(ctx, stmt); err != nil {
		return err
	}
	if field.Rel != nil {
		stmt = fmt.Sprintf("ALTER TABLE %s ADD %s", schema.QuoteIdent(table, quote), e.fkConstraint(table, field))
		return e.Execute(ctx, stmt)
	}
	return nil
}

func (e *Editor) RemoveField(ctx context.Context, model *state.ModelState, field state.Field) error {
	table := model.TableName()
	if field.Rel != nil {
		stmt := fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s",
			schema.QuoteIdent(table, quote), schema.QuoteIdent(fkName(table, field.ColumnName()), quote))
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		schema.QuoteIdent(table, quote), schema.QuoteIdent(field.ColumnName(), quote)))
}

func (e *Editor) AlterField(ctx context.Context, model *state.ModelState, old, new state.Field) error {
	if old.PrimaryKey != new.PrimaryKey {
		return &schema.LimitationError{Backend: e.BackendName, Op: "alter_field",
			Detail: "primary key changes require a manual migration"}
	}
	table := model.TableName()
	quoted := schema.QuoteIdent(table, quote)

	if !relationsEqual(old.Rel, new.Rel) && old.Rel != nil {
		stmt := fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s",
			quoted, schema.QuoteIdent(fkName(table, old.ColumnName()), quote))
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}

	if old.ColumnName() != new.ColumnName() {
		if err := e.renameColumn(ctx, model, old, new); err != nil {
			return err
		}
	}

	// MODIFY restates the whole definition, so type, nullability and default
	// changes collapse into one statement.
	def := e.columnDef(new)
	// MODIFY cannot restate PRIMARY KEY or UNIQUE on an existing column.
	def = strings.Replace(def, " PRIMARY KEY", "", 1)
	def = strings.Replace(def, " UNIQUE", "", 1)
	if err := e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", quoted, def)); err != nil {
		return err
	}

	if old.Unique != new.Unique {
		name := schema.QuoteIdent(table+"_"+new.ColumnName()+"_key", quote)
		var stmt string
		if new.Unique {
			stmt = fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
				quoted, name, schema.QuoteIdent(new.ColumnName(), quote))
		} else {
			stmt = fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", quoted, name)
		}
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}

	if !relationsEqual(old.Rel, new.Rel) && new.Rel != nil {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD %s", quoted, e.fkConstraint(table, new))
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Editor) RenameField(ctx context.Context, model *state.ModelState, old, new state.Field) error {
	return e.renameColumn(ctx, model, old, new)
}

func (e *Editor) renameColumn(ctx context.Context, model *state.ModelState, old, new state.Field) error {
	quoted := schema.QuoteIdent(model.TableName(), quote)
	if e.ver != nil && e.ver.GreaterThanOrEqual(renameColumnMin) {
		return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			quoted, schema.QuoteIdent(old.ColumnName(), quote), schema.QuoteIdent(new.ColumnName(), quote)))
	}
	// Pre-8.0 servers only rename through CHANGE, which restates the type.
	def := e.columnDef(new)
	def = strings.Replace(def, " PRIMARY KEY", "", 1)
	def = strings.Replace(def, " UNIQUE", "", 1)
	return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s CHANGE %s %s",
		quoted, schema.QuoteIdent(old.ColumnName(), quote), def))
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
	return e.Execute(ctx, fmt.Sprintf("DROP INDEX %s ON %s",
		schema.QuoteIdent(index.Name, quote), schema.QuoteIdent(model.TableName(), quote)))
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
		stmt := fmt.Sprintf("DROP INDEX %s ON %s",
			schema.QuoteIdent(name, quote), schema.QuoteIdent(model.TableName(), quote))
		if err := e.Execute(ctx, stmt); err != nil {
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

func relationsEqual(a, b *state.Relation) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
