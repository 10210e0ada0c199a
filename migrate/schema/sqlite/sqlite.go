// Package sqlite implements the schema-editing contract for SQLite. ALTER
// TABLE support is narrow, so column alterations rebuild the table: create a
// shadow table with the target definition, copy the surviving rows across,
// drop the original and rename the shadow into place.
package sqlite

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

var (
	renameColumnMin = version.Must(version.NewVersion("3.25.0"))
	dropColumnMin   = version.Must(version.NewVersion("3.35.0"))
)

// Backend connects SQLite to the migration engine.
type Backend struct {
	db  *sqlx.DB
	ver *version.Version
	log logrus.FieldLogger
}

// New probes the library version and returns a backend.
func New(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger) (*Backend, error) {
	b := &Backend{db: db, log: log}
	var raw string
	if err := db.GetContext(ctx, &raw, "SELECT sqlite_version()"); err != nil {
		return nil, fmt.Errorf("sqlite: probing version: %w", err)
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parsing version %q: %w", raw, err)
	}
	b.ver = v
	return b, nil
}

func (b *Backend) Name() string                    { return "sqlite" }
func (b *Backend) SupportsTransactionalDDL() bool  { return true }
func (b *Backend) ServerVersion() *version.Version { return b.ver }

func (b *Backend) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := b.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking table %q: %w", table, err)
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

// Editor emits SQLite DDL.
type Editor struct {
	schema.Base
	ver *version.Version
}

func columnType(f state.Field) string {
	switch f.Type {
	case state.AutoField, state.IntegerField:
		return "INTEGER"
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
		return "DATETIME"
	case state.DecimalField:
		return "DECIMAL"
	case state.FloatField:
		return "REAL"
	case state.BigIntField, state.ForeignKey:
		return "INTEGER"
	case state.JSONField, state.TextField:
		return "TEXT"
	case state.UUIDField:
		return "CHAR(32)"
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
		if f.Type == state.AutoField {
			sb.WriteString(" AUTOINCREMENT")
		}
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

func (e *Editor) createTable(ctx context.Context, name string, model *state.ModelState) error {
	defs := make([]string, 0, len(model.Fields))
	for _, f := range model.Fields {
		defs = append(defs, e.columnDef(f))
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)",
		schema.QuoteIdent(name, quote), strings.Join(defs, ",\n\t"))
	return e.Execute(ctx, stmt)
}

func (e *Editor) createAuxiliary(ctx context.Context, model *state.ModelState) error {
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

func (e *Editor) CreateModel(ctx context.Context, model *state.ModelState) error {
	if err := e.createTable(ctx, model.TableName(), model); err != nil {
		return err
	}
	return e.createAuxiliary(ctx, model)
}

func (e *Editor) DeleteModel(ctx context.Context, model *state.ModelState) error {
	return e.Execute(ctx, fmt.Sprintf("DROP TABLE %s", schema.QuoteIdent(model.TableName(), quote)))
}

func (e *Editor) RenameModel(ctx context.Context, old, new *state.ModelState) error {
	if old.TableName() == new.TableName() {
		return nil
	}
	return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		schema.QuoteIdent(old.TableName(), quote), schema.QuoteIdent(new.TableName(), quote)))
}

// rebuild replaces the table with one matching model. colMap gives, per new
// column, the old column to copy from; new columns stay absent from the map
// and fill from their defaults.
func (e *Editor) rebuild(ctx context.Context, model *state.ModelState, colMap map[string]string) error {
	table := model.TableName()
	shadow := "new__" + table

	if err := e.createTable(ctx, shadow, model); err != nil {
		return err
	}

	var dst, src []string
	for _, f := range model.Fields {
		newCol := f.ColumnName()
		if oldCol, ok := colMap[newCol]; ok {
			dst = append(dst, newCol)
			src = append(src, oldCol)
		}
	}
	if len(dst) > 0 {
		stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			schema.QuoteIdent(shadow, quote), schema.ColumnList(dst, quote),
			schema.ColumnList(src, quote), schema.QuoteIdent(table, quote))
		if err := e.Execute(ctx, stmt); err != nil {
			return err
		}
	}

	if err := e.Execute(ctx, fmt.Sprintf("DROP TABLE %s", schema.QuoteIdent(table, quote))); err != nil {
		return err
	}
	if err := e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		schema.QuoteIdent(shadow, quote), schema.QuoteIdent(table, quote))); err != nil {
		return err
	}
	// Indexes died with the old table.
	return e.createAuxiliary(ctx, model)
}

// identityMap copies every column of model from the same-named old column,
// minus the listed exclusions.
func identityMap(model *state.ModelState, exclude ...string) map[string]string {
	skip := map[string]bool{}
	for _, c := range exclude {
		skip[c] = true
	}
	out := map[string]string{}
	for _, f := range model.Fields {
		c := f.ColumnName()
		if !skip[c] {
			out[c] = c
		}
	}
	return out
}

func (e *Editor) AddField(ctx context.Context, model *state.ModelState, field state.Field) error {
	if field.PrimaryKey {
		return e.rebuild(ctx, model, identityMap(model, field.ColumnName()))
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		schema.QuoteIdent(model.TableName(), quote), e.columnDef(nonUnique(field)))
	if err := e.Execute(ctx, stmt); err != nil {
		return err
	}
	// ADD COLUMN cannot carry UNIQUE; an index does the same job.
	if field.Unique {
		name := model.TableName() + "_" + field.ColumnName() + "_key"
		return e.Execute(ctx, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			schema.QuoteIdent(name, quote), schema.QuoteIdent(model.TableName(), quote),
			schema.QuoteIdent(field.ColumnName(), quote)))
	}
	return nil
}

func nonUnique(f state.Field) state.Field {
	out := f.Clone()
	out.Unique = false
	return out
}

func (e *Editor) RemoveField(ctx context.Context, model *state.ModelState, field state.Field) error {
	if e.ver != nil && e.ver.GreaterThanOrEqual(dropColumnMin) && !field.Unique && !field.PrimaryKey {
		return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
			schema.QuoteIdent(model.TableName(), quote), schema.QuoteIdent(field.ColumnName(), quote)))
	}
	return e.rebuild(ctx, model, identityMap(model))
}

func (e *Editor) AlterField(ctx context.Context, model *state.ModelState, old, new state.Field) error {
	colMap := identityMap(model, new.ColumnName())
	colMap[new.ColumnName()] = old.ColumnName()
	return e.rebuild(ctx, model, colMap)
}

func (e *Editor) RenameField(ctx context.Context, model *state.ModelState, old, new state.Field) error {
	if e.ver != nil && e.ver.GreaterThanOrEqual(renameColumnMin) {
		return e.Execute(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			schema.QuoteIdent(model.TableName(), quote),
			schema.QuoteIdent(old.ColumnName(), quote),
			schema.QuoteIdent(new.ColumnName(), quote)))
	}
	colMap := identityMap(model, new.ColumnName())
	colMap[new.ColumnName()] = old.ColumnName()
	return e.rebuild(ctx, model, colMap)
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
