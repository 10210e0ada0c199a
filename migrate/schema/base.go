package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dgsalas/django/migrate/state"
)

// Base carries the plumbing every concrete editor shares: statement
// execution, SQL collection and logging. Backends embed it and add dialect
// DDL on top.
type Base struct {
	BackendName string
	Run         Execer
	Collect     bool
	Log         logrus.FieldLogger
	Resolve     func(ref string) (*state.ModelState, bool)

	collected []string
}

// RefTarget resolves a relation target to its table and primary key column,
// assuming default naming when no resolver is wired.
func (b *Base) RefTarget(ref string) (table, column string) {
	if b.Resolve != nil {
		if ms, ok := b.Resolve(ref); ok {
			col := "id"
			if pk, ok := ms.PrimaryKeyField(); ok {
				col = pk.ColumnName()
			}
			return ms.TableName(), col
		}
	}
	app, model, _ := strings.Cut(ref, ".")
	return app + "_" + strings.ToLower(model), "id"
}

// Execute runs (or collects) one statement.
func (b *Base) Execute(ctx context.Context, query string, args ...any) error {
	b.collected = append(b.collected, query)
	if b.Log != nil {
		b.Log.WithField("backend", b.BackendName).Debug(query)
	}
	if b.Collect {
		return nil
	}
	if b.Run == nil {
		return fmt.Errorf("schema: %s editor has no connection and is not collect-only", b.BackendName)
	}
	if _, err := b.Run.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("schema: %s: %w", b.BackendName, err)
	}
	return nil
}

// CollectedSQL returns every statement seen so far.
func (b *Base) CollectedSQL() []string {
	return b.collected
}

// QuoteIdent quotes an identifier with the given quote character, doubling
// embedded quotes.
func QuoteIdent(name string, quote byte) string {
	q := string(quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// ColumnList quotes and joins column names.
func ColumnList(cols []string, quote byte) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdent(c, quote)
	}
	return strings.Join(out, ", ")
}

// IndexName derives the default name for an index over fields.
func IndexName(table string, fields []string) string {
	return table + "_" + strings.Join(fields, "_") + "_idx"
}

// UniqueTogetherName derives the constraint name for a unique-together set.
func UniqueTogetherName(table string, fields []string) string {
	return table + "_" + strings.Join(fields, "_") + "_uniq"
}

// UniqueTogetherDiff splits old and new unique-together sets into the ones to
// drop and the ones to create. Sets compare by exact field sequence.
func UniqueTogetherDiff(old, new [][]string) (removed, added [][]string) {
	key := func(ut []string) string { return strings.Join(ut, "\x00") }
	oldSet := map[string]bool{}
	for _, ut := range old {
		oldSet[key(ut)] = true
	}
	newSet := map[string]bool{}
	for _, ut := range new {
		newSet[key(ut)] = true
	}
	for _, ut := range old {
		if !newSet[key(ut)] {
			removed = append(removed, ut)
		}
	}
	for _, ut := range new {
		if !oldSet[key(ut)] {
			added = append(added, ut)
		}
	}
	return removed, added
}

// FieldColumns maps field names on a model to their column names. Unknown
// names pass through unchanged so callers surface them as SQL errors with
// context rather than panicking.
func FieldColumns(model *state.ModelState, fields []string) []string {
	out := make([]string, len(fields))
	for i, name := range fields {
		if f, ok := model.Field(name); ok {
			out[i] = f.ColumnName()
		} else {
			out[i] = name
		}
	}
	return out
}
