package state

import (
	"slices"
	"strings"
)

// FieldType enumerates the abstract field kinds the engine understands. The
// schema editors map these to backend column types.
type FieldType string

const (
	AutoField     FieldType = "auto"
	BooleanField  FieldType = "bool"
	CharField     FieldType = "char"
	DateField     FieldType = "date"
	DateTimeField FieldType = "datetime"
	DecimalField  FieldType = "decimal"
	FloatField    FieldType = "float"
	IntegerField  FieldType = "int"
	BigIntField   FieldType = "bigint"
	JSONField     FieldType = "json"
	TextField     FieldType = "text"
	UUIDField     FieldType = "uuid"
	ForeignKey    FieldType = "fk"
)

// OnDelete is the referential action attached to a relation.
type OnDelete string

const (
	Cascade   OnDelete = "cascade"
	Protect   OnDelete = "protect"
	SetNull   OnDelete = "set_null"
	DoNothing OnDelete = "do_nothing"
)

// Relation describes a foreign-key style reference. To is an opaque
// "app.Model" identifier, never a live object, so historical states can be
// rebuilt without the referenced code.
type Relation struct {
	To       string   `json:"to"`
	OnDelete OnDelete `json:"on_delete,omitempty"`
}

// Field is the descriptor for a single model field.
type Field struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Column     string    `json:"column,omitempty"`
	Null       bool      `json:"null,omitempty"`
	Unique     bool      `json:"unique,omitempty"`
	PrimaryKey bool      `json:"primary_key,omitempty"`
	MaxLength  int       `json:"max_length,omitempty"`
	// Default is the literal default rendered into DDL, nil when absent.
	Default *string   `json:"default,omitempty"`
	Rel     *Relation `json:"rel,omitempty"`
}

// ColumnName resolves the database column for the field. Relations get an
// "_id" suffix unless the column was set explicitly.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	if f.Rel != nil {
		return f.Name + "_id"
	}
	return f.Name
}

// Clone copies the field, including its relation.
func (f Field) Clone() Field {
	out := f
	if f.Default != nil {
		d := *f.Default
		out.Default = &d
	}
	if f.Rel != nil {
		r := *f.Rel
		out.Rel = &r
	}
	return out
}

// Equal compares two field descriptors structurally.
func (f Field) Equal(other Field) bool {
	if f.Name != other.Name || f.Type != other.Type || f.ColumnName() != other.ColumnName() {
		return false
	}
	if f.Null != other.Null || f.Unique != other.Unique || f.PrimaryKey != other.PrimaryKey || f.MaxLength != other.MaxLength {
		return false
	}
	if (f.Default == nil) != (other.Default == nil) {
		return false
	}
	if f.Default != nil && *f.Default != *other.Default {
		return false
	}
	if (f.Rel == nil) != (other.Rel == nil) {
		return false
	}
	if f.Rel != nil && *f.Rel != *other.Rel {
		return false
	}
	return true
}

// SameShape reports whether two fields are interchangeable apart from their
// name. The rename heuristic uses this to pair a removed field with an added
// one.
func (f Field) SameShape(other Field) bool {
	a, b := f.Clone(), other.Clone()
	a.Name, b.Name = "", ""
	a.Column, b.Column = "", ""
	return a.Equal(b)
}

// Index describes a secondary index or unique constraint over model fields.
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique,omitempty"`
}

// Equal compares indexes structurally, name included.
func (i Index) Equal(other Index) bool {
	return i.Name == other.Name && i.Unique == other.Unique && slices.Equal(i.Fields, other.Fields)
}

// Options carries the model-level metadata that affects schema shape.
type Options struct {
	TableName      string     `json:"db_table,omitempty"`
	Ordering       []string   `json:"ordering,omitempty"`
	UniqueTogether [][]string `json:"unique_together,omitempty"`
}

// Equal compares option sets.
func (o Options) Equal(other Options) bool {
	if o.TableName != other.TableName || !slices.Equal(o.Ordering, other.Ordering) {
		return false
	}
	if len(o.UniqueTogether) != len(other.UniqueTogether) {
		return false
	}
	for i := range o.UniqueTogether {
		if !slices.Equal(o.UniqueTogether[i], other.UniqueTogether[i]) {
			return false
		}
	}
	return true
}

// Clone copies the options.
func (o Options) Clone() Options {
	out := o
	out.Ordering = slices.Clone(o.Ordering)
	out.UniqueTogether = make([][]string, len(o.UniqueTogether))
	for i, ut := range o.UniqueTogether {
		out.UniqueTogether[i] = slices.Clone(ut)
	}
	return out
}

// ModelState is the shape of one model: ordered fields, indexes, options and
// the opaque base identifiers it was declared with. Bases carry capability
// markers instead of live types so field resolution works on history alone.
type ModelState struct {
	App     string   `json:"app"`
	Name    string   `json:"name"`
	Fields  []Field  `json:"fields"`
	Indexes []Index  `json:"indexes,omitempty"`
	Options Options  `json:"options,omitempty"`
	Bases   []string `json:"bases,omitempty"`
	// Capabilities are behavioral markers contributed by bases (for example
	// "timestamped"), resolved when the state is materialized.
	Capabilities []string `json:"capabilities,omitempty"`
}

// Key returns the model's identity in the project state.
func (ms *ModelState) Key() ModelKey {
	return MakeKey(ms.App, ms.Name)
}

// LowerName is the lookup form of the model name.
func (ms *ModelState) LowerName() string {
	return strings.ToLower(ms.Name)
}

// TableName resolves the database table, honoring an explicit db_table
// option and defaulting to app_model.
func (ms *ModelState) TableName() string {
	if ms.Options.TableName != "" {
		return ms.Options.TableName
	}
	return ms.App + "_" + ms.LowerName()
}

// Field finds a field by name.
func (ms *ModelState) Field(name string) (Field, bool) {
	for _, f := range ms.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldIndex returns the position of a field, or -1.
func (ms *ModelState) FieldIndex(name string) int {
	for i, f := range ms.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// PrimaryKeyField returns the explicit primary key, falling back to an
// implicit "id" auto field position if none is declared.
func (ms *ModelState) PrimaryKeyField() (Field, bool) {
	for _, f := range ms.Fields {
		if f.PrimaryKey {
			return f, true
		}
	}
	return Field{}, false
}

// Clone deep-copies the model state.
func (ms *ModelState) Clone() *ModelState {
	out := &ModelState{
		App:          ms.App,
		Name:         ms.Name,
		Fields:       make([]Field, len(ms.Fields)),
		Indexes:      slices.Clone(ms.Indexes),
		Options:      ms.Options.Clone(),
		Bases:        slices.Clone(ms.Bases),
		Capabilities: slices.Clone(ms.Capabilities),
	}
	for i, f := range ms.Fields {
		out.Fields[i] = f.Clone()
	}
	for i, idx := range ms.Indexes {
		out.Indexes[i] = Index{Name: idx.Name, Fields: slices.Clone(idx.Fields), Unique: idx.Unique}
	}
	return out
}

// Equal compares two model states structurally.
func (ms *ModelState) Equal(other *ModelState) bool {
	if ms.App != other.App || ms.LowerName() != other.LowerName() {
		return false
	}
	if len(ms.Fields) != len(other.Fields) || len(ms.Indexes) != len(other.Indexes) {
		return false
	}
	for i := range ms.Fields {
		if !ms.Fields[i].Equal(other.Fields[i]) {
			return false
		}
	}
	for i := range ms.Indexes {
		if !ms.Indexes[i].Equal(other.Indexes[i]) {
			return false
		}
	}
	if !ms.Options.Equal(other.Options) {
		return false
	}
	return slices.Equal(ms.Bases, other.Bases) && slices.Equal(ms.Capabilities, other.Capabilities)
}

// SameShape reports whether two models differ only by name (and therefore by
// default table name). The model rename heuristic pairs candidates with this.
func (ms *ModelState) SameShape(other *ModelState) bool {
	if len(ms.Fields) != len(other.Fields) {
		return false
	}
	for i := range ms.Fields {
		if !ms.Fields[i].Equal(other.Fields[i]) {
			return false
		}
	}
	if len(ms.Indexes) != len(other.Indexes) {
		return false
	}
	for i := range ms.Indexes {
		if !ms.Indexes[i].Equal(other.Indexes[i]) {
			return false
		}
	}
	return true
}

// RelatedKeys returns the models this model points at through relations.
func (ms *ModelState) RelatedKeys() []ModelKey {
	var out []ModelKey
	for _, f := range ms.Fields {
		if f.Rel == nil {
			continue
		}
		if key, err := ParseKey(f.Rel.To); err == nil {
			out = append(out, key)
		}
	}
	return out
}
