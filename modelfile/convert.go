package modelfile

import (
	"fmt"
	"strconv"

	"github.com/spf13/afero"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

var fieldTypes = map[string]state.FieldType{
	"auto":     state.AutoField,
	"bool":     state.BooleanField,
	"char":     state.CharField,
	"date":     state.DateField,
	"datetime": state.DateTimeField,
	"decimal":  state.DecimalField,
	"float":    state.FloatField,
	"int":      state.IntegerField,
	"bigint":   state.BigIntField,
	"json":     state.JSONField,
	"text":     state.TextField,
	"uuid":     state.UUIDField,
	"fk":       state.ForeignKey,
}

var onDeletes = map[string]state.OnDelete{
	"cascade":    state.Cascade,
	"protect":    state.Protect,
	"set_null":   state.SetNull,
	"do_nothing": state.DoNothing,
}

// Load parses the model file at path and converts it into a validated
// project state.
func Load(fs afero.Fs, path string) (*state.ProjectState, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()
	file, err := Parse(path, f)
	if err != nil {
		return nil, err
	}
	return file.ProjectState()
}

// ProjectState converts the parse tree into a validated project state.
func (f *File) ProjectState() (*state.ProjectState, error) {
	ps := state.NewProjectState()
	for _, app := range f.Apps {
		for _, mb := range app.Models {
			ms, err := convertModel(app.Name, mb)
			if err != nil {
				return nil, err
			}
			if err := ps.AddModel(ms); err != nil {
				return nil, err
			}
		}
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

func convertModel(app string, mb *ModelBlock) (*state.ModelState, error) {
	ms := &state.ModelState{App: app, Name: mb.Name}
	for _, line := range mb.Lines {
		switch {
		case line.Field != nil:
			field, err := convertField(app, mb.Name, line.Field)
			if err != nil {
				return nil, err
			}
			ms.Fields = append(ms.Fields, field)
		case line.Attr != nil:
			if err := applyBlockAttr(ms, line.Attr); err != nil {
				return nil, err
			}
		}
	}
	// Index names derive from the table name, which a later db_table line
	// may set, so naming waits until the whole block is read.
	for i := range ms.Indexes {
		if ms.Indexes[i].Name == "" {
			ms.Indexes[i].Name = schema.IndexName(ms.TableName(), ms.Indexes[i].Fields)
		}
	}
	return ms, nil
}

func convertField(app, model string, fd *FieldDecl) (state.Field, error) {
	ft, ok := fieldTypes[fd.Type]
	if !ok {
		return state.Field{}, posErr(fd.Pos, "unknown field type %q on %s.%s", fd.Type, app, model)
	}
	field := state.Field{Name: fd.Name, Type: ft}

	if ft == state.ForeignKey {
		if fd.Rel == nil {
			return state.Field{}, posErr(fd.Pos, "fk field %s.%s.%s needs a target, e.g. fk(app.Model)", app, model, fd.Name)
		}
		field.Rel = &state.Relation{To: fd.Rel.String(), OnDelete: state.Cascade}
	} else if fd.Rel != nil {
		return state.Field{}, posErr(fd.Pos, "field type %q does not take a target", fd.Type)
	}

	for _, attr := range fd.Attrs {
		switch attr.Name {
		case "pk":
			field.PrimaryKey = true
		case "null":
			field.Null = true
		case "unique":
			field.Unique = true
		case "max_length":
			n, err := intArg(attr)
			if err != nil {
				return state.Field{}, posErr(attr.Pos, "max_length: %v", err)
			}
			field.MaxLength = n
		case "column":
			s, err := stringArg(attr)
			if err != nil {
				return state.Field{}, posErr(attr.Pos, "column: %v", err)
			}
			field.Column = s
		case "default":
			s, err := anyArg(attr)
			if err != nil {
				return state.Field{}, posErr(attr.Pos, "default: %v", err)
			}
			field.Default = &s
		case "on_delete":
			if field.Rel == nil {
				return state.Field{}, posErr(attr.Pos, "on_delete only applies to fk fields")
			}
			name, err := identArg(attr)
			if err != nil {
				return state.Field{}, posErr(attr.Pos, "on_delete: %v", err)
			}
			od, ok := onDeletes[name]
			if !ok {
				return state.Field{}, posErr(attr.Pos, "unknown on_delete action %q", name)
			}
			field.Rel.OnDelete = od
		default:
			return state.Field{}, posErr(attr.Pos, "unknown field attribute @%s", attr.Name)
		}
	}
	return field, nil
}

func applyBlockAttr(ms *state.ModelState, attr *BlockAttribute) error {
	switch attr.Name {
	case "index", "unique_index":
		fields, err := identArgs(attr.Args)
		if err != nil {
			return posErr(attr.Pos, "%s: %v", attr.Name, err)
		}
		if len(fields) == 0 {
			return posErr(attr.Pos, "%s needs at least one field", attr.Name)
		}
		ms.Indexes = append(ms.Indexes, state.Index{
			Fields: fields,
			Unique: attr.Name == "unique_index",
		})
	case "unique_together":
		fields, err := identArgs(attr.Args)
		if err != nil {
			return posErr(attr.Pos, "unique_together: %v", err)
		}
		if len(fields) < 2 {
			return posErr(attr.Pos, "unique_together needs at least two fields")
		}
		ms.Options.UniqueTogether = append(ms.Options.UniqueTogether, fields)
	case "db_table":
		s, err := stringArg(&FieldAttribute{Name: attr.Name, Args: attr.Args})
		if err != nil {
			return posErr(attr.Pos, "db_table: %v", err)
		}
		ms.Options.TableName = s
	case "ordering":
		for _, a := range attr.Args {
			if a.Str == nil {
				return posErr(attr.Pos, "ordering takes quoted field names")
			}
			ms.Options.Ordering = append(ms.Options.Ordering, *a.Str)
		}
	case "base":
		name, err := identArgs(attr.Args)
		if err != nil || len(name) != 1 {
			return posErr(attr.Pos, "base takes one identifier")
		}
		ms.Bases = append(ms.Bases, name[0])
	default:
		return posErr(attr.Pos, "unknown model attribute @@%s", attr.Name)
	}
	return nil
}

func intArg(attr *FieldAttribute) (int, error) {
	if len(attr.Args) != 1 || attr.Args[0].Num == nil {
		return 0, fmt.Errorf("expected one numeric argument")
	}
	return int(*attr.Args[0].Num), nil
}

func stringArg(attr *FieldAttribute) (string, error) {
	if len(attr.Args) != 1 || attr.Args[0].Str == nil {
		return "", fmt.Errorf("expected one quoted argument")
	}
	return *attr.Args[0].Str, nil
}

func identArg(attr *FieldAttribute) (string, error) {
	if len(attr.Args) != 1 || attr.Args[0].Ident == nil {
		return "", fmt.Errorf("expected one identifier argument")
	}
	return *attr.Args[0].Ident, nil
}

// anyArg renders the single argument as a DDL literal: strings pass through
// as written, numbers format plainly.
func anyArg(attr *FieldAttribute) (string, error) {
	if len(attr.Args) != 1 {
		return "", fmt.Errorf("expected one argument")
	}
	a := attr.Args[0]
	switch {
	case a.Str != nil:
		return *a.Str, nil
	case a.Num != nil:
		return strconv.FormatFloat(*a.Num, 'f', -1, 64), nil
	case a.Ident != nil:
		return *a.Ident, nil
	}
	return "", fmt.Errorf("unsupported argument")
}

func identArgs(args []*Arg) ([]string, error) {
	var out []string
	for _, a := range args {
		if a.Ident == nil {
			return nil, fmt.Errorf("expected identifiers")
		}
		out = append(out, *a.Ident)
	}
	return out, nil
}

func posErr(pos interface{ String() string }, format string, args ...any) error {
	return fmt.Errorf("%s: %s", pos.String(), fmt.Sprintf(format, args...))
}
