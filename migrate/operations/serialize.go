package operations

import (
	"encoding/json"
	"fmt"
)

// factories maps the file-format tag of every operation kind to a fresh
// value of the concrete type.
var factories = map[string]func() Operation{
	"create_model":          func() Operation { return &CreateModel{} },
	"delete_model":          func() Operation { return &DeleteModel{} },
	"rename_model":          func() Operation { return &RenameModel{} },
	"alter_model_options":   func() Operation { return &AlterModelOptions{} },
	"alter_unique_together": func() Operation { return &AlterUniqueTogether{} },
	"add_field":             func() Operation { return &AddField{} },
	"remove_field":          func() Operation { return &RemoveField{} },
	"alter_field":           func() Operation { return &AlterField{} },
	"rename_field":          func() Operation { return &RenameField{} },
	"add_index":             func() Operation { return &AddIndex{} },
	"remove_index":          func() Operation { return &RemoveIndex{} },
	"run_sql":               func() Operation { return &RunSQL{} },
	"run_go":                func() Operation { return &RunGo{} },
}

// Marshal encodes one operation as a tagged JSON object with an "op" field.
func Marshal(op Operation) (json.RawMessage, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("operations: marshal %s: %w", op.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("operations: marshal %s: %w", op.Kind(), err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	tag, _ := json.Marshal(op.Kind())
	fields["op"] = tag
	return json.Marshal(fields)
}

// Unmarshal decodes one tagged operation object.
func Unmarshal(data json.RawMessage) (Operation, error) {
	var envelope struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("operations: unmarshal: %w", err)
	}
	factory, ok := factories[envelope.Op]
	if !ok {
		return nil, fmt.Errorf("operations: unknown operation kind %q", envelope.Op)
	}
	op := factory()
	if err := json.Unmarshal(data, op); err != nil {
		return nil, fmt.Errorf("operations: unmarshal %s: %w", envelope.Op, err)
	}
	return op, nil
}

// MarshalList encodes an ordered operation list.
func MarshalList(ops []Operation) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(ops))
	for i, op := range ops {
		raw, err := Marshal(op)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

// UnmarshalList decodes an ordered operation list.
func UnmarshalList(raws []json.RawMessage) ([]Operation, error) {
	out := make([]Operation, len(raws))
	for i, raw := range raws {
		op, err := Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		out[i] = op
	}
	return out, nil
}
