package state

import "fmt"

// Error reports an operation referencing a model or field that is not present
// in the state. It surfaces missing or misordered migration dependencies
// before any DDL runs.
type Error struct {
	App    string
	Model  string
	Field  string
	Reason string
}

func (e *Error) Error() string {
	where := e.App + "." + e.Model
	if e.Field != "" {
		where += "." + e.Field
	}
	return fmt.Sprintf("state: %s: %s", where, e.Reason)
}
