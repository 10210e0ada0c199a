package schema

import "fmt"

// LimitationError reports that the active backend cannot express a requested
// change at all. It is surfaced verbatim, never silently dropped.
type LimitationError struct {
	Backend string
	Op      string
	Detail  string
}

func (e *LimitationError) Error() string {
	return fmt.Sprintf("schema: %s cannot %s: %s", e.Backend, e.Op, e.Detail)
}
