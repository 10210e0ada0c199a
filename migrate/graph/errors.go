package graph

import (
	"fmt"
	"strings"

	"github.com/dgsalas/django/migrate/migration"
)

// CycleError reports a dependency cycle. It names every participating node,
// not just one back edge; a cycle is a configuration bug and is never
// auto-resolved.
type CycleError struct {
	Nodes []migration.Key
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Nodes))
	for i, k := range e.Nodes {
		names[i] = k.String()
	}
	return fmt.Sprintf("graph: dependency cycle through %s", strings.Join(names, " -> "))
}

// ConflictError reports two or more leaf migrations in one app with no
// dependency between them. Unlike a cycle it is recoverable: a merge
// migration can linearize order-independent leaves.
type ConflictError struct {
	App    string
	Leaves []migration.Key
}

func (e *ConflictError) Error() string {
	names := make([]string, len(e.Leaves))
	for i, k := range e.Leaves {
		names[i] = k.Name
	}
	return fmt.Sprintf("graph: conflicting leaf migrations in app %q: %s", e.App, strings.Join(names, ", "))
}

// NodeNotFoundError reports a dependency on a migration that is not in the
// graph.
type NodeNotFoundError struct {
	Key migration.Key
	// Origin is the node that declared the dependency, when known.
	Origin *migration.Key
}

func (e *NodeNotFoundError) Error() string {
	if e.Origin != nil {
		return fmt.Sprintf("graph: %s depends on unknown migration %s", e.Origin, e.Key)
	}
	return fmt.Sprintf("graph: unknown migration %s", e.Key)
}
