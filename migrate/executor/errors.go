package executor

import (
	"fmt"

	"github.com/dgsalas/django/migrate/migration"
)

// PartialApplyError reports a migration that failed part-way through. On
// backends with transactional DDL the whole migration rolled back; elsewhere
// the operations before OpIndex are already committed.
type PartialApplyError struct {
	Key        migration.Key
	OpIndex    int
	Backwards  bool
	RolledBack bool
	Err        error
}

func (e *PartialApplyError) Error() string {
	dir := "applying"
	if e.Backwards {
		dir = "unapplying"
	}
	outcome := "earlier operations remain applied"
	if e.RolledBack {
		outcome = "rolled back"
	}
	return fmt.Sprintf("%s %s failed at operation %d (%s): %v", dir, e.Key, e.OpIndex, outcome, e.Err)
}

func (e *PartialApplyError) Unwrap() error {
	return e.Err
}
