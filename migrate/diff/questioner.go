// Package diff compares two project states and emits the migrations that
// transform one into the other, dependency-ordered and deterministic.
package diff

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/state"
)

// Questioner resolves the questions a structural diff cannot decide alone.
// Rename inference is a heuristic: when it is ambiguous the questioner is
// asked, and a declined rename degrades to a remove-and-add pair.
type Questioner interface {
	ConfirmModelRename(old, new *state.ModelState) bool
	ConfirmFieldRename(model string, old, new state.Field) bool
	ConfirmMerge(app string, leaves []migration.Key) bool
}

// AutoQuestioner is the non-interactive default: it declines every rename
// and merge, so generated migrations never depend on guesswork.
type AutoQuestioner struct{}

func (AutoQuestioner) ConfirmModelRename(old, new *state.ModelState) bool { return false }
func (AutoQuestioner) ConfirmFieldRename(_ string, old, new state.Field) bool {
	return false
}
func (AutoQuestioner) ConfirmMerge(string, []migration.Key) bool { return false }

// StaticQuestioner answers with fixed values, for scripted runs and tests.
type StaticQuestioner struct {
	RenameModels bool
	RenameFields bool
	Merges       bool
}

func (q StaticQuestioner) ConfirmModelRename(old, new *state.ModelState) bool {
	return q.RenameModels
}
func (q StaticQuestioner) ConfirmFieldRename(_ string, old, new state.Field) bool {
	return q.RenameFields
}
func (q StaticQuestioner) ConfirmMerge(string, []migration.Key) bool { return q.Merges }

// InteractiveQuestioner prompts on the terminal.
type InteractiveQuestioner struct{}

func (InteractiveQuestioner) ConfirmModelRename(old, new *state.ModelState) bool {
	return confirm(fmt.Sprintf("Was model %s.%s renamed to %s?", old.App, old.Name, new.Name))
}

func (InteractiveQuestioner) ConfirmFieldRename(model string, old, new state.Field) bool {
	return confirm(fmt.Sprintf("Was field %s.%s renamed to %s?", model, old.Name, new.Name))
}

func (InteractiveQuestioner) ConfirmMerge(app string, leaves []migration.Key) bool {
	return confirm(fmt.Sprintf("Merge %d conflicting migrations in app %q?", len(leaves), app))
}

func confirm(message string) bool {
	answer := false
	prompt := &survey.Confirm{Message: message}
	if err := survey.AskOne(prompt, &answer); err != nil {
		return false
	}
	return answer
}
