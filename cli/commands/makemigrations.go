package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgsalas/django/cli/internal/config"
	"github.com/dgsalas/django/cli/internal/ui"
	"github.com/dgsalas/django/cli/internal/watch"
	"github.com/dgsalas/django/migrate/diff"
	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/loader"
	"github.com/dgsalas/django/migrate/migration"
)

func newMakeMigrationsCommand(cfg *config.Config) *cobra.Command {
	var (
		name    string
		merge   bool
		dryRun  bool
		noInput bool
		watched bool
	)

	cmd := &cobra.Command{
		Use:   "makemigrations",
		Short: "Create new migrations from model changes",
		Long: "Diff the model definitions against the state reconstructed from the\n" +
			"migration graph and write the migrations that close the gap.",
		RunE: func(cmd *cobra.Command, args []string) error {
			run := func() error {
				return runMakeMigrations(cfg, name, merge, dryRun, noInput)
			}
			if !watched {
				return run()
			}
			w, err := watch.NewWatcher(cfg.ModelFile, func() error {
				if err := run(); err != nil {
					ui.PrintError("%v", err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()
			ui.PrintHeader("django-go", "Watch Mode")
			ui.PrintInfo("watching %s for changes, Ctrl-C to stop", cfg.ModelFile)
			select {}
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "suffix for the generated migration names")
	cmd.Flags().BoolVar(&merge, "merge", false, "resolve conflicting leaf migrations with a merge migration")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be written without writing")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "never prompt; decline all rename and merge questions")
	cmd.Flags().BoolVar(&watched, "watch", false, "re-run whenever the model file changes")

	return cmd
}

func runMakeMigrations(cfg *config.Config, name string, merge, dryRun, noInput bool) error {
	g, l, err := loadGraph(cfg)
	if err != nil {
		return err
	}

	var q diff.Questioner = diff.InteractiveQuestioner{}
	if noInput {
		q = diff.AutoQuestioner{}
	}

	if merge {
		migs, err := diff.MergeConflicts(g, q)
		if err != nil {
			return err
		}
		if len(migs) == 0 {
			ui.PrintInfo("no conflicts to merge")
			return nil
		}
		return writeMigrations(l, migs, dryRun)
	}

	target, err := desiredState(cfg)
	if err != nil {
		return err
	}
	current, err := g.MakeState(nil)
	if err != nil {
		return err
	}

	migs, err := diff.New(current, target, q).Changes(g)
	if err != nil {
		var conflict *graph.ConflictError
		if errors.As(err, &conflict) {
			ui.PrintError("conflicting migrations in app %q; run makemigrations --merge", conflict.App)
		}
		return err
	}
	if len(migs) == 0 {
		ui.PrintInfo("no changes detected")
		return nil
	}
	if name != "" {
		for _, m := range migs {
			m.Name = renameSuffix(m.Name, name)
		}
	}
	return writeMigrations(l, migs, dryRun)
}

// renameSuffix swaps the descriptive part of a generated name while keeping
// its number prefix. The initial migration keeps its conventional name.
func renameSuffix(generated, suffix string) string {
	if generated == "0001_initial" {
		return generated
	}
	return generated[:5] + suffix
}

func writeMigrations(l *loader.Loader, migs []*migration.Migration, dryRun bool) error {
	for _, m := range migs {
		ui.PrintSection(fmt.Sprintf("%s/%s", m.App, m.Name))
		var lines []string
		for _, op := range m.Operations {
			lines = append(lines, op.Describe())
		}
		if len(lines) == 0 {
			lines = []string{"(no operations)"}
		}
		ui.PrintList(lines)
		if dryRun {
			continue
		}
		path, err := l.WriteMigration(m)
		if err != nil {
			return err
		}
		ui.PrintSuccess("wrote %s", path)
	}
	return nil
}
