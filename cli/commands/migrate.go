package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgsalas/django/cli/internal/config"
	"github.com/dgsalas/django/cli/internal/ui"
	"github.com/dgsalas/django/migrate/executor"
)

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	var (
		fake        bool
		fakeInitial bool
	)

	cmd := &cobra.Command{
		Use:   "migrate [app [name]]",
		Short: "Apply migrations to the database",
		Long: "Apply pending migrations, or move one app to a named migration.\n" +
			"Use the name \"zero\" to unapply everything in an app.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exec, closeDB, err := newExecutor(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			target, err := parseTarget(exec, args)
			if err != nil {
				return err
			}
			spinner, _ := ui.PrintSpinner("Applying migrations...")
			defer spinner.Stop()
			if err := exec.Migrate(ctx, target, executor.Options{
				Fake:        fake,
				FakeInitial: fakeInitial,
			}); err != nil {
				spinner.Stop()
				return err
			}
			spinner.Stop()
			ui.PrintSuccess("database is up to date")
			return nil
		},
	}

	cmd.Flags().BoolVar(&fake, "fake", false, "record migrations as applied without running them")
	cmd.Flags().BoolVar(&fakeInitial, "fake-initial", false, "fake initial migrations whose tables already exist")

	return cmd
}

// parseTarget maps command arguments to an executor target. With only an app
// given, the target is that app's single leaf.
func parseTarget(exec *executor.Executor, args []string) (*executor.Target, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		leaves := exec.Graph().LeavesForApp(args[0])
		switch len(leaves) {
		case 0:
			return nil, fmt.Errorf("app %q has no migrations", args[0])
		case 1:
			return &executor.Target{App: args[0], Name: leaves[0].Name}, nil
		default:
			return nil, fmt.Errorf("app %q has multiple leaf migrations; name one explicitly", args[0])
		}
	default:
		return &executor.Target{App: args[0], Name: args[1]}, nil
	}
}
