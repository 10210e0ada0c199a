package commands

import (
	"github.com/spf13/cobra"

	"github.com/dgsalas/django/cli/internal/config"
	"github.com/dgsalas/django/cli/internal/ui"
	"github.com/dgsalas/django/migrate/migration"
)

func newSQLMigrateCommand(cfg *config.Config) *cobra.Command {
	var backwards bool

	cmd := &cobra.Command{
		Use:   "sqlmigrate <app> <name>",
		Short: "Print the SQL one migration would run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exec, closeDB, err := newExecutor(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			key := migration.Key{App: args[0], Name: args[1]}
			statements, err := exec.CollectSQL(ctx, key, backwards)
			if err != nil {
				return err
			}
			ui.PrintSQL(statements)
			return nil
		},
	}

	cmd.Flags().BoolVar(&backwards, "backwards", false, "print the SQL for unapplying instead")
	return cmd
}
