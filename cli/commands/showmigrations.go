package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/dgsalas/django/cli/internal/config"
	"github.com/dgsalas/django/cli/internal/ui"
	"github.com/dgsalas/django/migrate/migration"
)

func newShowMigrationsCommand(cfg *config.Config) *cobra.Command {
	var plan bool

	cmd := &cobra.Command{
		Use:   "showmigrations",
		Short: "List migrations and their applied state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exec, closeDB, err := newExecutor(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			applied, err := exec.AppliedSet(ctx)
			if err != nil {
				return err
			}

			if plan {
				rows := make([][]string, 0, exec.Graph().Len())
				for _, m := range exec.Graph().FullPlan() {
					mark := "[ ]"
					if _, done := applied[m.Key()]; done {
						mark = "[X]"
					}
					rows = append(rows, []string{mark, m.Key().App, m.Key().Name})
				}
				ui.PrintTable([]string{"Applied", "App", "Migration"}, rows)
				return nil
			}

			byApp := map[string][]string{}
			for _, key := range exec.Graph().Keys() {
				byApp[key.App] = append(byApp[key.App], key.Name)
			}
			apps := make([]string, 0, len(byApp))
			for app := range byApp {
				apps = append(apps, app)
			}
			sort.Strings(apps)
			for _, app := range apps {
				ui.PrintSection(app)
				for _, name := range byApp[app] {
					_, done := applied[migration.Key{App: app, Name: name}]
					ui.PrintMigrationEntry(name, done)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plan, "plan", false, "print the full forwards plan instead")
	return cmd
}
