// Package commands implements the django-go CLI.
package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dgsalas/django/cli/internal/config"
	"github.com/dgsalas/django/cli/internal/update"
	"github.com/dgsalas/django/cli/internal/version"
)

// Execute builds the root command and runs it.
func Execute() error {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "django-go",
		Short: "Schema migrations for Go projects",
		Long: "django-go derives schema migrations from declarative model definitions,\n" +
			"plans them as a dependency graph and applies them to the database.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	rootCmd.AddCommand(newInitCommand(cfg))
	rootCmd.AddCommand(newMakeMigrationsCommand(cfg))
	rootCmd.AddCommand(newMigrateCommand(cfg))
	rootCmd.AddCommand(newShowMigrationsCommand(cfg))
	rootCmd.AddCommand(newSQLMigrateCommand(cfg))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd.Execute()
}

func newVersionCommand() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			cmd.Println(info.FullString())
			if check {
				return update.CheckForUpdates(info.Version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check whether a newer release exists")
	return cmd
}
