package commands

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/dgsalas/django/cli/internal/config"
	"github.com/dgsalas/django/migrate/executor"
	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/history"
	"github.com/dgsalas/django/migrate/loader"
	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/schema/mysql"
	"github.com/dgsalas/django/migrate/schema/postgres"
	"github.com/dgsalas/django/migrate/schema/sqlite"
	"github.com/dgsalas/django/migrate/state"
	"github.com/dgsalas/django/modelfile"
)

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	dsn := cfg.DatabaseURL
	var driver string
	switch cfg.Provider {
	case "postgres":
		driver = "postgres"
	case "mysql":
		driver = "mysql"
	case "sqlite":
		driver = "sqlite3"
		if dsn == "" {
			dsn = "db.sqlite3"
		}
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Provider, err)
	}
	return db, nil
}

func openBackend(ctx context.Context, cfg *config.Config, db *sqlx.DB) (schema.Backend, error) {
	log := logrus.StandardLogger()
	switch cfg.Provider {
	case "postgres":
		return postgres.New(ctx, db, log)
	case "mysql":
		return mysql.New(ctx, db, log)
	case "sqlite":
		return sqlite.New(ctx, db, log)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func loadGraph(cfg *config.Config) (*graph.Graph, *loader.Loader, error) {
	l := loader.New(config.AppFs, cfg.MigrationsDir)
	g, err := l.LoadGraph()
	if err != nil {
		return nil, nil, err
	}
	return g, l, nil
}

func desiredState(cfg *config.Config) (*state.ProjectState, error) {
	return modelfile.Load(config.AppFs, cfg.ModelFile)
}

func newExecutor(ctx context.Context, cfg *config.Config) (*executor.Executor, func(), error) {
	g, _, err := loadGraph(cfg)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	backend, err := openBackend(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	rec := history.NewRecorder(cfg.Provider)
	exec := executor.New(db, backend, rec, g, logrus.StandardLogger())
	return exec, func() { db.Close() }, nil
}
