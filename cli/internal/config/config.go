package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var AppFs = afero.NewOsFs()

// Config holds the application configuration.
type Config struct {
	// ModelFile is the declarative model definition the autodetector diffs
	// against migration history.
	ModelFile string
	// MigrationsDir is the root of the on-disk migration tree.
	MigrationsDir string
	DatabaseURL   string
	// Provider is the database backend: postgres, mysql or sqlite.
	Provider string
	Verbose  bool
}

// LoadConfig loads configuration from config files, environment variables
// and .env files, in rising priority.
func LoadConfig() (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName(".django-go")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(home)
	viper.AddConfigPath(filepath.Join(home, ".config", "django-go"))

	viper.SetEnvPrefix("DJANGO_GO")
	viper.AutomaticEnv()

	viper.SetDefault("model_file", "models.mf")
	viper.SetDefault("migrations_dir", "migrations")
	viper.SetDefault("provider", "sqlite")
	viper.SetDefault("verbose", false)

	// A missing config file is fine; defaults and env cover it.
	_ = viper.ReadInConfig()

	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}

	cfg := &Config{
		ModelFile:     viper.GetString("model_file"),
		MigrationsDir: viper.GetString("migrations_dir"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Provider:      viper.GetString("provider"),
		Verbose:       viper.GetBool("verbose"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = viper.GetString("database_url")
	}
	return cfg, nil
}

// SaveConfig writes the configuration to the user config directory.
func SaveConfig(cfg *Config) error {
	viper.Set("model_file", cfg.ModelFile)
	viper.Set("migrations_dir", cfg.MigrationsDir)
	viper.Set("provider", cfg.Provider)
	viper.Set("verbose", cfg.Verbose)

	home, err := homedir.Dir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(home, ".config", "django-go")
	if err := AppFs.MkdirAll(configPath, 0755); err != nil {
		return err
	}

	configFile := filepath.Join(configPath, ".django-go.yaml")
	return viper.WriteConfigAs(configFile)
}
