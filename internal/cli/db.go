package cli

import (
	"fmt"
	"time"

	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/store"
)

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openDB opens the configured database, applying pending migrations. An
// empty sqlite DSN resolves to the data directory.
func openDB(cfg config.Config) (*store.DB, error) {
	opts := store.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute,
	}
	if opts.Driver != store.DriverPostgres && opts.DSN == "" {
		if err := paths.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		opts.DSN = paths.DefaultSQLitePath()
	}
	db, err := store.Open(opts, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
