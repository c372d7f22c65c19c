// Package cli defines the cobra command tree for the immotech server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"immotech/server/config"
	"immotech/server/internal/database"
)

var flagConfig string

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "immotech",
		Short:         "Real estate marketplace backend",
		Long:          "Serves the marketplace API and runs its maintenance tasks: migrations, reports, contract reconciliation and bulk imports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (environment variables override it)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newReportCmd(),
		newReconcileCmd(),
		newImportCmd(),
	)

	return root
}

// runtime is what every command needs: settings, a logger and an open store.
type runtime struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  database.Store
}

// openRuntime loads the config named by --config and connects to the store,
// migrating it first when asked. Callers must Close it.
func openRuntime(ctx context.Context, migrate bool) (*runtime, error) {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}

	if cfg.Database.Driver == database.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := database.Open(ctx, database.Options{
		Driver:        cfg.Database.Driver,
		SQLitePath:    cfg.Database.SQLitePath,
		MongoURI:      cfg.Database.MongoURI,
		MongoDatabase: cfg.Database.MongoDatabase,
		Timeout:       cfg.Database.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if migrate {
		logger.Info("Running database migrations...")
		if err := store.RunMigrations(); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &runtime{cfg: cfg, logger: logger, store: store}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.WithError(err).Warn("Failed to close store")
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
