// Package cli provides the pgextract command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/pgextract/internal/config"
	"github.com/koustreak/pgextract/internal/database"
	"github.com/koustreak/pgextract/internal/database/postgres"
	"github.com/koustreak/pgextract/internal/filestore"
	"github.com/koustreak/pgextract/internal/filestore/minio"
	"github.com/koustreak/pgextract/internal/logger"
)

// Version information (set at build time).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app carries the loaded configuration and the connectors every command
// shares. The connectors are fields so tests can swap in fakes.
type app struct {
	cfgFile   string
	dsn       string
	logLevel  string
	logFormat string

	cfg *config.Config
	log *logger.Logger

	openDB    func(ctx context.Context, cfg *database.Config) (database.DB, error)
	openStore func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error)
}

func newApp() *app {
	return &app{
		openDB: func(ctx context.Context, cfg *database.Config) (database.DB, error) {
			d, err := postgres.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		openStore: func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
			d, err := minio.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pgextract",
		Short: "Extract PostgreSQL catalog metadata",
		Long: `pgextract reads the PostgreSQL system catalog and produces a structured
description of every schema: tables, views, materialized views, foreign tables,
composite, domain, enum and range types, functions and procedures.

Every type reference is canonicalized, and view columns are traced back to
the table columns they select.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.dsn, "dsn", "", "PostgreSQL connection string (overrides config and "+config.EnvPrefix+"DSN)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (json|console)")

	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newExtractCmd(a))
	rootCmd.AddCommand(newTypesCmd(a))
	rootCmd.AddCommand(newLineageCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newSnapshotsCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// load reads the config file and environment, then applies the global flags.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.dsn != "" {
		cfg.Database.DSN = a.dsn
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	cfg.Log.Output = cmd.ErrOrStderr()

	a.cfg = cfg
	a.log = logger.New(&cfg.Log)
	logger.SetGlobal(a.log)
	return nil
}

// connect validates the configuration and opens the catalog connection.
func (a *app) connect(ctx context.Context) (database.DB, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := a.openDB(ctx, &a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.log.DebugWith("connected to catalog", map[string]any{"application_name": a.cfg.Database.ApplicationName})
	return db, nil
}

// snapshots opens the export store. It returns nil, nil when export is not
// configured.
func (a *app) snapshots(ctx context.Context) (*filestore.Snapshots, func(), error) {
	if !a.cfg.Export.Enabled() {
		return nil, func() {}, nil
	}
	if err := a.cfg.Export.Validate(); err != nil {
		return nil, nil, err
	}
	store, err := a.openStore(ctx, &a.cfg.Export)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			a.log.WarnWith("closing snapshot store", err, nil)
		}
	}
	return filestore.NewSnapshots(store, a.cfg.Export.Prefix), closeFn, nil
}
