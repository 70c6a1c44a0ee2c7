package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowaudit/flowaudit/internal/api"
	"github.com/flowaudit/flowaudit/internal/config"
	"github.com/flowaudit/flowaudit/internal/project"
	"github.com/flowaudit/flowaudit/internal/ruleset"
	"github.com/flowaudit/flowaudit/internal/solution"
	"github.com/flowaudit/flowaudit/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the FlowAudit HTTP API.

Opens the SQLite database (creating it if it doesn't exist), loads the
built-in rulesets plus any ruleset_dirs from the config, and serves until
interrupted.

Example:
  flowaudit serve --addr :8080 --db ./flowaudit.db
  flowaudit serve --config ./flowaudit.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides listen_addr)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides db_path)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.settings()
	if opts.Addr != "" {
		cfg.ListenAddr = opts.Addr
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	logger := opts.logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	srv, err := newAPIServer(ctx, st, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start api", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "FlowAudit API listening on %s\n", cfg.ListenAddr)
	if err := srv.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "api server error", err)
	}

	logger.Info("api server stopped gracefully")
	return nil
}

// newAPIServer wires the catalog and services on top of st.
func newAPIServer(ctx context.Context, st *store.Store, cfg config.Config, logger *slog.Logger) (*api.Server, error) {
	base, err := ruleset.Builtin()
	if err != nil {
		return nil, err
	}
	fromDirs, err := ruleset.LoadDirs(cfg.RulesetDirs)
	if err != nil {
		return nil, err
	}
	if len(fromDirs) > 0 {
		logger.Info("rulesets loaded from directories", "count", len(fromDirs), "dirs", cfg.RulesetDirs)
	}

	catalog, err := ruleset.NewCatalog(ctx, st, append(base, fromDirs...), logger)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("ruleset catalog ready", "rulesets", catalog.Registry().Len())

	projects := project.NewService(st, catalog, project.WithLogger(logger))
	solutions := solution.NewService(st,
		solution.WithLowMatchRate(cfg.LowMatchRate),
		solution.WithLogger(logger))

	return api.NewServer(api.Deps{
		Catalog:   catalog,
		Projects:  projects,
		Solutions: solutions,
		Health:    st,
		Logger:    logger,
	}, api.Config{
		Addr:           cfg.ListenAddr,
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}), nil
}
