package main

// Package main is the entry point for the prometheus-core server.
//
// Responsibilities:
//   - Load an optional .env file, then configuration from YAML and PROMETHEUS_* variables
//   - Validate configuration before anything starts
//   - Build the application logger and the audit trail
//   - Start the REST API, WebSocket hub, gRPC health service and metrics streamer
//   - Apply threshold changes when the config file is edited
//   - Shut down gracefully on SIGINT or SIGTERM
//
// Commands:
//   - serve (default): run the server
//   - version: print build information

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/audit"
	"github.com/auralis/prometheus-core/internal/config"
	"github.com/auralis/prometheus-core/internal/logging"
	"github.com/auralis/prometheus-core/internal/server"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type options struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "prometheus-core",
		Short:         "Real-time telemetry, prediction and automation core",
		Long:          "prometheus-core ingests service metrics, flags anomalies, forecasts load, runs automated responses and routes AI tasks across providers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file (default /etc/prometheus-core/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional .env file loaded before reading the environment")

	cmd.AddCommand(newServeCmd(opts), newVersionCmd())
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the prometheus-core server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "prometheus-core %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

// loadConfig reads and validates configuration.
func loadConfig(ctx context.Context, opts *options) (config.ConfigManager, *config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, nil, err
	}

	var (
		mgr config.ConfigManager
		err error
	)
	if opts.configPath != "" {
		mgr, err = config.NewConfigManager(opts.configPath)
	} else {
		mgr, err = config.NewConfigManagerWithDefaults()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}

func runServe(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	mgr, cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	auditCfg := audit.DefaultConfig()
	auditCfg.Path = cfg.Audit.Path
	auditor, err := audit.NewLogger(auditCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	defer auditor.Close()

	srv, err := server.NewServer(cfg,
		server.WithLogger(logger),
		server.WithAuditor(auditor),
		server.WithConfigManager(mgr),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("received shutdown signal", zap.Error(context.Cause(ctx)))
	if err := srv.Stop("signal"); err != nil {
		logger.Error("error stopping server", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete", zap.String("version", version))
	return nil
}
