package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GreedyKomodoDragon/s3-backup/internal/backup"
	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/GreedyKomodoDragon/s3-backup/internal/dump"
	"github.com/GreedyKomodoDragon/s3-backup/internal/logging"
	"github.com/GreedyKomodoDragon/s3-backup/internal/notify"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logging.Bootstrap().Error("s3-backup failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	daemon     bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "s3-backup",
		Short:         "Dump databases and upload the archives to S3-compatible storage",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.daemon {
				return runDaemon(cmd.Context(), opts)
			}
			return runOnce(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML or JSON config file")
	root.Flags().BoolVar(&opts.daemon, "daemon", false, "keep running and back up on the configured cron schedule")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one backup sweep and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOnce(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "daemon",
			Short: "Run backup sweeps on the configured cron schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDaemon(cmd.Context(), opts)
			},
		},
		newListCommand(opts),
		newFetchCommand(opts),
	)

	return root
}

// app holds what every command needs once the config has been read.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func setup(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	logger, closer, err := logging.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Log.File, err)
	}
	return &app{cfg: cfg, logger: logger, closer: closer}, nil
}

func (a *app) orchestrator() *backup.Orchestrator {
	registry := dump.NewDefaultRegistry(a.cfg.DumpDir, dump.ExecRunner{}, a.logger)
	sink := notify.New(a.cfg.Discord, a.logger)
	return backup.NewOrchestrator(a.cfg, registry, backup.OpenS3(a.logger), sink, a.logger)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runOnce performs a single sweep. Failed databases do not change the exit
// status; only an interrupted sweep does.
func runOnce(parent context.Context, opts *options) error {
	a, err := setup(opts.configPath)
	if err != nil {
		return err
	}
	defer a.closer.Close()

	ctx, stop := signalContext(parent)
	defer stop()

	a.logger.Info("s3-backup starting", "version", version, "instances", len(a.cfg.Instances))

	if _, err := a.orchestrator().Run(ctx); err != nil {
		return fmt.Errorf("backup run did not complete: %w", err)
	}
	return nil
}
