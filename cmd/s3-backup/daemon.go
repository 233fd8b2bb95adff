package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronLogger routes the scheduler's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// runDaemon sweeps on the cron schedule until SIGINT or SIGTERM. A sweep in
// progress finishes its current instance before the process exits.
func runDaemon(parent context.Context, opts *options) error {
	a, err := setup(opts.configPath)
	if err != nil {
		return err
	}
	defer a.closer.Close()

	ctx, stop := signalContext(parent)
	defer stop()

	orchestrator := a.orchestrator()
	sweep := func() {
		report, err := orchestrator.Run(ctx)
		if err != nil {
			a.logger.Warn("Backup run stopped early", "error", err)
			return
		}
		a.logger.Debug("Backup run report", "succeeded", report.Succeeded, "failed", report.Failed, "warnings", report.Warnings)
	}

	logger := cronLogger{logger: a.logger}
	scheduler := cron.New(
		cron.WithLocation(a.cfg.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	schedule, err := cron.ParseStandard(a.cfg.CronTime)
	if err != nil {
		return fmt.Errorf("invalid cronTime %q: %w", a.cfg.CronTime, err)
	}
	scheduler.Schedule(schedule, cron.FuncJob(sweep))

	a.logger.Info("s3-backup daemon starting",
		"version", version,
		"cron_time", a.cfg.CronTime,
		"timezone", a.cfg.Timezone,
		"run_on_startup", a.cfg.RunOnStartup,
	)

	if a.cfg.RunOnStartup {
		sweep()
	}

	scheduler.Start()
	a.logger.Info("Next backup scheduled", "at", schedule.Next(time.Now().In(a.cfg.Location())))

	<-ctx.Done()
	a.logger.Info("Shutdown signal received, waiting for running backups")
	<-scheduler.Stop().Done()
	a.logger.Info("s3-backup daemon stopped")
	return nil
}
