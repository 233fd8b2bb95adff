package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/GreedyKomodoDragon/s3-backup/internal/dump"
	"github.com/GreedyKomodoDragon/s3-backup/internal/notify"
	"github.com/GreedyKomodoDragon/s3-backup/internal/storage"
)

// Providers resolves the dump provider of an engine.
type Providers interface {
	For(engine config.Engine) (dump.Provider, error)
}

// Store uploads one dump file and applies retention.
type Store interface {
	Store(ctx context.Context, database, filename, path string) (*storage.Outcome, error)
}

// StoreFactory opens the store of a resolved storage target.
type StoreFactory func(ctx context.Context, target config.StorageTarget) (Store, error)

// OpenS3 is the StoreFactory used outside tests.
func OpenS3(logger *slog.Logger) StoreFactory {
	return func(ctx context.Context, target config.StorageTarget) (Store, error) {
		return storage.Open(ctx, target, logger)
	}
}

// Report tallies one sweep.
type Report struct {
	Succeeded int
	Failed    int
	Warnings  int
}

func (r *Report) add(other Report) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Warnings += other.Warnings
}

// Orchestrator runs backup sweeps. Instances and their databases are
// processed strictly one after another; a failure is contained to the
// database or instance it happened in.
type Orchestrator struct {
	cfg       *config.Config
	providers Providers
	openStore StoreFactory
	notifier  notify.Sink
	logger    *slog.Logger

	settleDelay time.Duration
	sleep       func(time.Duration)
}

func NewOrchestrator(cfg *config.Config, providers Providers, openStore StoreFactory, notifier notify.Sink, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		providers:   providers,
		openStore:   openStore,
		notifier:    notifier,
		logger:      logger,
		settleDelay: cfg.SettleDelay,
		sleep:       time.Sleep,
	}
}

// Run performs one sweep over every configured instance. Cancelling ctx
// stops the sweep before the next instance starts; the instance in flight
// is finished so that no dump file or multipart session is left behind.
// The only error returned is the cancellation.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	var report Report
	start := time.Now()

	o.logger.Info("Starting backup sweep", "instances", len(o.cfg.Instances))

	for i, inst := range o.cfg.Instances {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("Backup sweep interrupted",
				"completed_instances", i,
				"remaining_instances", len(o.cfg.Instances)-i,
			)
			return report, fmt.Errorf("backup sweep interrupted: %w", err)
		}

		report.add(o.runInstance(context.WithoutCancel(ctx), inst))
	}

	o.logger.Info("Backup sweep finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"warnings", report.Warnings,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return report, nil
}

func (o *Orchestrator) runInstance(ctx context.Context, inst config.Instance) Report {
	logger := o.logger.With("instance", inst.DisplayName(), "engine", inst.Engine)
	logger.Info("Starting backup for instance", "databases", len(inst.Databases))

	provider, store, err := o.prepare(ctx, inst)
	if err != nil {
		logger.Error("Failed to prepare instance, skipping it", "error", err)
		o.notifier.NotifyFailure(ctx, notify.Failure{
			Database: strings.Join(inst.Databases, ", "),
			Engine:   inst.Engine,
			Error:    err.Error(),
		})
		return Report{Failed: len(inst.Databases)}
	}

	var report Report
	var succeeded []string
	for _, database := range inst.Databases {
		result := o.runDatabase(ctx, logger.With("database", database), inst, provider, store, database)
		report.add(result)
		if result.Succeeded > 0 {
			succeeded = append(succeeded, database)
		}
	}

	if o.cfg.NotifyOnSuccess && len(succeeded) > 0 {
		o.notifier.NotifySuccess(ctx, notify.Success{
			Databases: succeeded,
			Engine:    inst.Engine,
			Count:     len(succeeded),
		})
	}

	logger.Info("Finished backup for instance", "succeeded", report.Succeeded, "failed", report.Failed)
	return report
}

// prepare resolves everything an instance needs before its first dump.
func (o *Orchestrator) prepare(ctx context.Context, inst config.Instance) (dump.Provider, Store, error) {
	if err := inst.Validate(); err != nil {
		return nil, nil, err
	}

	target, err := o.cfg.StorageTarget(inst)
	if err != nil {
		return nil, nil, err
	}

	provider, err := o.providers.For(inst.Engine)
	if err != nil {
		return nil, nil, err
	}

	store, err := o.openStore(ctx, target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage for bucket %s: %w", target.Bucket, err)
	}
	return provider, store, nil
}

func (o *Orchestrator) runDatabase(ctx context.Context, logger *slog.Logger, inst config.Instance, provider dump.Provider, store Store, database string) Report {
	fail := func(filename string, err error) Report {
		o.notifier.NotifyFailure(ctx, notify.Failure{
			Database: database,
			Engine:   inst.Engine,
			Error:    err.Error(),
			Filename: filename,
		})
		return Report{Failed: 1}
	}

	logger.Debug("Starting dump")
	result, err := provider.Dump(ctx, inst, database)
	if err != nil {
		logger.Error("Dump failed", "error", err)
		return fail("", err)
	}

	// The local dump never outlives this call, whatever happens below.
	defer o.removeDump(logger, result.Path)

	size, err := validateDump(result.Path)
	if err != nil {
		logger.Error("Dump file is not usable", "file", result.Path, "error", err)
		return fail(result.Filename, err)
	}
	logger.Debug("Dump created", "filename", result.Filename, "size_bytes", size)

	outcome, err := store.Store(ctx, database, result.Filename, result.Path)
	if err != nil {
		var report Report
		var leaked *storage.LeakedSessionWarning
		if errors.As(err, &leaked) {
			o.notifier.NotifyWarning(ctx, notify.Warning{Message: leaked.Error(), Database: database})
			report.Warnings++
		}
		logger.Error("Upload failed", "filename", result.Filename, "error", err)
		report.add(fail(result.Filename, err))
		return report
	}

	logger.Info("Backup uploaded",
		"location", outcome.Location,
		"size_bytes", outcome.Size,
		"multipart", outcome.Multipart,
		"parts", outcome.Parts,
	)

	report := Report{Succeeded: 1}
	if outcome.RetentionErr != nil {
		o.notifier.NotifyWarning(ctx, notify.Warning{
			Message:  fmt.Sprintf("Backup uploaded but retention failed: %v", outcome.RetentionErr),
			Database: database,
		})
		report.Warnings++
	}

	// Give the object store a moment to finish before the local copy goes.
	o.sleep(o.settleDelay)
	return report
}

// validateDump checks that the dump is a non-empty readable file.
func validateDump(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, &storage.AccessError{Path: path, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, &storage.AccessError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return 0, &storage.AccessError{Path: path, Err: fmt.Errorf("not a regular file")}
	}
	if info.Size() == 0 {
		return 0, &storage.EmptyPayloadError{Path: path}
	}
	return info.Size(), nil
}

func (o *Orchestrator) removeDump(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove local dump file", "file", path, "error", err)
		return
	}
	logger.Debug("Local dump file removed", "file", path)
}
