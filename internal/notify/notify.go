package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
)

// Failure describes one database that could not be backed up. Filename is
// set once the dump exists.
type Failure struct {
	Database string
	Engine   config.Engine
	Error    string
	Filename string
}

// Success summarises the databases of one instance that were backed up.
type Success struct {
	Databases []string
	Engine    config.Engine
	Count     int
}

// Warning is a non-fatal problem, such as an orphaned multipart upload.
type Warning struct {
	Message  string
	Database string
}

// Sink delivers operator notifications on a best-effort basis. Delivery
// problems are handled inside the sink and never returned.
type Sink interface {
	NotifyFailure(ctx context.Context, f Failure)
	NotifySuccess(ctx context.Context, s Success)
	NotifyWarning(ctx context.Context, w Warning)
}

// DeliveryError is a notification that could not be delivered.
type DeliveryError struct {
	Channel    string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s notification rejected with status %d", e.Channel, e.StatusCode)
	}
	return fmt.Sprintf("%s notification failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// LogSink only logs notifications. It is used when no webhook is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) NotifyFailure(_ context.Context, f Failure) {
	s.logger.Error("Backup failed",
		"database", f.Database,
		"engine", f.Engine,
		"filename", f.Filename,
		"error", f.Error,
	)
}

func (s *LogSink) NotifySuccess(_ context.Context, su Success) {
	s.logger.Info("Backup completed",
		"databases", strings.Join(su.Databases, ", "),
		"engine", su.Engine,
		"count", su.Count,
	)
}

func (s *LogSink) NotifyWarning(_ context.Context, w Warning) {
	s.logger.Warn("Backup warning", "database", w.Database, "message", w.Message)
}

// New returns the Discord sink when it is active, otherwise a LogSink.
func New(cfg config.Discord, logger *slog.Logger) Sink {
	if cfg.Active() {
		return NewDiscordNotifier(cfg.WebhookURL, logger)
	}
	return NewLogSink(logger)
}
