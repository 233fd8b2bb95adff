package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const MiB int64 = 1024 * 1024

// MinPartSize is the smallest part the S3 API accepts for every part but the last.
const MinPartSize = 5 * MiB

const (
	DefaultMultipartThreshold = 100 * MiB
	DefaultPartSize           = 10 * MiB
	DefaultMaxConcurrentParts = 5

	DefaultRegion      = "us-east-1"
	DefaultCronTime    = "0 5 * * *"
	DefaultTimezone    = "UTC"
	DefaultDumpDir     = "dumps"
	DefaultSettleDelay = 2 * time.Second
)

// Engine identifies the kind of database server an instance runs.
type Engine string

const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "pg"
	EngineMongo    Engine = "mongo"
	EngineRedis    Engine = "redis"
)

var (
	ErrConfigPathMissing    = errors.New("config file path is required")
	ErrConfigFileMissing    = errors.New("config file is missing")
	ErrConfigFileUnreadable = errors.New("config file is unreadable")
	ErrConfigInvalid        = errors.New("config is invalid")
	ErrPartSizeTooSmall     = fmt.Errorf("partSize must be at least %d bytes", MinPartSize)
	ErrNoStorage            = errors.New("no s3 configuration available for instance")
)

// S3Config is the storage block of the config file, used both as the
// process-wide default and as a per-instance override.
type S3Config struct {
	Key                string `mapstructure:"key"`
	Secret             string `mapstructure:"secret"`
	Region             string `mapstructure:"region"`
	Bucket             string `mapstructure:"bucket" validate:"required"`
	Endpoint           string `mapstructure:"endpoint" validate:"omitempty,url"`
	ForcePathStyle     *bool  `mapstructure:"forcePathStyle"`
	MultipartThreshold int64  `mapstructure:"multipartThreshold" validate:"gte=0"`
	PartSize           int64  `mapstructure:"partSize" validate:"gte=0"`
	MaxConcurrentParts int    `mapstructure:"maxConcurrentParts" validate:"gte=0"`
	Retention          int    `mapstructure:"retention" validate:"gte=0"`
}

// Instance is one database server (or container) and the databases to dump from it.
type Instance struct {
	Name            string    `mapstructure:"name"`
	Engine          Engine    `mapstructure:"engine" validate:"required,oneof=mysql pg mongo redis"`
	IsDocker        bool      `mapstructure:"isDocker"`
	DockerContainer string    `mapstructure:"dockerContainer" validate:"required_if=IsDocker true"`
	Host            string    `mapstructure:"host"`
	Port            string    `mapstructure:"port"`
	User            string    `mapstructure:"user"`
	Password        string    `mapstructure:"password"`
	Databases       []string  `mapstructure:"databases" validate:"required,min=1,dive,required"`
	S3              *S3Config `mapstructure:"s3"`
}

type Discord struct {
	Enabled    *bool  `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhookUrl" validate:"omitempty,url"`
}

// Active reports whether webhook notifications should be delivered.
func (d Discord) Active() bool {
	if d.WebhookURL == "" {
		return false
	}
	return d.Enabled == nil || *d.Enabled
}

type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB" validate:"gte=0"`
	MaxBackups int    `mapstructure:"maxBackups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"maxAgeDays" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the whole process configuration. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Debug           bool          `mapstructure:"debug"`
	RunOnStartup    bool          `mapstructure:"runOnStartup"`
	CronTime        string        `mapstructure:"cronTime" validate:"required"`
	Timezone        string        `mapstructure:"timezone" validate:"required"`
	DumpDir         string        `mapstructure:"dumpDir" validate:"required"`
	SettleDelay     time.Duration `mapstructure:"settleDelay" validate:"gte=0"`
	NotifyOnSuccess bool          `mapstructure:"notifyOnSuccess"`
	Log             Log           `mapstructure:"log"`
	Discord         Discord       `mapstructure:"discord"`
	S3Default       S3Config      `mapstructure:"s3Default"`

	// Instances are validated one at a time by the orchestrator so a broken
	// instance does not prevent the others from running.
	Instances []Instance `mapstructure:"instances"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the process-level settings. A failure here is fatal.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrConfigInvalid, c.Timezone, err)
	}
	if _, err := c.S3Default.Target(); err != nil {
		return fmt.Errorf("%w: s3Default: %v", ErrConfigInvalid, err)
	}
	return nil
}

// Location returns the time zone the scheduler runs in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks a single instance definition.
func (i Instance) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("instance %s: %w", i.DisplayName(), err)
	}
	return nil
}

// DisplayName is used in logs and notifications.
func (i Instance) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if i.IsDocker {
		return fmt.Sprintf("%s@%s", i.Engine, i.DockerContainer)
	}
	if i.Host != "" {
		return fmt.Sprintf("%s@%s", i.Engine, i.Host)
	}
	return string(i.Engine)
}
