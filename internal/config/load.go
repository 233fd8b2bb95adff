package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "S3BACKUP"

// Load reads the config file at path (yaml, yml or json), applies defaults
// and environment overrides, and validates the process-level settings.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrConfigPathMissing
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileMissing, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnreadable, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnreadable, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("runOnStartup", false)
	v.SetDefault("cronTime", DefaultCronTime)
	v.SetDefault("timezone", DefaultTimezone)
	v.SetDefault("dumpDir", DefaultDumpDir)
	v.SetDefault("settleDelay", DefaultSettleDelay)
	v.SetDefault("notifyOnSuccess", false)
	v.SetDefault("log.maxSizeMB", 10)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.maxAgeDays", 28)
	v.SetDefault("s3Default.region", DefaultRegion)
	v.SetDefault("s3Default.key", "")
	v.SetDefault("s3Default.secret", "")
	v.SetDefault("s3Default.bucket", "")
	v.SetDefault("discord.webhookUrl", "")
}
