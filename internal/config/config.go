// Package config loads service configuration through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VILLA_SYNC_SECURITY_ENCRYPTION_KEY.
const EnvPrefix = "villa_sync"

// Config is the full service configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Log       Log       `mapstructure:"log"`
	Security  Security  `mapstructure:"security"`
	Sync      Sync      `mapstructure:"sync"`
	Schedule  Schedule  `mapstructure:"schedule"`
	Retention Retention `mapstructure:"retention"`
	ICal      ICal      `mapstructure:"ical"`
}

type Server struct {
	Addr      string `mapstructure:"addr" validate:"required"`
	StaticDir string `mapstructure:"static_dir"`
}

type Database struct {
	Path string `mapstructure:"path" validate:"required"`
}

type Log struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal"`
}

// Security holds the credential encryption key. An empty key makes the vault
// fall back to its built-in constant.
type Security struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type Sync struct {
	DefaultFrequencyHours   float64       `mapstructure:"default_frequency_hours" validate:"gt=0"`
	QuickMinAge             time.Duration `mapstructure:"quick_min_age" validate:"gte=0"`
	QuickDelay              time.Duration `mapstructure:"quick_delay" validate:"gte=0"`
	FullDelay               time.Duration `mapstructure:"full_delay" validate:"gte=0"`
	ConsecutiveFailureLimit int           `mapstructure:"consecutive_failure_limit" validate:"gte=1"`
	AdapterTimeout          time.Duration `mapstructure:"adapter_timeout" validate:"gt=0"`
	StaleRunAfter           time.Duration `mapstructure:"stale_run_after" validate:"gt=0"`
	HealthWindow            time.Duration `mapstructure:"health_window" validate:"gte=0"`
}

// Schedule holds cron specs. Specs accept the seconds field and @every descriptors.
type Schedule struct {
	Quick    string `mapstructure:"quick" validate:"required"`
	Full     string `mapstructure:"full" validate:"required"`
	Calendar string `mapstructure:"calendar" validate:"required"`
	Cleanup  string `mapstructure:"cleanup" validate:"required"`
	Health   string `mapstructure:"health" validate:"required"`
}

type Retention struct {
	SyncLogDays          int `mapstructure:"sync_log_days" validate:"gte=1"`
	StaleIntegrationDays int `mapstructure:"stale_integration_days" validate:"gte=1"`
}

type ICal struct {
	MaxBytes         int64         `mapstructure:"max_bytes" validate:"gt=0"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	ExportWindowDays int           `mapstructure:"export_window_days" validate:"gt=0"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8099")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("database.path", "/data/villa-sync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("security.encryption_key", "")

	v.SetDefault("sync.default_frequency_hours", 2.0)
	v.SetDefault("sync.quick_min_age", 14*time.Minute)
	v.SetDefault("sync.quick_delay", 2*time.Second)
	v.SetDefault("sync.full_delay", 5*time.Second)
	v.SetDefault("sync.consecutive_failure_limit", 3)
	v.SetDefault("sync.adapter_timeout", 30*time.Second)
	v.SetDefault("sync.stale_run_after", 30*time.Minute)
	v.SetDefault("sync.health_window", 15*time.Minute)

	v.SetDefault("schedule.quick", "@every 15m")
	v.SetDefault("schedule.full", "@every 2h")
	v.SetDefault("schedule.calendar", "@every 1h")
	v.SetDefault("schedule.cleanup", "0 0 3 * * *")
	v.SetDefault("schedule.health", "@every 5m")

	v.SetDefault("retention.sync_log_days", 30)
	v.SetDefault("retention.stale_integration_days", 30)

	v.SetDefault("ical.max_bytes", int64(10<<20))
	v.SetDefault("ical.fetch_timeout", 30*time.Second)
	v.SetDefault("ical.export_window_days", 365)
}

// BindEnv wires environment overrides onto v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file at path and returns the validated config.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates whatever v currently holds.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
