// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
	"github.com/JakeFAU/site-health-crawler/internal/retention"
)

// EnvPrefix namespaces environment overrides, e.g. SITEHEALTH_DB_DSN.
const EnvPrefix = "SITEHEALTH"

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Crawl       CrawlConfig       `mapstructure:"crawl"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	DB          DBConfig          `mapstructure:"db"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	CORSOrigins        []string      `mapstructure:"cors_origins"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// CrawlConfig governs the scheduler, probe and retention.
type CrawlConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Retention    int           `mapstructure:"retention"`
	Concurrency  int           `mapstructure:"concurrency"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	HealthPath   string        `mapstructure:"health_path"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
	PerHostRPS   float64       `mapstructure:"per_host_rps"`
	PerHostBurst int           `mapstructure:"per_host_burst"`
}

// CredentialsConfig holds the secret app passwords are sealed with.
type CredentialsConfig struct {
	Secret string `mapstructure:"secret"`
}

// DBConfig selects and tunes the persistence backend.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig controls optional raw report archiving.
type ArchiveConfig struct {
	Provider        string `mapstructure:"provider"`
	Prefix          string `mapstructure:"prefix"`
	BaseDir         string `mapstructure:"base_dir"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// PubSubConfig holds metadata for result event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("crawl.interval", "1m")
	v.SetDefault("crawl.retention", retention.DefaultKeep)
	v.SetDefault("crawl.concurrency", 1)
	v.SetDefault("crawl.probe_timeout", "10s")
	v.SetDefault("crawl.health_path", crawler.DefaultHealthPath)
	v.SetDefault("crawl.user_agent", "site-health-crawler/1.0")
	v.SetDefault("crawl.max_body_bytes", 1<<20)
	v.SetDefault("crawl.run_on_start", true)
	v.SetDefault("crawl.per_host_rps", 0)
	v.SetDefault("crawl.per_host_burst", 1)
	v.SetDefault("credentials.secret", "")
	v.SetDefault("db.driver", DriverMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "reports")
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.credentials_file", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "site-health-results")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", false)
}

func (c *Config) normalize() {
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.Archive.Provider = strings.ToLower(strings.TrimSpace(c.Archive.Provider))
	if c.Archive.Provider == "" {
		c.Archive.Provider = ArchiveNone
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("server.rate_limit_per_minute must be >= 0"))
	}
	if c.Crawl.Interval <= 0 {
		errs = append(errs, errors.New("crawl.interval must be > 0"))
	}
	if c.Crawl.Retention < 1 {
		errs = append(errs, errors.New("crawl.retention must be >= 1"))
	}
	if c.Crawl.Concurrency < 1 {
		errs = append(errs, errors.New("crawl.concurrency must be >= 1"))
	}
	if c.Crawl.PerHostRPS < 0 {
		errs = append(errs, errors.New("crawl.per_host_rps must be >= 0"))
	}
	if c.Crawl.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("crawl.probe_timeout must be > 0"))
	}
	if !strings.HasPrefix(c.Crawl.HealthPath, "/") {
		errs = append(errs, errors.New("crawl.health_path must start with /"))
	}
	if strings.TrimSpace(c.Credentials.Secret) == "" {
		errs = append(errs, errors.New("credentials.secret is required"))
	}
	switch c.DB.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, fmt.Errorf("db.dsn is required for driver %q", c.DB.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("db.driver must be one of memory, sqlite, postgres; got %q", c.DB.Driver))
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir is required for the local provider"))
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			errs = append(errs, errors.New("archive.gcs_bucket is required for the gcs provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.provider must be one of none, memory, local, gcs; got %q", c.Archive.Provider))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic are required when pubsub is enabled"))
	}
	return errors.Join(errs...)
}
