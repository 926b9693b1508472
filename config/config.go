// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/metergate/domain/cost"
	"github.com/artpar/metergate/domain/quota"
	"github.com/artpar/metergate/domain/retention"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Limits    LimitsConfig     `yaml:"limits"`
	Providers []ProviderConfig `yaml:"providers"`
	Retention RetentionConfig  `yaml:"retention"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the persistent store.
type DatabaseConfig struct {
	Driver  string        `yaml:"driver"` // "sqlite", "mongo", or "memory"
	DSN     string        `yaml:"dsn"`    // file path (sqlite) or connection URI (mongo)
	Name    string        `yaml:"name"`   // database name (mongo only)
	Timeout time.Duration `yaml:"timeout"`
}

// LimitsConfig configures admission windows. Hot-reloadable.
type LimitsConfig struct {
	Cooldown         time.Duration `yaml:"cooldown"`
	DailyLimit       int64         `yaml:"daily_limit"`
	MonthlyLimit     int64         `yaml:"monthly_limit"`
	IPHourlyLimit    int64         `yaml:"ip_hourly_limit"`
	FinalizeLookback time.Duration `yaml:"finalize_lookback"`
}

// ProviderConfig configures one AI provider's per-token rate.
// Hot-reloadable.
type ProviderConfig struct {
	Name         string  `yaml:"name"`
	CostPerToken float64 `yaml:"cost_per_token"`
}

// RetentionConfig configures the lifecycle run.
type RetentionConfig struct {
	// Schedule is a cron expression for in-process runs; empty disables
	// the internal scheduler (HTTP trigger only).
	Schedule string `yaml:"schedule"`

	// TriggerToken guards the HTTP trigger endpoint.
	TriggerToken string `yaml:"trigger_token"`

	// UsageRetentionDays expires usage ledger entries; 0 keeps forever.
	UsageRetentionDays int `yaml:"usage_retention_days"`

	Policies []PolicyConfig `yaml:"policies"`
}

// PolicyConfig configures one managed collection's lifecycle.
type PolicyConfig struct {
	Name               string `yaml:"name"`
	Collection         string `yaml:"collection"`
	Kind               string `yaml:"kind"` // "events", "series", or "snapshots"
	RetentionDays      int    `yaml:"retention_days"`
	AggregateAfterDays int    `yaml:"aggregate_after_days"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables referenced in the file
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies METERGATE_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METERGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("METERGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("METERGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("METERGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("METERGATE_DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}

	if v := os.Getenv("METERGATE_LIMITS_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Limits.Cooldown = d
		}
	}
	if v := os.Getenv("METERGATE_LIMITS_DAILY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.DailyLimit = n
		}
	}
	if v := os.Getenv("METERGATE_LIMITS_MONTHLY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MonthlyLimit = n
		}
	}

	if v := os.Getenv("METERGATE_RETENTION_TOKEN"); v != "" {
		cfg.Retention.TriggerToken = v
	}
	if v := os.Getenv("METERGATE_RETENTION_SCHEDULE"); v != "" {
		cfg.Retention.Schedule = v
	}

	if v := os.Getenv("METERGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METERGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("METERGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "metergate.db"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "metergate"
	}
	if cfg.Database.Timeout == 0 {
		cfg.Database.Timeout = 5 * time.Second
	}

	if cfg.Limits.Cooldown == 0 {
		cfg.Limits.Cooldown = 30 * time.Second
	}
	if cfg.Limits.DailyLimit == 0 {
		cfg.Limits.DailyLimit = 20
	}
	if cfg.Limits.MonthlyLimit == 0 {
		cfg.Limits.MonthlyLimit = 200
	}
	if cfg.Limits.IPHourlyLimit == 0 {
		cfg.Limits.IPHourlyLimit = 60
	}
	if cfg.Limits.FinalizeLookback == 0 {
		cfg.Limits.FinalizeLookback = 60 * time.Second
	}

	if len(cfg.Providers) == 0 {
		for name, rate := range cost.DefaultTable() {
			cfg.Providers = append(cfg.Providers, ProviderConfig{Name: name, CostPerToken: rate})
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "mongo": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite', 'mongo', or 'memory', got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "mongo" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is 'mongo'")
	}

	if cfg.Limits.DailyLimit < 0 || cfg.Limits.MonthlyLimit < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if cfg.Limits.MonthlyLimit > 0 && cfg.Limits.DailyLimit > cfg.Limits.MonthlyLimit {
		return fmt.Errorf("limits.daily_limit %d exceeds limits.monthly_limit %d",
			cfg.Limits.DailyLimit, cfg.Limits.MonthlyLimit)
	}

	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if p.CostPerToken < 0 {
			return fmt.Errorf("providers[%d].cost_per_token must not be negative", i)
		}
	}

	validKinds := map[string]bool{"events": true, "series": true, "snapshots": true}
	seen := make(map[string]bool)
	for i, p := range cfg.Retention.Policies {
		if p.Name == "" {
			return fmt.Errorf("retention.policies[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("retention.policies[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.Collection == "" {
			return fmt.Errorf("retention.policies[%d].collection is required", i)
		}
		if !validKinds[p.Kind] {
			return fmt.Errorf("retention.policies[%d].kind must be 'events', 'series', or 'snapshots', got %q", i, p.Kind)
		}
		if p.RetentionDays <= 0 {
			return fmt.Errorf("retention.policies[%d].retention_days must be positive", i)
		}
		if p.AggregateAfterDays < 0 {
			return fmt.Errorf("retention.policies[%d].aggregate_after_days must not be negative", i)
		}
		if p.AggregateAfterDays > 0 && p.AggregateAfterDays >= p.RetentionDays {
			return fmt.Errorf("retention.policies[%d].aggregate_after_days must be below retention_days", i)
		}
	}

	if len(cfg.Retention.Policies) > 0 && cfg.Retention.Schedule == "" && cfg.Retention.TriggerToken == "" {
		return fmt.Errorf("retention requires a schedule or a trigger_token")
	}

	return nil
}

// QuotaLimits converts the limits section to domain limits.
func (c *Config) QuotaLimits() quota.Limits {
	return quota.Limits{
		Cooldown:      c.Limits.Cooldown,
		DailyLimit:    c.Limits.DailyLimit,
		MonthlyLimit:  c.Limits.MonthlyLimit,
		IPHourlyLimit: c.Limits.IPHourlyLimit,
	}
}

// CostTable converts the providers section to a domain rate table.
func (c *Config) CostTable() cost.Table {
	table := make(cost.Table, len(c.Providers))
	for _, p := range c.Providers {
		table[p.Name] = p.CostPerToken
	}
	return table
}

// Policies converts the retention section to domain policies.
func (c *Config) Policies() []retention.Policy {
	policies := make([]retention.Policy, len(c.Retention.Policies))
	for i, p := range c.Retention.Policies {
		policies[i] = retention.Policy{
			Name:               p.Name,
			Collection:         p.Collection,
			Kind:               retention.Kind(p.Kind),
			RetentionDays:      p.RetentionDays,
			AggregateAfterDays: p.AggregateAfterDays,
		}
	}
	return policies
}
