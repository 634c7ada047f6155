package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App            AppConfig            `yaml:"app"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	SecondaryStore SecondaryStoreConfig `yaml:"secondary_store"`
	Sync           SyncConfig           `yaml:"sync"`
	Migration      MigrationConfig      `yaml:"migration"`
	Tips           TipsConfig           `yaml:"tips"`
	Backup         BackupConfig         `yaml:"backup"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Logging        LoggingConfig        `yaml:"logging"`
	API            APIConfig            `yaml:"api"`
	Exports        ExportConfig         `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig is optional; an empty address keeps migration progress in memory.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SecondaryStoreConfig configures the MongoDB mirror.
type SecondaryStoreConfig struct {
	Enabled bool          `yaml:"enabled"`
	URI     string        `yaml:"uri"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepWindow   time.Duration `yaml:"sweep_window"`
	MaxRetries    int           `yaml:"max_retries"`
}

type MigrationConfig struct {
	ProgressEvery int           `yaml:"progress_every"`
	SampleSize    int           `yaml:"sample_size"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	PageSize      int           `yaml:"page_size"`
}

type TipsConfig struct {
	BaseURL string `yaml:"base_url"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey grants a named caller a set of permissions ("read", "write",
// "migrate", "*").
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML file at configPath after loading an optional .env file
// and expanding ${VAR} references.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.SecondaryStore.Enabled {
		if c.SecondaryStore.URI == "" {
			return errors.New("secondary_store.uri is required when the secondary store is enabled")
		}
		if c.SecondaryStore.Name == "" {
			return errors.New("secondary_store.name is required when the secondary store is enabled")
		}
	}
	if c.Migration.ProgressEvery < 0 || c.Migration.SampleSize < 0 {
		return errors.New("migration settings must not be negative")
	}

	seen := make(map[string]bool)
	for _, k := range c.API.Auth.APIKeys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key %q has an empty key", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for %q", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "captain-crm"
	}
	if c.SecondaryStore.Name == "" {
		c.SecondaryStore.Name = "captain_crm"
	}
	if c.SecondaryStore.Timeout == 0 {
		c.SecondaryStore.Timeout = 5 * time.Second
	}

	if c.Sync.SweepInterval == 0 {
		c.Sync.SweepInterval = 5 * time.Minute
	}
	if c.Sync.SweepWindow == 0 {
		c.Sync.SweepWindow = time.Hour
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 5
	}

	if c.Migration.ProgressEvery == 0 {
		c.Migration.ProgressEvery = 10
	}
	if c.Migration.SampleSize == 0 {
		c.Migration.SampleSize = 5
	}
	if c.Migration.LockTTL == 0 {
		c.Migration.LockTTL = 10 * time.Minute
	}
	if c.Migration.PageSize == 0 {
		c.Migration.PageSize = 100
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 60 * time.Second
	}
	if c.API.HTTP.ShutdownTimeout == 0 {
		c.API.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "./backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
