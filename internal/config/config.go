package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	ERP      ERPConfig      `yaml:"erp"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Backup   BackupConfig   `yaml:"backup"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ERPConfig contains remote endpoint settings. The session credential is
// env-only; the request timeout bounds every call so a hung endpoint cannot
// pin a sync pass.
type ERPConfig struct {
	BaseURL        string   `yaml:"base_url"`
	SID            string   `yaml:"-"` // env-only, never in YAML
	RequestTimeout Duration `yaml:"request_timeout"`
}

// AuthConfig contains token issuance settings.
type AuthConfig struct {
	TokenSecret    string   `yaml:"-"` // env-only, never in YAML
	TokenTTL       Duration `yaml:"token_ttl"`
	GoogleClientID string   `yaml:"google_client_id"`
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	Interval          Duration `yaml:"interval"`
	InboundBatchSize  int      `yaml:"inbound_batch_size"`
	InboundMaxRecords int      `yaml:"inbound_max_records"`
}

// BackupConfig contains snapshot generation and S3 upload settings.
// An empty bucket disables the upload and keeps snapshots local-only.
type BackupConfig struct {
	SnapshotInterval Duration `yaml:"snapshot_interval"`
	Endpoint         string   `yaml:"endpoint"`
	Bucket           string   `yaml:"bucket"`
	Region           string   `yaml:"region"`
	AccessKey        string   `yaml:"-"` // env-only, never in YAML
	SecretKey        string   `yaml:"-"` // env-only, never in YAML
	UseSSL           *bool    `yaml:"use_ssl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("ERPBRIDGE_CONFIG_PATH", "config/erpbridge.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/erpbridge.db",
		},
		ERP: ERPConfig{
			RequestTimeout: Duration(30 * time.Second),
		},
		Auth: AuthConfig{
			TokenTTL: Duration(30 * time.Minute),
		},
		Sync: SyncConfig{
			Interval:          Duration(1 * time.Minute),
			InboundBatchSize:  500,
			InboundMaxRecords: 35000,
		},
		Backup: BackupConfig{
			SnapshotInterval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("ERPBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ERPBRIDGE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("ERPBRIDGE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("ERPBRIDGE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("ERPBRIDGE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// ERP endpoint
	if v := os.Getenv("ERPBRIDGE_ERP_URL"); v != "" {
		cfg.ERP.BaseURL = v
	}
	if v := os.Getenv("ERPBRIDGE_ERP_SID"); v != "" {
		cfg.ERP.SID = v
	}
	if v := os.Getenv("ERPBRIDGE_ERP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ERP.RequestTimeout = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("ERPBRIDGE_TOKEN_SECRET"); v != "" {
		cfg.Auth.TokenSecret = v
	}
	if v := os.Getenv("ERPBRIDGE_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.TokenTTL = Duration(d)
		}
	}
	if v := os.Getenv("ERPBRIDGE_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}

	// Sync
	if v := os.Getenv("ERPBRIDGE_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("ERPBRIDGE_INBOUND_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.InboundBatchSize = n
		}
	}
	if v := os.Getenv("ERPBRIDGE_INBOUND_MAX_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.InboundMaxRecords = n
		}
	}

	// Backup
	if v := os.Getenv("ERPBRIDGE_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.SnapshotInterval = Duration(d)
		}
	}
	if v := os.Getenv("ERPBRIDGE_S3_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("ERPBRIDGE_S3_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("ERPBRIDGE_S3_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("ERPBRIDGE_S3_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("ERPBRIDGE_S3_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("ERPBRIDGE_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Backup.UseSSL = &useSSL
	}

	// Log
	if v := os.Getenv("ERPBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ERPBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (ERPBRIDGE_DEV_MODE=true), credential validation is skipped;
// timing values are checked unconditionally because a zero request timeout
// would let a hung remote call stall the sync pass forever.
func (c *Config) validate() error {
	if c.ERP.RequestTimeout <= 0 {
		return errors.New("erp request_timeout must be positive")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.Sync.InboundBatchSize <= 0 {
		return errors.New("sync inbound_batch_size must be positive")
	}

	// Dev mode bypasses credential validation
	if os.Getenv("ERPBRIDGE_DEV_MODE") == "true" {
		return nil
	}

	if c.ERP.BaseURL == "" {
		return errors.New("erp base_url is required (set erp.base_url or ERPBRIDGE_ERP_URL)")
	}
	if c.ERP.SID == "" {
		return errors.New("ERPBRIDGE_ERP_SID is required")
	}
	if c.Auth.TokenSecret == "" {
		return errors.New("ERPBRIDGE_TOKEN_SECRET is required")
	}
	if c.Auth.GoogleClientID == "" {
		return errors.New("google_client_id is required (set auth.google_client_id or ERPBRIDGE_GOOGLE_CLIENT_ID)")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
