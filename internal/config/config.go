package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "DOCINTAKE_CONFIG"
	EnvAddress    = "DOCINTAKE_ADDR"
	EnvDatabase   = "DOCINTAKE_DB"

	DefaultServerAddress       = ":8090"
	DefaultParseTimeoutSeconds = 30
	DefaultMaxMemoryMB         = 32
	DefaultCommitChannel       = "docintake:committed"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Batch       BatchConfig               `json:"batch" yaml:"batch"`
	Session     SessionConfig             `json:"session" yaml:"session"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	LogLevel      string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// MaxMemoryMB is how much of a multipart upload is held in memory
	// before spilling to temp files.
	MaxMemoryMB int `json:"max_memory_mb" yaml:"max_memory_mb" validate:"gte=0"`
}

type BatchConfig struct {
	MaxBatchCount       int     `json:"max_batch_count" yaml:"max_batch_count" validate:"gt=0"`
	MaxBatchSizeMB      float64 `json:"max_batch_size_mb" yaml:"max_batch_size_mb" validate:"gt=0"`
	ParseWorkers        int     `json:"parse_workers" yaml:"parse_workers" validate:"gte=0"`
	ParseTimeoutSeconds int     `json:"parse_timeout_seconds" yaml:"parse_timeout_seconds" validate:"gte=0"`
}

type SessionConfig struct {
	TTLMinutes           int `json:"session_ttl_minutes" yaml:"session_ttl_minutes" validate:"gt=0"`
	SweepIntervalMinutes int `json:"sweep_interval_minutes" yaml:"sweep_interval_minutes" validate:"gte=0"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

// RedisConfig enables the commit hand-off when Host is set.
type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
	Channel  string `json:"channel" yaml:"channel"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

func (s SessionConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalMinutes) * time.Minute
}

func (b BatchConfig) ParseTimeout() time.Duration {
	return time.Duration(b.ParseTimeoutSeconds) * time.Second
}

// Load reads configuration from the provided path (defaults to config.json,
// or $DOCINTAKE_CONFIG). Files ending in .yaml or .yml are read as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	default:
		err = json.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if addr := os.Getenv(EnvAddress); addr != "" {
		cfg.BasicConfig.ServerAddress = addr
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for name, db := range cfg.Databases {
		if db.DSN == "" || !isSQLite(name) || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.LogLevel == "" {
		c.BasicConfig.LogLevel = "info"
	}
	if c.BasicConfig.MaxMemoryMB == 0 {
		c.BasicConfig.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if c.Batch.ParseWorkers == 0 {
		c.Batch.ParseWorkers = runtime.NumCPU()
	}
	if c.Batch.ParseTimeoutSeconds == 0 {
		c.Batch.ParseTimeoutSeconds = DefaultParseTimeoutSeconds
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = DefaultCommitChannel
	}
}

// Validate checks the limits the service cannot start without. Batch limits
// and session TTL have no defaults and must be configured.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", e.Namespace(), e.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
