// Package config loads the QueryForge configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Schema    SchemaConfig    `yaml:"schema"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Memory    MemoryConfig    `yaml:"memory"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Retry     RetryConfig     `yaml:"retry"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Events    EventsConfig    `yaml:"events"`
	Temporal  TemporalConfig  `yaml:"temporal"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the lesson and session storage.
type DatabaseConfig struct {
	Type string `yaml:"type"` // "sqlite", "postgres"
	Path string `yaml:"path"` // For SQLite
	DSN  string `yaml:"dsn"`  // For Postgres
}

// SchemaConfig points at the warehouse schema definitions.
type SchemaConfig struct {
	Source string `yaml:"source"` // YAML file or directory
}

// ReasoningConfig configures the chat completion backend.
type ReasoningConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// WarehouseConfig configures the SQL warehouse queries run against.
type WarehouseConfig struct {
	Driver       string        `yaml:"driver"` // "sqlite3", "postgres"
	DSN          string        `yaml:"dsn"`
	MaxRows      int           `yaml:"max_rows"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// MemoryConfig configures the lesson stores.
type MemoryConfig struct {
	CuratedPath string `yaml:"curated_path"`
	HotReload   bool   `yaml:"hot_reload"`
}

// PipelineConfig bounds the orchestrator loops.
type PipelineConfig struct {
	MaxSQLCycles   int `yaml:"max_sql_cycles"`
	MaxCorrections int `yaml:"max_corrections"`

	// TableAmbiguityThreshold is reserved for a configurable table
	// ambiguity policy. It is validated but not consulted yet.
	TableAmbiguityThreshold float64 `yaml:"table_ambiguity_threshold"`
}

// RetryConfig controls the external-call retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      *bool         `yaml:"jitter"`
}

// SessionsConfig selects where session checkpoints live.
type SessionsConfig struct {
	Store string `yaml:"store"` // "file", "sql", "redis"
	Dir   string `yaml:"dir"`   // for the file store

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// EventsConfig configures the NATS event publisher.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TemporalConfig configures the optional Temporal worker.
type TemporalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
}

// SecurityConfig configures API authentication.
type SecurityConfig struct {
	EnableAuth bool   `yaml:"enable_auth"`
	JWTSecret  string `yaml:"jwt_secret"`
}

// Default returns a configuration with working local defaults.
func Default() *Config {
	jitter := true
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  2 * time.Minute,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "queryforge.db",
		},
		Schema: SchemaConfig{
			Source: "schema.yaml",
		},
		Reasoning: ReasoningConfig{
			Endpoint: "http://localhost:11434/v1",
			Model:    "llama3",
		},
		Warehouse: WarehouseConfig{
			Driver:       "sqlite3",
			DSN:          "warehouse.db",
			MaxRows:      1000,
			QueryTimeout: 5 * time.Minute,
		},
		Memory: MemoryConfig{
			CuratedPath: "lessons.yaml",
			HotReload:   true,
		},
		Pipeline: PipelineConfig{
			MaxSQLCycles:   3,
			MaxCorrections: 3,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    60 * time.Second,
			Jitter:      &jitter,
		},
		Sessions: SessionsConfig{
			Store: "sql",
			Dir:   "sessions",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  7 * 24 * time.Hour,
			},
		},
		Events: EventsConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "queryforge",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
		},
	}
}

// Load reads the config file, applies environment overrides, and
// validates the result. A missing file is fine, defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override file settings.
func (c *Config) applyEnv() {
	if v := os.Getenv("QUERYFORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("QUERYFORGE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("QUERYFORGE_DB_DSN"); v != "" {
		c.Database.Type = "postgres"
		c.Database.DSN = v
	}
	if v := os.Getenv("QUERYFORGE_SCHEMA_SOURCE"); v != "" {
		c.Schema.Source = v
	}
	if v := os.Getenv("QUERYFORGE_REASONING_ENDPOINT"); v != "" {
		c.Reasoning.Endpoint = v
	}
	if v := os.Getenv("QUERYFORGE_REASONING_API_KEY"); v != "" {
		c.Reasoning.APIKey = v
	}
	if v := os.Getenv("QUERYFORGE_REASONING_MODEL"); v != "" {
		c.Reasoning.Model = v
	}
	if v := os.Getenv("QUERYFORGE_WAREHOUSE_DSN"); v != "" {
		c.Warehouse.DSN = v
	}
	if v := os.Getenv("QUERYFORGE_NATS_URL"); v != "" {
		c.Events.Enabled = true
		c.Events.URL = v
	}
	if v := os.Getenv("QUERYFORGE_JWT_SECRET"); v != "" {
		c.Security.EnableAuth = true
		c.Security.JWTSecret = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database type %q", c.Database.Type)
	}
	if c.Schema.Source == "" {
		return fmt.Errorf("schema source is required")
	}
	if c.Reasoning.Endpoint == "" {
		return fmt.Errorf("reasoning endpoint is required")
	}
	if c.Pipeline.MaxSQLCycles < 1 {
		return fmt.Errorf("max_sql_cycles must be at least 1")
	}
	if c.Pipeline.MaxCorrections < 1 {
		return fmt.Errorf("max_corrections must be at least 1")
	}
	if t := c.Pipeline.TableAmbiguityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("table_ambiguity_threshold must be in [0,1]")
	}
	switch c.Sessions.Store {
	case "file", "sql", "redis":
	default:
		return fmt.Errorf("unknown session store %q", c.Sessions.Store)
	}
	if c.Security.EnableAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required when auth is enabled")
	}
	return nil
}

// JitterEnabled returns the jitter flag, defaulting to on.
func (r RetryConfig) JitterEnabled() bool {
	return r.Jitter == nil || *r.Jitter
}
