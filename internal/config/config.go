package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	StorePath string `yaml:"store_path"`
	LogLevel  string `yaml:"log_level"`

	Pool     PoolConfig     `yaml:"pool"`
	Sync     SyncConfig     `yaml:"sync"`
	Security SecurityConfig `yaml:"security"`

	Connections []ConnectionConfig `yaml:"connections"`
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	Capacity             int     `yaml:"capacity"`
	RetryMaxAttempts     int     `yaml:"retry_max_attempts"`
	RetryBaseSeconds     float64 `yaml:"retry_base_seconds"`
	RetryFactor          float64 `yaml:"retry_factor"`
	HealthIntervalSecs   int     `yaml:"health_interval_seconds"`
	IdleSweepSecs        int     `yaml:"idle_sweep_seconds"`
	IdleTimeoutSecs      int     `yaml:"idle_timeout_seconds"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	PausePollSeconds float64 `yaml:"pause_poll_seconds"`
}

// SecurityConfig tunes the message security classifier.
type SecurityConfig struct {
	ProbeTimeoutSeconds float64 `yaml:"probe_timeout_seconds"`
}

// ConnectionConfig holds the credentials for one IMAP endpoint.
type ConnectionConfig struct {
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	InsecureTLS bool   `yaml:"insecure_tls"`
}

// RetryBase returns the base delay of the connect retry backoff.
func (p PoolConfig) RetryBase() time.Duration {
	return time.Duration(p.RetryBaseSeconds * float64(time.Second))
}

// HealthInterval returns the period of the health check sweep.
func (p PoolConfig) HealthInterval() time.Duration {
	return time.Duration(p.HealthIntervalSecs) * time.Second
}

// IdleSweepInterval returns the period of the idle cleanup sweep.
func (p PoolConfig) IdleSweepInterval() time.Duration {
	return time.Duration(p.IdleSweepSecs) * time.Second
}

// IdleTimeout returns how long a connection may sit unused before the idle
// sweep closes it.
func (p PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutSecs) * time.Second
}

// PausePoll returns the interval at which a paused task re-checks its state.
func (s SyncConfig) PausePoll() time.Duration {
	return time.Duration(s.PausePollSeconds * float64(time.Second))
}

// ProbeTimeout returns the per-probe timeout of the classifier.
func (s SecurityConfig) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutSeconds * float64(time.Second))
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		StorePath: getEnv("INBOXLY_STORE_PATH", "/data/inboxly.db"),
		LogLevel:  getEnv("INBOXLY_LOG_LEVEL", "info"),
		Pool: PoolConfig{
			Capacity:           20,
			RetryMaxAttempts:   5,
			RetryBaseSeconds:   2,
			RetryFactor:        1.5,
			HealthIntervalSecs: 30,
			IdleSweepSecs:      60,
			IdleTimeoutSecs:    300,
		},
		Sync: SyncConfig{
			PausePollSeconds: 1,
		},
		Security: SecurityConfig{
			ProbeTimeoutSeconds: 5,
		},
	}
}

// Load loads configuration defaults, applies the YAML file at path when path
// is non-empty, and finally applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.StorePath = getEnv("INBOXLY_STORE_PATH", cfg.StorePath)
	cfg.LogLevel = getEnv("INBOXLY_LOG_LEVEL", cfg.LogLevel)
	cfg.Pool.Capacity = getEnvInt("INBOXLY_POOL_CAPACITY", cfg.Pool.Capacity)
	cfg.Pool.RetryMaxAttempts = getEnvInt("INBOXLY_RETRY_MAX_ATTEMPTS", cfg.Pool.RetryMaxAttempts)

	for i := range cfg.Connections {
		applyDefaults(&cfg.Connections[i])
	}

	return cfg, nil
}

// applyDefaults fills in implied connection fields.
func applyDefaults(c *ConnectionConfig) {
	if c.Port == 0 {
		c.Port = 993
	}
	if c.Port == 993 {
		c.TLS = true
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("%s@%s", c.User, c.Host)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool capacity must be at least 1")
	}
	if c.Pool.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be at least 1")
	}
	if c.Pool.RetryFactor < 1 {
		return fmt.Errorf("retry_factor must be at least 1")
	}
	if c.Sync.PausePollSeconds <= 0 {
		return fmt.Errorf("pause_poll_seconds must be positive")
	}
	if c.Security.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("probe_timeout_seconds must be positive")
	}

	for i := range c.Connections {
		if err := c.Connections[i].Validate(); err != nil {
			return fmt.Errorf("connection %d: %w", i+1, err)
		}
	}

	return nil
}

// Validate checks that all fields required to establish a session are set.
func (c *ConnectionConfig) Validate() error {
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// GetConnectionByName finds a connection config by name.
func (c *Config) GetConnectionByName(name string) (*ConnectionConfig, error) {
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			return &c.Connections[i], nil
		}
	}
	return nil, fmt.Errorf("connection not found: %s", name)
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
