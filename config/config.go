package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds execution-engine configuration.
type SandboxConfig struct {
	// Backend selects the runtime provider: docker, podman, dockerapi or memory.
	Backend string `mapstructure:"backend"`
	// ProfilePath optionally points to a YAML file of language profiles.
	ProfilePath string `mapstructure:"profile_path"`
	// TimeoutSec is the default wall-clock limit per sandbox.
	TimeoutSec int `mapstructure:"timeout_sec"`
	// MemoryMB is the default memory ceiling per sandbox.
	MemoryMB int64 `mapstructure:"memory_mb"`
	// WorkDir is the working directory inside the sandbox.
	WorkDir string `mapstructure:"work_dir"`
	// PollIntervalMS is the monitor's poll tick in milliseconds.
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	// BufferLimitBytes caps the output kept per sandbox.
	BufferLimitBytes int64 `mapstructure:"buffer_limit_bytes"`
	// AggregateFactor caps total buffered output at factor * per-sandbox cap.
	AggregateFactor int64 `mapstructure:"aggregate_factor"`
	// FailFast cancels remaining sandboxes on the first failure.
	FailFast bool `mapstructure:"fail_fast"`
	// MaxParallel bounds concurrent sandboxes; zero means unlimited.
	MaxParallel int `mapstructure:"max_parallel"`
	// BusCapacity is the per-sandbox message channel capacity.
	BusCapacity int `mapstructure:"bus_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration.
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("sandbox.backend", "docker")
	viper.SetDefault("sandbox.profile_path", "")
	viper.SetDefault("sandbox.timeout_sec", 10)
	viper.SetDefault("sandbox.memory_mb", 512)
	viper.SetDefault("sandbox.work_dir", "/workdir")
	viper.SetDefault("sandbox.poll_interval_ms", 100)
	viper.SetDefault("sandbox.buffer_limit_bytes", 1<<20)
	viper.SetDefault("sandbox.aggregate_factor", 10)
	viper.SetDefault("sandbox.fail_fast", false)
	viper.SetDefault("sandbox.max_parallel", 0)
	viper.SetDefault("sandbox.bus_capacity", 100)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid.
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	supportedBackends := map[string]bool{
		"docker":    true,
		"podman":    true,
		"dockerapi": true,
		"memory":    true,
	}
	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}
	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}
	if c.Sandbox.PollIntervalMS <= 0 {
		return fmt.Errorf("sandbox.poll_interval_ms must be positive, got: %d", c.Sandbox.PollIntervalMS)
	}
	if c.Sandbox.BufferLimitBytes <= 0 {
		return fmt.Errorf("sandbox.buffer_limit_bytes must be positive, got: %d", c.Sandbox.BufferLimitBytes)
	}
	if c.Sandbox.AggregateFactor <= 0 {
		return fmt.Errorf("sandbox.aggregate_factor must be positive, got: %d", c.Sandbox.AggregateFactor)
	}
	if c.Sandbox.BusCapacity <= 0 {
		return fmt.Errorf("sandbox.bus_capacity must be positive, got: %d", c.Sandbox.BusCapacity)
	}
	if c.Sandbox.MaxParallel < 0 {
		return fmt.Errorf("sandbox.max_parallel must not be negative, got: %d", c.Sandbox.MaxParallel)
	}

	return nil
}

// GetTimeout returns the default execution timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetPollInterval returns the monitor poll tick as a duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Sandbox.PollIntervalMS) * time.Millisecond
}
