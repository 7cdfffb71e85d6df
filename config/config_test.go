package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			Backend:          "docker",
			TimeoutSec:       10,
			MemoryMB:         512,
			WorkDir:          "/workdir",
			PollIntervalMS:   100,
			BufferLimitBytes: 1 << 20,
			AggregateFactor:  10,
			BusCapacity:      100,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.validate())
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "grpc"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("UnsupportedBackend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "firecracker"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported sandbox.backend")
	})

	t.Run("SupportedBackends", func(t *testing.T) {
		for _, backend := range []string{"docker", "podman", "dockerapi", "memory"} {
			t.Run(backend, func(t *testing.T) {
				cfg := validConfig()
				cfg.Sandbox.Backend = backend
				assert.NoError(t, cfg.validate())
			})
		}
	})

	t.Run("NonPositiveLimits", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*Config)
		}{
			{"ZeroTimeout", func(c *Config) { c.Sandbox.TimeoutSec = 0 }},
			{"NegativeMemory", func(c *Config) { c.Sandbox.MemoryMB = -1 }},
			{"ZeroPollInterval", func(c *Config) { c.Sandbox.PollIntervalMS = 0 }},
			{"ZeroBufferLimit", func(c *Config) { c.Sandbox.BufferLimitBytes = 0 }},
			{"ZeroAggregateFactor", func(c *Config) { c.Sandbox.AggregateFactor = 0 }},
			{"ZeroBusCapacity", func(c *Config) { c.Sandbox.BusCapacity = 0 }},
			{"NegativeMaxParallel", func(c *Config) { c.Sandbox.MaxParallel = -1 }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cfg := validConfig()
				tt.mutate(cfg)
				assert.Error(t, cfg.validate())
			})
		}
	})
}

func TestConfigDurations(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 10*time.Second, cfg.GetTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetPollInterval())
}
