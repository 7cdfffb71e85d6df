package sandbox

import "time"

// Default configuration values.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMemoryMB = 512
	DefaultWorkDir  = "/workdir"
)

// Mount is a single bind mount into the sandbox.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Config describes one sandbox run. It is a value type and is treated as
// immutable once constructed: the With* methods return modified copies.
type Config struct {
	// Image is the backend image or environment identifier.
	Image string
	// Command is the argv of the candidate program.
	Command []string
	// WorkDir is the working directory inside the sandbox.
	WorkDir string
	// Env holds extra environment variables.
	Env map[string]string
	// Stdin is delivered in full before output monitoring starts.
	Stdin []byte
	// Timeout is the wall-clock limit. Zero means DefaultTimeout.
	Timeout time.Duration
	// MemoryMB is the memory ceiling. Zero means DefaultMemoryMB.
	MemoryMB int64
	// Mount optionally binds a host path into the sandbox.
	Mount *Mount
}

// NewConfig creates a Config for running command in image with defaults
// applied for everything else.
func NewConfig(image string, command []string) Config {
	return Config{
		Image:    image,
		Command:  command,
		WorkDir:  DefaultWorkDir,
		Timeout:  DefaultTimeout,
		MemoryMB: DefaultMemoryMB,
	}
}

// WithWorkDir returns a copy with the working directory set.
func (c Config) WithWorkDir(dir string) Config {
	c.WorkDir = dir
	return c
}

// WithEnv returns a copy with one environment variable added.
func (c Config) WithEnv(key, value string) Config {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[key] = value
	c.Env = env
	return c
}

// WithStdin returns a copy with the test input set.
func (c Config) WithStdin(stdin []byte) Config {
	c.Stdin = stdin
	return c
}

// WithTimeout returns a copy with the wall-clock limit set.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithMemoryMB returns a copy with the memory ceiling set.
func (c Config) WithMemoryMB(mb int64) Config {
	c.MemoryMB = mb
	return c
}

// WithMount returns a copy with the bind mount set.
func (c Config) WithMount(source, target string, readOnly bool) Config {
	c.Mount = &Mount{Source: source, Target: target, ReadOnly: readOnly}
	return c
}

// Validate checks the configuration without mutating it.
func (c Config) Validate() error {
	if c.Image == "" {
		return &ConfigError{Field: "image", Reason: "required"}
	}
	if len(c.Command) == 0 {
		return &ConfigError{Field: "command", Reason: "required"}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "timeout", Reason: "must not be negative"}
	}
	if c.MemoryMB < 0 {
		return &ConfigError{Field: "memory_mb", Reason: "must not be negative"}
	}
	return nil
}

// normalized returns a copy with defaults applied for zero values.
func (c Config) normalized() Config {
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MemoryMB == 0 {
		c.MemoryMB = DefaultMemoryMB
	}
	return c
}
