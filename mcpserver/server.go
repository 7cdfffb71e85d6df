package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tatehito/sandrun/config"
	"github.com/tatehito/sandrun/runtime"
	"github.com/tatehito/sandrun/sandbox"
)

// Runner is the execution surface the server depends on. *sandbox.Executor
// satisfies it.
type Runner interface {
	Execute(ctx context.Context, configs []sandbox.Config) []sandbox.Result
	ExecuteFailFast(ctx context.Context, configs []sandbox.Config) []sandbox.Result
	Cleanup(ctx context.Context) error
}

// FileSystem abstracts the host filesystem operations used to stage source
// files for mounting.
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem with the os package.
type RealFileSystem struct{}

// MkdirTemp creates a temporary directory.
func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

// WriteFile writes data to a file.
func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

// RemoveAll removes a path and its children.
func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	runner    Runner
	profiles  runtime.Profiles
	fs        FileSystem
	mcpServer *server.MCPServer
}

// Option defines a functional option for MCPServer.
type Option func(*MCPServer)

// WithFileSystem sets the FileSystem used to stage source files.
func WithFileSystem(fs FileSystem) Option {
	return func(s *MCPServer) {
		s.fs = fs
	}
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner Runner, profiles runtime.Profiles, opts ...Option) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		runner:   runner,
		profiles: profiles,
		fs:       RealFileSystem{},
	}
	for _, opt := range opts {
		opt(s)
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Int64("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Bool("sandbox.fail_fast", s.config.Sandbox.FailFast),
	)

	s.mcpServer = server.NewMCPServer("sandrun", "A sandboxed code execution server")

	s.registerRunSandboxedTool()

	return s, nil
}

// runRequest is one entry in the run_sandboxed "runs" array.
type runRequest struct {
	Language   string            `json:"language"`
	Code       string            `json:"code"`
	Image      string            `json:"image"`
	Command    []string          `json:"command"`
	Stdin      string            `json:"stdin"`
	WorkDir    string            `json:"workdir"`
	Env        map[string]string `json:"env"`
	TimeoutSec int               `json:"timeout_sec"`
	MemoryMB   int64             `json:"memory_mb"`
}

// runResponse is the JSON result reported per run.
type runResponse struct {
	SandboxID       string `json:"sandbox_id"`
	Status          string `json:"status"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	DurationMS      int64  `json:"duration_ms"`
	PeakMemoryBytes int64  `json:"peak_memory_bytes"`
	Error           string `json:"error,omitempty"`
}

// registerRunSandboxedTool registers the run_sandboxed tool
func (s *MCPServer) registerRunSandboxedTool() {
	tool := mcp.Tool{
		Name:        "run_sandboxed",
		Description: "Run one or more untrusted programs in isolated sandboxes and return their results in order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"runs": map[string]any{
					"type":        "array",
					"description": "Programs to run in parallel. Each entry is either {language, code} for a configured language profile, or {image, command} for a raw image run.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"language": map[string]any{
								"type":        "string",
								"description": "Language profile name (e.g. python, cpp, rust)",
							},
							"code": map[string]any{
								"type":        "string",
								"description": "Source code to run, used with language",
							},
							"image": map[string]any{
								"type":        "string",
								"description": "Container image, used with command",
							},
							"command": map[string]any{
								"type":        "array",
								"description": "Command to execute, used with image",
								"items":       map[string]any{"type": "string"},
							},
							"stdin": map[string]any{
								"type":        "string",
								"description": "Input delivered to the program before it runs",
							},
							"workdir": map[string]any{
								"type":        "string",
								"description": "Working directory inside the sandbox",
							},
							"env": map[string]any{
								"type":        "object",
								"description": "Extra environment variables",
							},
							"timeout_sec": map[string]any{
								"type":        "integer",
								"description": "Wall-clock limit, defaults to the server's sandbox.timeout_sec",
							},
							"memory_mb": map[string]any{
								"type":        "integer",
								"description": "Memory ceiling, defaults to the server's sandbox.memory_mb",
							},
						},
					},
				},
				"fail_fast": map[string]any{
					"type":        "boolean",
					"description": "Cancel remaining runs once one fails",
				},
			},
			Required: []string{"runs"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunSandboxed)
}

// handleRunSandboxed handles the run_sandboxed tool
func (s *MCPServer) handleRunSandboxed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawRuns, ok := request.GetArguments()["runs"]
	if !ok {
		return nil, fmt.Errorf("runs parameter is required")
	}

	// Round-trip through JSON to decode the loosely typed argument map.
	encoded, err := json.Marshal(rawRuns)
	if err != nil {
		return nil, fmt.Errorf("invalid runs parameter: %w", err)
	}
	var runs []runRequest
	if err := json.Unmarshal(encoded, &runs); err != nil {
		return nil, fmt.Errorf("invalid runs parameter: %w", err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("runs must not be empty")
	}

	failFast := request.GetBool("fail_fast", false)

	s.logger.Info("execution requested", zap.Int("runs", len(runs)), zap.Bool("fail_fast", failFast))

	configs := make([]sandbox.Config, len(runs))
	var staged []string
	defer func() {
		for _, dir := range staged {
			if rerr := s.fs.RemoveAll(dir); rerr != nil {
				s.logger.Warn("failed to remove staging directory", zap.String("dir", dir), zap.Error(rerr))
			}
		}
	}()

	for i, run := range runs {
		cfg, dir, cerr := s.buildConfig(run)
		if dir != "" {
			staged = append(staged, dir)
		}
		if cerr != nil {
			return toolError(fmt.Sprintf("run %d: %v", i, cerr)), nil
		}
		configs[i] = cfg
	}

	var results []sandbox.Result
	if failFast {
		results = s.runner.ExecuteFailFast(ctx, configs)
	} else {
		results = s.runner.Execute(ctx, configs)
	}

	responses := make([]runResponse, len(results))
	for i, res := range results {
		responses[i] = runResponse{
			SandboxID:       res.SandboxID,
			Status:          res.Status.String(),
			ExitCode:        res.ExitCode,
			Stdout:          string(res.Stdout),
			Stderr:          string(res.Stderr),
			DurationMS:      res.Duration.Milliseconds(),
			PeakMemoryBytes: res.PeakMemoryBytes,
		}
		if res.Err != nil {
			responses[i].Error = res.Err.Error()
		}
		s.logger.Info("run completed",
			zap.String("sandbox_id", res.SandboxID),
			zap.String("status", res.Status.String()),
			zap.Int("exit_code", res.ExitCode))
	}

	encodedResults, err := json.Marshal(responses)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(encodedResults),
			},
		},
	}, nil
}

// buildConfig turns one run request into a sandbox Config. For language
// runs the source is staged in a temp directory that is mounted read-only
// into the sandbox; the returned directory is cleaned up by the caller.
func (s *MCPServer) buildConfig(run runRequest) (sandbox.Config, string, error) {
	timeout := s.config.GetTimeout()
	if run.TimeoutSec > 0 {
		timeout = time.Duration(run.TimeoutSec) * time.Second
	}
	memoryMB := s.config.Sandbox.MemoryMB
	if run.MemoryMB > 0 {
		memoryMB = run.MemoryMB
	}

	if run.Language == "" {
		if run.Image == "" || len(run.Command) == 0 {
			return sandbox.Config{}, "", fmt.Errorf("either language+code or image+command is required")
		}
		workDir := run.WorkDir
		if workDir == "" {
			workDir = s.config.Sandbox.WorkDir
		}
		cfg := sandbox.NewConfig(run.Image, run.Command).
			WithWorkDir(workDir).
			WithTimeout(timeout).
			WithMemoryMB(memoryMB).
			WithStdin([]byte(run.Stdin))
		for key, value := range run.Env {
			cfg = cfg.WithEnv(key, value)
		}
		return cfg, "", nil
	}

	profile, err := s.profiles.Get(run.Language)
	if err != nil {
		return sandbox.Config{}, "", err
	}
	if run.Code == "" {
		return sandbox.Config{}, "", fmt.Errorf("code is required for language runs")
	}

	dir, err := s.fs.MkdirTemp("", "sandrun-")
	if err != nil {
		return sandbox.Config{}, "", fmt.Errorf("stage source: %w", err)
	}
	filename := "main" + profile.FileExtension
	if err := s.fs.WriteFile(filepath.Join(dir, filename), []byte(run.Code), 0o644); err != nil {
		return sandbox.Config{}, dir, fmt.Errorf("stage source: %w", err)
	}

	workDir := run.WorkDir
	if workDir == "" {
		workDir = profile.WorkDir
	}
	if workDir == "" {
		workDir = s.config.Sandbox.WorkDir
	}
	command := make([]string, len(profile.Command))
	for i, part := range profile.Command {
		command[i] = strings.ReplaceAll(part, "{file}", filename)
	}

	cfg := sandbox.NewConfig(profile.Image, command).
		WithWorkDir(workDir).
		WithTimeout(timeout).
		WithMemoryMB(memoryMB).
		WithStdin([]byte(run.Stdin)).
		WithMount(dir, workDir, true)
	for key, value := range run.Env {
		cfg = cfg.WithEnv(key, value)
	}
	return cfg, dir, nil
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
