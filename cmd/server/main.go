// Package main is the entry point for the sandrun MCP server.
//
// The sandrun server implements a Model Context Protocol (MCP) server that
// executes untrusted programs in isolated sandboxes with memory, stack and
// wall-clock limits. Batches run in parallel with per-run isolation, and
// the server supports both stdio and HTTP transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/tatehito/sandrun/config"
	"github.com/tatehito/sandrun/logger"
	"github.com/tatehito/sandrun/mcpserver"
	"github.com/tatehito/sandrun/runtime"
	"github.com/tatehito/sandrun/sandbox"
)

// newExecutor builds the parallel executor from the application config.
func newExecutor(log *zap.Logger, provider runtime.Provider, cfg *config.Config) *sandbox.Executor {
	return sandbox.NewExecutor(log, provider,
		sandbox.WithPollInterval(cfg.GetPollInterval()),
		sandbox.WithBufferLimits(
			int(cfg.Sandbox.BufferLimitBytes),
			int(cfg.Sandbox.BufferLimitBytes*cfg.Sandbox.AggregateFactor),
		),
		sandbox.WithFailFast(cfg.Sandbox.FailFast),
		sandbox.WithMaxParallel(cfg.Sandbox.MaxParallel),
		sandbox.WithBusCapacity(cfg.Sandbox.BusCapacity),
	)
}

// newProfiles loads the language profiles named by the config.
func newProfiles(cfg *config.Config) (runtime.Profiles, error) {
	return runtime.LoadProfiles(cfg.Sandbox.ProfilePath)
}

// newServer wires the MCP server without optional overrides.
func newServer(cfg *config.Config, log *zap.Logger, executor *sandbox.Executor, profiles runtime.Profiles) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, executor, profiles)
}

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Runtime provider based on config
			runtime.NewProvider,

			// Language profiles
			newProfiles,

			// Parallel executor
			newExecutor,

			// MCP Server
			newServer,
		),

		// Release every sandbox the executor created when the app stops
		fx.Invoke(
			func(lc fx.Lifecycle, executor *sandbox.Executor) {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						return executor.Cleanup(ctx)
					},
				})
			},
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
