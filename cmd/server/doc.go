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
