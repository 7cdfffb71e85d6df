// Package logger provides structured logging for the execution engine.
//
// The logger package configures the application's zap logger. Every
// subsystem (runtime providers, the parallel executor, the message bus,
// the server surface) receives a *zap.Logger through its constructor;
// nothing logs through package-level state.
package logger
