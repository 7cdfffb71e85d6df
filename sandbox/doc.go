// Package sandbox implements the execution engine's core: lifecycle
// management, resource enforcement, output capture, and parallel
// execution of untrusted programs.
//
// Each run is represented by a Handle that moves through a strict state
// machine (Created, Starting, Running, Stopping, Stopped, with Failed
// reachable from any non-terminal state). The Executor takes a batch of
// Configs, drives each one through a runtime.Provider in its own
// goroutine, and returns per-run Results in input order. While a sandbox
// runs, a Monitor polls it for memory pressure, natural exit, and
// wall-clock timeout, and an output collector drains its streams into
// capped OutputBuffers.
//
// Runs are isolated from each other. An optional fail-fast mode cancels
// the remaining runs once one fails; canceled runs report
// StatusCanceled.
package sandbox
