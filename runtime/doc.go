// Package runtime provides the execution backend abstraction.
//
// The runtime package defines the Provider contract the engine depends
// on: create, start, stop and remove a sandbox, execute auxiliary
// commands inside it, and query its running state, exit code, output and
// memory usage. Implementations are interchangeable and chosen at
// construction:
//
//   - CLIProvider drives the docker or podman command line through a
//     CommandRunner seam.
//   - DockerAPIProvider talks to the Docker Engine API directly.
//   - MemoryProvider simulates sandboxes in memory for tests and the
//     "memory" backend.
//
// Resource ceilings (memory and derived stack size) are part of the
// creation spec; a backend that cannot apply them fails the creation
// rather than running the sandbox unlimited.
package runtime
