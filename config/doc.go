// Package config provides application configuration management.
//
// The config package loads and validates the application's configuration
// from YAML files. It covers server settings, execution-engine parameters
// (backend selection, default limits, buffer caps, monitor tick) and
// logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Backend: %s\n", cfg.Sandbox.Backend)
package config
