// Package config provides server configuration for warmstart-server.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (ranges, directories)
//   - sanitize.go: Log sanitization (hide sensitive values)
//
// Values are resolved by internal/infra/confloader from the server
// directory tiers: built-in defaults and server.yaml, WARMSTART_*
// environment variables and server.env, the variables/ directory, and
// configDropins/overrides.
//
// @req RQ-0502
// @design DS-0502
package config
