// Package config provides the warmstart command's own settings.
//
//   - spec.go: CLIConfig struct (~/.warmstart/cli.yaml)
//   - loader.go: loading and saving
//
// @design DS-0601
package config
