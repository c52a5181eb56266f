// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for warmstart-server.
type ServerConfig struct {
	Checkpoint CheckpointSection `koanf:"checkpoint"`
	HTTP       HTTPSection       `koanf:"http"`
	Log        LogSection        `koanf:"log"`
	Journal    JournalSection    `koanf:"journal"`

	// Secrets lists configuration keys whose values are never logged in
	// clear text. Keys matching the built-in patterns are always secret.
	Secrets []string `koanf:"secrets"`
}

// CheckpointSection configures checkpoint and restore.
//
// @req RQ-0102 - Checkpoint configuration
type CheckpointSection struct {
	// Enabled switches checkpointing on. A disabled server fails every
	// checkpoint request with exit code 71.
	Enabled bool `koanf:"enabled"`

	// ImagesDir is the directory holding checkpoint images.
	ImagesDir string `koanf:"images_dir"`

	// DisableRecovery makes a failed restore exit instead of falling back
	// to a cold boot.
	DisableRecovery bool `koanf:"disable_recovery"`

	// HookTimeout bounds each hook fan-out during restore.
	HookTimeout time.Duration `koanf:"hook_timeout"`

	// Simulate freezes the server in-process instead of calling CRIU.
	Simulate bool `koanf:"simulate"`

	CRIU      CRIUSection      `koanf:"criu"`
	Retention RetentionSection `koanf:"retention"`
}

// CRIUSection holds the snapshot tool settings written to criu.conf.
// Without LeaveRunning CRIU kills the server after the dump and the launcher
// commits the image.
type CRIUSection struct {
	LogLevel       int    `koanf:"log_level"`
	LeaveRunning   bool   `koanf:"leave_running"`
	ShellJob       bool   `koanf:"shell_job"`
	TCPEstablished bool   `koanf:"tcp_established"`
	FileLocks      bool   `koanf:"file_locks"`
	ExtUnixSk      bool   `koanf:"ext_unix_sk"`
	BinaryPath     string `koanf:"binary_path"`
	LibDir         string `koanf:"lib_dir"`
}

// RetentionSection bounds how many images are kept.
type RetentionSection struct {
	Count int `koanf:"count"`
	Days  int `koanf:"days"`
}

// HTTPSection configures the status endpoint.
type HTTPSection struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// JournalSection configures the run journal.
type JournalSection struct {
	Dir  string `koanf:"dir"`
	Keep int    `koanf:"keep"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
