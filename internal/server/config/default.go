// Package config defines the server configuration structure.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/storage/image"
)

// Default configuration values.
const (
	DefaultHTTPHost = "127.0.0.1"
	DefaultHTTPPort = 9080

	DefaultImagesDir   = "/var/lib/warmstart/images"
	DefaultJournalDir  = "/var/lib/warmstart/journal"
	DefaultJournalKeep = 500
	DefaultHookTimeout = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Checkpoint: CheckpointSection{
			Enabled:     true,
			ImagesDir:   DefaultImagesDir,
			HookTimeout: DefaultHookTimeout,
			CRIU: CRIUSection{
				LogLevel:       freeze.DefaultLogLevel,
				ShellJob:       true,
				TCPEstablished: true,
				FileLocks:      true,
				ExtUnixSk:      true,
			},
			Retention: RetentionSection{
				Count: image.DefaultRetentionCount,
				Days:  image.DefaultRetentionDays,
			},
		},
		HTTP: HTTPSection{
			Host: DefaultHTTPHost,
			Port: DefaultHTTPPort,
		},
		Journal: JournalSection{
			Dir:  DefaultJournalDir,
			Keep: DefaultJournalKeep,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultMap returns the defaults as dotted keys for the lowest
// configuration tier.
func DefaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"checkpoint.enabled":              d.Checkpoint.Enabled,
		"checkpoint.images_dir":           d.Checkpoint.ImagesDir,
		"checkpoint.disable_recovery":     d.Checkpoint.DisableRecovery,
		"checkpoint.hook_timeout":         d.Checkpoint.HookTimeout.String(),
		"checkpoint.simulate":             d.Checkpoint.Simulate,
		"checkpoint.criu.log_level":       d.Checkpoint.CRIU.LogLevel,
		"checkpoint.criu.leave_running":   d.Checkpoint.CRIU.LeaveRunning,
		"checkpoint.criu.shell_job":       d.Checkpoint.CRIU.ShellJob,
		"checkpoint.criu.tcp_established": d.Checkpoint.CRIU.TCPEstablished,
		"checkpoint.criu.file_locks":      d.Checkpoint.CRIU.FileLocks,
		"checkpoint.criu.ext_unix_sk":     d.Checkpoint.CRIU.ExtUnixSk,
		"checkpoint.retention.count":      d.Checkpoint.Retention.Count,
		"checkpoint.retention.days":       d.Checkpoint.Retention.Days,
		"http.host":                       d.HTTP.Host,
		"http.port":                       d.HTTP.Port,
		"journal.dir":                     d.Journal.Dir,
		"journal.keep":                    d.Journal.Keep,
		"log.level":                       d.Log.Level,
		"log.format":                      d.Log.Format,
	}
}

// Addr returns the status endpoint address.
func (h HTTPSection) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Settings converts the CRIU section into the settings recorded in an
// image manifest.
func (c CRIUSection) Settings() image.CRIUSettings {
	return image.CRIUSettings{
		LogLevel:       c.LogLevel,
		LeaveRunning:   c.LeaveRunning,
		ShellJob:       c.ShellJob,
		TCPEstablished: c.TCPEstablished,
		FileLocks:      c.FileLocks,
		ExtUnixSk:      c.ExtUnixSk,
		BinaryPath:     c.BinaryPath,
		LibDir:         c.LibDir,
	}
}

// StoreConfig returns the image store configuration.
func (c CheckpointSection) StoreConfig() image.Config {
	return image.Config{
		Dir:            c.ImagesDir,
		RetentionCount: c.Retention.Count,
		RetentionDays:  c.Retention.Days,
	}
}
