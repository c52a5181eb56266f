// Package config defines the server configuration structure.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyCheckpoint(&cfg.Checkpoint); err != nil {
		return err
	}
	if err := verifyHTTP(&cfg.HTTP); err != nil {
		return err
	}
	if err := verifyJournal(&cfg.Journal); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyCheckpoint(cfg *CheckpointSection) error {
	if cfg.ImagesDir == "" {
		return errors.New("checkpoint.images_dir is required")
	}
	if err := os.MkdirAll(cfg.ImagesDir, 0750); err != nil {
		return errors.New("cannot create images directory: " + err.Error())
	}
	if cfg.HookTimeout <= 0 {
		return errors.New("checkpoint.hook_timeout must be positive")
	}
	if cfg.CRIU.LogLevel < 0 || cfg.CRIU.LogLevel > 4 {
		return fmt.Errorf("checkpoint.criu.log_level must be between 0 and 4, got %d", cfg.CRIU.LogLevel)
	}
	if cfg.Retention.Count < 1 {
		return errors.New("checkpoint.retention.count must be at least 1")
	}
	if cfg.Retention.Days < 0 {
		return errors.New("checkpoint.retention.days must not be negative")
	}
	return nil
}

func verifyHTTP(cfg *HTTPSection) error {
	// Port 0 binds an ephemeral port.
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", cfg.Port)
	}
	return nil
}

func verifyJournal(cfg *JournalSection) error {
	if cfg.Dir == "" {
		return errors.New("journal.dir is required")
	}
	if cfg.Keep < 1 {
		return errors.New("journal.keep must be at least 1")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not json or text", cfg.Format)
	}
	return nil
}
