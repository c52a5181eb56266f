// Package service orchestrates checkpoint and restore runs.
//
// This package contains:
//
//   - Controller: the in-process snapshot driver. It waits for the requested
//     phase, runs hooks, freezes the process through a freeze.Freezer and, once
//     resumed, reconciles configuration and re-arms timers.
//   - Scheduler: a clock-driven timer service whose deadlines exclude the time
//     the process spent frozen.
//   - Launcher: the out-of-process side. It starts the server with a phase
//     argument, restores images and falls back to a cold boot when a restore
//     fails.
//   - Classify: maps step errors to domain.Outcome values.
//
// The Controller is a single-attempt state machine guarded by a mutex. It
// never re-freezes a process after a failed restore.
//
// @design DS-0103
package service
