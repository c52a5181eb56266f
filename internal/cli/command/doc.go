// Package command provides the warmstart command line.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: application, global flags, CLI configuration
//   - checkpoint.go: start the server and checkpoint it at a phase
//   - restore.go: restore an image, with recovery cold boot
//   - phases.go: list the valid phases
//   - images.go: image list, inspect and prune
//   - history.go: run journal
//   - status.go: query a running server
//   - shell.go: interactive mode over the same commands
//   - version.go: build information
//
// checkpoint and restore exit with the exit code of the outcome.
//
// @design DS-0601
package command
