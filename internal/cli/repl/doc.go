// Package repl provides the interactive mode of the warmstart CLI.
//
//   - repl.go: the read-eval-print loop and line splitting
//   - completer.go: prefix completion over command paths
//   - history.go: command history persisted under ~/.warmstart
package repl
