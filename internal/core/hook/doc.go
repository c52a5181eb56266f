// Package hook implements the lifecycle hook registry.
//
// Hooks are registered with a Timing (before checkpoint or after restore), a
// Mode (ordered or fan-out) and a Rank. Before-checkpoint hooks always run in
// order on the caller's goroutine and stop at the first failure.
// After-restore hooks run ordered hooks first, then fan-out hooks
// concurrently with a bounded wait; every failure is collected.
//
// @design DS-0103
package hook
