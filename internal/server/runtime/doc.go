// Package runtime runs warmstart-server.
//
// A run resolves the layered configuration, boots through the checkpoint
// phases and, when a phase was requested, hands control to the checkpoint
// controller at that phase. The process that wrote the image stops after
// the checkpoint; a process restored from it continues the boot with the
// reconciled configuration. Running servers serve /health, /ready, /status
// and /metrics and re-reconcile configuration when a tier changes.
//
// Usage:
//
//	rt, err := runtime.New(runtime.Options{ConfigDir: dir, Checkpoint: "afterAppStart"})
//	os.Exit(rt.Run(ctx))
//
// @design DS-0104
package runtime
