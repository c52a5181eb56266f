// Package shutdown stops warmstart-server cleanly.
//
// Components register cleanup hooks as they start. The hooks run newest
// first, either on SIGINT/SIGTERM through Wait or directly through Run when
// the server exits with a checkpoint outcome.
//
// Usage:
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(srv.Shutdown)
//	sig, err := h.Wait(ctx)
//
// @design DS-0501
package shutdown
