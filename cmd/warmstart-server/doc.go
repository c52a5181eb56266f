// Package main provides the entry point for warmstart-server.
//
// The server boots through four stages (feature resolution, feature
// activation, application start, application started) and can be asked to
// checkpoint itself at the phase that closes one of them:
//
//	warmstart-server --config-dir /etc/warmstart
//	warmstart-server --checkpoint=afterAppStart --image=<id>
//	warmstart-server --checkpoint=beforeAppStart --auto-restore --simulate
//
// Without --auto-restore the server exits once the image is written, with
// the exit code of the checkpoint outcome. A restored server re-reads its
// configuration, runs the after-restore hooks and keeps running.
//
// @design DS-0501
package main
