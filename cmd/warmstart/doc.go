// Package main provides the entry point for warmstart.
//
// warmstart launches warmstart-server for a checkpoint, restores images
// (falling back to a cold boot when a restore fails) and manages the image
// store and run journal:
//
//	warmstart checkpoint --at afterAppStart
//	warmstart restore latest
//	warmstart images list -o yaml
//	warmstart history -n 5
//	warmstart status -s 127.0.0.1:9080
//	warmstart shell
//
// The server directory comes from --config-dir, WARMSTART_CONFIG_DIR or
// ~/.warmstart/cli.yaml.
package main
