// Package confloader provides configuration loading for warmstart.
//
// This package implements a layered configuration resolver on top of koanf.
// Each source is a tier; a key takes the value of the highest tier that
// defines it:
//
//  1. Dropins: configDropins/overrides/*.yaml, lexical order
//  2. Variable directory: variables/<a>/<b> holds the value of key a.b
//  3. Environment: WARMSTART_* process variables, then server.env
//  4. Defaults: built-in values, then server.yaml
//
// Every Resolve call builds fresh koanf instances and reads every source
// from disk, so nothing is cached between calls. Watcher reports changes to
// the watched files and directories, coalescing bursts with a rate limiter.
//
// @design DS-0502
// @adr AD-0501
package confloader
