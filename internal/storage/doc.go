// Package storage provides the run journal and its embedded KV engine.
//
// Every checkpoint, restore and recovery attempt is recorded as a RunRecord
// keyed by its run ID. Run IDs are ULIDs, so a prefix scan returns records
// in start order.
//
// The journal sits on KVEngine; the Badger implementation runs value-log
// GC in the background and can export its size as Prometheus gauges.
//
// @design DS-0401
package storage
