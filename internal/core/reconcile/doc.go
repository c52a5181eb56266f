// Package reconcile recomputes configuration across a restore.
//
// A Snapshot is captured before the freeze. After the resume the Reconciler
// re-reads every configuration source from scratch, publishes an immutable
// view and reports the keys whose resolved value changed. Secret values
// never appear in a Snapshot, a Change or a log line: they are compared by
// keyed fingerprint and shown as a fixed-length marker.
//
// @design DS-0103
package reconcile
