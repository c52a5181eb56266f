// Package output renders warmstart command results as a table, JSON or
// YAML.
//
// Tables are built from slices of structs (one row per element, columns
// from the json tags) or from a single struct (one FIELD/VALUE row per
// field). Fields tagged `table:"wide"` appear only with --wide and fields
// tagged `table:"-"` never do.
//
// @design DS-0601
package output
