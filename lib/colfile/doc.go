// Package colfile reads and writes the columnar files collections are
// persisted to.
//
// A column file is a parquet file with one optional leaf column per
// relation column. Physical column names are positional (c0, c1, ...); the
// exact names and kinds are recorded in a JSON manifest in the footer
// key-value metadata, so names with dots, commas or mixed case survive the
// round trip. Files without a manifest (written by other tools) are read
// using their schema names.
//
// Physical types:
//
//	int64    -> INT64
//	float64  -> DOUBLE
//	string   -> BYTE_ARRAY (UTF8)
//	bool     -> BOOLEAN
//	datetime -> INT64 (TIMESTAMP_MILLIS)
//
// Writes go to a temporary file that is renamed over the target. Backup
// copies the current file to "<file>_bkup" before a save replaces it.
package colfile
