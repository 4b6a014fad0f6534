// Package table implements the Table Object: one loaded collection.
//
// A Table holds the collection's relation in memory, registers it with the
// shared query engine under the collection's view name and persists it to a
// column file. The catalog package owns every Table; nothing else creates
// or closes one.
//
// # Merge engine
//
// MergeBatch combines an incoming relation with the resident one under one
// of five policies (see Policy):
//
//	append      outer join on the index, incoming cells written as is
//	update      non-null incoming cells overwrite matching cells
//	overwrite   rows present on both sides, incoming values win
//	keep        rows present on both sides, resident values win
//	dropbefore  drop the incoming columns from the table, then append
//
// # Persistence
//
// Index levels are not columns in memory, so they are flattened on save and
// restored on load:
//
//	multiple or named levels    _index0_<level>, _index1_<level>, ...
//	positional level (raw)      _index
//	datetime level (timeseries) stored once, as the datetime column
//
// Saves are debounced (at most one per cooldown, default two minutes) and
// copy the previous file to "<file>_bkup" before replacing it.
//
// # Operations gate
//
// Loads, merges and column drops bracket themselves with Gate.Block and
// Gate.Unblock. Saves, drops and evictions wait for the gate with a bounded
// number of polls and fail with OperationTimeout instead of hanging.
//
// Thread-safety: all exported methods of Table are safe for concurrent use.
// The relation is guarded by a read/write lock and is replaced, never
// modified, once it has been registered with the engine.
package table
