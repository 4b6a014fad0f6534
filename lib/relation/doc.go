// Package relation implements the typed in-memory relation that backs every
// collection.
//
// A Relation is an ordered list of named columns plus one or more index
// levels. Index levels identify rows and are kept apart from the ordinary
// columns: a level name never appears as a column name. The one exception is
// the Datetime level of timeseries collections, which is mirrored by a
// Datetime column so that queries can select it like any other field.
//
// Every cell holds a normalized value:
//
//	int64, float64, string, bool, time.Time (UTC) or nil (null)
//
// and every column has a Kind. Writing a value of a different kind widens the
// column (int to float, everything else to string), so a column never holds
// mixed kinds.
//
// The package provides the building blocks of the merge engine:
//
//   - Upsert: outer join on the index followed by a cell assignment
//   - UpdateCells: assignment restricted to existing rows and columns
//   - InnerJoin / OuterJoin: row intersection and union on the index
//   - SortByIndex, DedupeKeepLast, RoundTimeIndex: timeseries housekeeping
//   - DropEmptyRows / DropEmptyColumns: null cleanup
//
// and the Records exchange format used on the wire:
//
//	{"index": ["datetime"], "columns": ["datetime", "temp"], "rows": [["2024-01-01T00:00:00Z", 20]]}
//
// A Relation is not safe for concurrent mutation; the owning table guards it.
package relation
