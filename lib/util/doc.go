// Package util provides small building blocks shared by the dTable packages.
//
// The package contains:
//   - mapheap: a keyed min-heap, used by the catalog sweep to visit collections least recently used first
//   - mpsc: a lock-free multi-producer single-consumer work queue, used to serialize catalog metadata writes
//   - saver: a debounced saver with a cooldown, used by tables and storages
//   - statistics: a summary of value sizes, used by storages
package util
