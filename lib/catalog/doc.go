// Package catalog implements the Catalog Manager: the single owner of all
// collections and storages of a data directory.
//
// Layout of the data directory:
//
//	master.db                   sqlite catalog (collections, documents, storages, info)
//	write.lock                  marker file, exists while a writer updates master.db
//	tables/<name>.parquet       column file of a collection (+ "_bkup" copy)
//	storage/<name>.store        snapshot of a key-value storage
//
// The Manager keeps the resident objects in concurrent maps and loads them
// on first use. Metadata changes reported by the objects are queued and
// written by one goroutine under the write lock, so a merge never waits for
// sqlite. An eviction sweep (every 30s by default) saves and closes objects
// that were idle for longer than the idle threshold (90 minutes by default),
// visiting the least recently used first.
//
// Usage:
//
//	m, err := catalog.NewManager(ctx, catalog.DefaultConfig("./data"))
//	defer m.Close(ctx)
//
//	err = m.AppendBatch(ctx, "metrics", batch, table.Append, "")
//	t, err := m.Collection(ctx, "metrics")
//
// Thread-safety: all methods of Manager are safe for concurrent use.
package catalog
