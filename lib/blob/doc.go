// Package blob implements key-value storages: named maps of values whose
// keys may carry tags.
//
// An entry is stored under its id, the key followed by "_" and its tags
// joined with ":" (for example "config_prod:eu"). Lookups work on the key:
// Get returns every entry of a key, optionally only those with one of the
// requested tags, and Delete removes every entry of a key.
//
// Every change schedules a debounced save (two seconds by default) that
// writes a binary snapshot to "<dir>/<name>.store". The snapshot starts with
// a magic header and a format version, followed by the entries.
//
// Usage:
//
//	s, err := blob.Open(blob.Config{Name: "settings", Dir: dir}, true)
//	s.Set("config", []byte(`{"a":1}`), []string{"prod"}, time.Time{})
//	entries := s.Get("config", nil)
//
// Thread-safety: all methods of Store except Load are safe for concurrent
// use. Stores are created and closed by the catalog package.
package blob
