// Package engine embeds a SQL engine (go-mysql-server) that queries the
// in-memory relations of resident collections.
//
// Every collection registers its relation as a view under a stable,
// collection-independent name (see ViewName). Queries address views by that
// name; the rewrite from public collection names to view names happens in
// the table and router packages.
//
// The engine holds a single database with one read-only table per
// registered view. A view exposes the ordinary columns of its relation; the
// index levels stay hidden (the table package re-derives "index_<level>"
// columns when a level should be queryable).
//
// Usage:
//
//	e := engine.New()
//	e.Register(engine.ViewName("metrics"), rel)
//	res, err := e.Query(ctx, "SELECT temp FROM "+engine.ViewName("metrics"))
//
// Thread-safety: Register, Unregister and Query may be called concurrently.
// A registered relation must not be mutated afterwards; tables build a new
// relation on every change and register that one.
package engine
