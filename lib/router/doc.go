// Package router dispatches SQL text to the object it addresses.
//
// A request may hold several statements. Each one is routed on its own:
//
//	SHOW TABLES, SHOW DATABASES   answered from the catalog
//	DESCRIBE <collection>         column descriptors of the collection
//	statement without a table     run on the metadata store
//	statement on a collection     run on the collection's view
//
// The target of a statement is the first table it references. "default."
// qualifiers are removed before routing since every collection lives in the
// single database "default".
//
// QueryMultiple runs independent queries concurrently and can merge their
// results into one relation.
package router
