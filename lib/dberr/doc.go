// Package dberr defines the error taxonomy shared by all dTable packages.
//
// Every error that crosses a package boundary and that a caller may want to
// react to carries a Code:
//
//   - CodeDuplicateCollection: createCollection on an existing name
//   - CodeCollectionNotFound: a query or operation addressed an unknown collection
//   - CodeOperationTimeout: a quiescence wait or the catalog write lock ran out of retries
//   - CodeQueryExecution: the embedded query engine rejected the statement
//   - CodeMergeFailure: one merge step failed; the merge still ran its cleanup
//   - CodePersistenceFailure: a columnar file could not be written; the backup stays in place
//   - CodeStaleCatalogEntry: a catalog row points to a missing file
//
// Use Is or CodeOf to inspect errors, they look through wrapped chains:
//
//	if dberr.Is(err, dberr.CodeCollectionNotFound) {
//	    // ...
//	}
package dberr
