// Package cmd implements the command-line interface of dTable. It provides a
// hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - collection: Commands for collections (create, append, query, etc.)
//   - storage: Commands for key-value storages (set, get, filter, etc.)
//   - serve: Commands for starting and configuring the dTable server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dtable -help for a list of all commands.
package cmd
