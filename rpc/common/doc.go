// Package common provides the data structures shared by the dTable server,
// its clients and the transport layer.
//
// The package focuses on:
//   - Message protocol definition for client/server communication
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Collection,
//     query and storage operations share one flat message; relations travel
//     as relation.Records. Errors carry their dberr code so clients can
//     tell a missing collection from a failed query.
//
//   - MessageType: Enumeration defining all supported operation types,
//     grouped into collection operations, storage operations and control
//     messages.
//
//   - Route: Selects the server adapter ("collections" or "storages").
//
//   - ServerConfig: Configuration of a server node (endpoint, logging, data
//     directory and catalog timings). ToCatalogConfig derives the catalog
//     configuration from it.
//
//   - ClientConfig: Configuration for client components, controlling
//     endpoints, timeouts and retry behavior.
//
//   - Logger: Custom logging implementation installed as Dragonboat's logger
//     factory, so every package logger shares one format.
package common
