// Package rpc connects dTable clients to a dTable server. Requests and
// responses are common.Message values; a serializer turns them into bytes
// and a transport carries the bytes to a route of the server.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, server and client configuration, and the
//     logger factory shared by every package.
//
//   - serializer: JSON and GOB encodings of a Message.
//
//   - transport: the transport interfaces and the HTTP implementation, which
//     also serves the process metrics at /metrics.
//
//   - server: the RPC server and its adapters. The "collections" route is
//     served by the catalog adapter, the "storages" route by the blob adapter.
//
//   - client: RPCCatalog and RPCStorage, typed clients for both routes.
package rpc
