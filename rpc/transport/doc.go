// Package transport defines the interfaces for RPC communication between
// dTable clients and servers. Implementations live in subpackages; http is
// the one shipped with dTable.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to the handler by route.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport
