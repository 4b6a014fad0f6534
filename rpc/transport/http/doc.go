// Package http implements the HTTP transport for dTable RPC communication.
// It provides concrete implementations of the transport interfaces defined
// in the parent package.
//
// The server answers:
//
//	POST /collections   collection and query messages
//	POST /storages      key-value storage messages
//	GET  /metrics       Prometheus metrics (VictoriaMetrics/metrics)
//
// Each request runs with the server timeout as deadline. Shutdown drains
// running requests before Listen returns.
//
// The client selects endpoints round-robin and retries connection errors
// with exponential backoff. Responses with a status other than 200 are not
// retried.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. It uses
//	atomic operations for the round-robin counter to ensure thread safety when
//	selecting server endpoints.
package http
