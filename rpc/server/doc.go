// Package server implements the dTable RPC server. It owns the catalog,
// dispatches decoded messages to adapters by route and shuts down cleanly.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server
//     adapters, with the Handle method that processes one request.
//
//   - NewCatalogServerAdapter: Adapter for collection operations and SQL
//     queries (served through the query router).
//
//   - NewBlobServerAdapter: Adapter for key-value storages.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint:        "0.0.0.0:8080",
//	  TimeoutSecond:   30,
//	  LogLevel:        "info",
//	  DataDir:         "/var/lib/dtable",
//	  FlushOnShutdown: true,
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  http.NewHttpServerTransport(),
//	  serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Serve blocks until SIGINT or SIGTERM. It then stops the transport, waits
// for running requests and closes the catalog, which saves dirty
// collections when FlushOnShutdown is set.
//
// Thread Safety:
//
//	Requests are handled concurrently; the catalog and the adapters are safe
//	for concurrent use. Serve must be called only once.
package server
