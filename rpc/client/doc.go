// Package client implements RPC clients for dTable servers.
//
// Key Components:
//
//   - NewRPCCatalog: Client for collections and queries. Query results come
//     back as router.Result values with the relation rebuilt from its records.
//
//   - NewRPCStorage: Client for one key-value storage.
//
// Errors returned by the server keep their dberr code, so callers can test
// them with dberr.Is just like errors of a local catalog.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"http://localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	c, _ := client.NewRPCCatalog(config, http.NewHttpClientTransport(), serializer.NewJSONSerializer())
//	results, err := c.Query(ctx, "SELECT * FROM metrics", nil)
//	if dberr.Is(err, dberr.CodeCollectionNotFound) {
//	  ...
//	}
//
// Thread Safety:
//
//	All clients are thread-safe and can be used concurrently from multiple
//	goroutines without additional synchronization.
package client
