// Package serializer provides message serialization for the dTable RPC
// system. It defines a common interface and two implementations for
// serializing and deserializing messages between client and server.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: Implementation using JSON encoding. It is the
//     default since relations are exchanged as row records that other
//     clients can read. Numbers in records decode as json.Number and are
//     normalized when the records are turned back into a relation.
//
//   - gobSerializerImpl: Implementation using Go's gob encoding. Record cells
//     keep their Go types (int64, float64, string, bool, time.Time), which
//     makes it the better choice between Go peers.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	serializer := serializer.NewJSONSerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
