package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
)

// --------------------------------------------------------------------------
// Routes
// --------------------------------------------------------------------------

// Route selects the server adapter a message is dispatched to.
type Route string

const (
	RouteCollections Route = "collections" // collections and queries
	RouteStorages    Route = "storages"    // key-value storages
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Collection fields
	Collection string            `json:"collection,omitempty"` // Used for: all collection and storage operations
	Kind       string            `json:"kind,omitempty"`       // Used for: CreateCollection
	IndexType  string            `json:"index_type,omitempty"` // Used for: CreateCollection
	Policy     string            `json:"policy,omitempty"`     // Used for: AppendBatch
	Domain     string            `json:"domain,omitempty"`     // Used for: AppendBatch, DropColumns
	Domains    []string          `json:"domains,omitempty"`    // Used for: Query, QueryMultiple
	Columns    []string          `json:"columns,omitempty"`    // Used for: DropColumns (request and response)
	Batch      *relation.Records `json:"batch,omitempty"`      // Used for: AppendBatch

	// Query fields
	SQL        string   `json:"sql,omitempty"`        // Used for: Query
	Statements []string `json:"statements,omitempty"` // Used for: QueryMultiple
	Merge      bool     `json:"merge,omitempty"`      // Used for: QueryMultiple

	// Storage fields
	Key     string        `json:"key,omitempty"`     // Used for: Set, Get, Delete
	Tags    []string      `json:"tags,omitempty"`    // Used for: Set, Get
	Value   []byte        `json:"value,omitempty"`   // Used for: Set
	Filters []blob.Filter `json:"filters,omitempty"` // Used for: Filter

	// Response only fields
	Results     []QueryResult            `json:"results,omitempty"`     // Used for: Query, QueryMultiple
	Collections []catalog.Collection     `json:"collections,omitempty"` // Used for: ListCollections
	Storages    []catalog.Storage        `json:"storages,omitempty"`    // Used for: ListStorages
	Descriptors []table.ColumnDescriptor `json:"descriptors,omitempty"` // Used for: DescribeCollection
	Entries     []blob.Entry             `json:"entries,omitempty"`     // Used for: Get, Filter
	Keys        []string                 `json:"keys,omitempty"`        // Used for: Keys
	Ok          bool                     `json:"ok,omitempty"`          // Used for: Get, Delete
	Code        dberr.Code               `json:"code,omitempty"`        // Error code, 0 if no error
	Err         string                   `json:"err,omitempty"`         // Empty if no error, otherwise contains the error message
}

// QueryResult is the result of one statement on the wire.
type QueryResult struct {
	Statement   string                   `json:"statement"`
	Collection  string                   `json:"collection,omitempty"`
	Records     relation.Records         `json:"records"`
	Descriptors []table.ColumnDescriptor `json:"descriptors"`
}

// Error returns the error carried by a response, nil if there is none. The
// error code survives the round trip.
func (m *Message) Error() error {
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	code := m.Code
	if code == dberr.CodeSuccess {
		code = dberr.CodeInternal
	}
	return dberr.New(code, "%s", m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewResponse creates a response of the given type. A non-nil err sets the
// error message and code.
func NewResponse(msgType MessageType, err error) *Message {
	msg := &Message{MsgType: msgType}
	if err != nil {
		msg.Err = err.Error()
		msg.Code = dberr.CodeOf(err)
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code dberr.Code, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    code,
		Err:     err,
	}
}

// NewCreateCollectionRequest creates a new CreateCollection request
func NewCreateCollectionRequest(name, kind string, indexType table.IndexType) *Message {
	return &Message{
		MsgType:    MsgTCreateCollection,
		Collection: name,
		Kind:       kind,
		IndexType:  string(indexType),
	}
}

// NewDropCollectionRequest creates a new DropCollection request
func NewDropCollectionRequest(name string) *Message {
	return &Message{MsgType: MsgTDropCollection, Collection: name}
}

// NewListCollectionsRequest creates a new ListCollections request
func NewListCollectionsRequest() *Message {
	return &Message{MsgType: MsgTListCollections}
}

// NewDescribeCollectionRequest creates a new DescribeCollection request
func NewDescribeCollectionRequest(name string) *Message {
	return &Message{MsgType: MsgTDescribeCollection, Collection: name}
}

// NewAppendBatchRequest creates a new AppendBatch request
func NewAppendBatchRequest(name string, batch relation.Records, policy table.Policy, domain string) *Message {
	return &Message{
		MsgType:    MsgTAppendBatch,
		Collection: name,
		Batch:      &batch,
		Policy:     policy.String(),
		Domain:     domain,
	}
}

// NewDropColumnsRequest creates a new DropColumns request
func NewDropColumnsRequest(name string, columns []string, domain string) *Message {
	return &Message{
		MsgType:    MsgTDropColumns,
		Collection: name,
		Columns:    columns,
		Domain:     domain,
	}
}

// NewSaveCollectionRequest creates a new SaveCollection request
func NewSaveCollectionRequest(name string) *Message {
	return &Message{MsgType: MsgTSaveCollection, Collection: name}
}

// NewWaitQuiescentRequest creates a request that returns once no mutating
// operation runs on the collection
func NewWaitQuiescentRequest(name string) *Message {
	return &Message{MsgType: MsgTWaitQuiescent, Collection: name}
}

// NewQueryRequest creates a new Query request
func NewQueryRequest(sql string, domains []string) *Message {
	return &Message{MsgType: MsgTQuery, SQL: sql, Domains: domains}
}

// NewQueryMultipleRequest creates a new QueryMultiple request
func NewQueryMultipleRequest(statements []string, domains []string, merge bool) *Message {
	return &Message{
		MsgType:    MsgTQueryMultiple,
		Statements: statements,
		Domains:    domains,
		Merge:      merge,
	}
}

// NewCreateStorageRequest creates a new CreateStorage request
func NewCreateStorageRequest(name string) *Message {
	return &Message{MsgType: MsgTCreateStorage, Collection: name}
}

// NewDropStorageRequest creates a new DropStorage request
func NewDropStorageRequest(name string) *Message {
	return &Message{MsgType: MsgTDropStorage, Collection: name}
}

// NewListStoragesRequest creates a new ListStorages request
func NewListStoragesRequest() *Message {
	return &Message{MsgType: MsgTListStorages}
}

// NewSetRequest creates a new Set request
func NewSetRequest(storage, key string, value []byte, tags []string) *Message {
	return &Message{
		MsgType:    MsgTBlobSet,
		Collection: storage,
		Key:        key,
		Value:      value,
		Tags:       tags,
	}
}

// NewGetRequest creates a new Get request
func NewGetRequest(storage, key string, tags []string) *Message {
	return &Message{MsgType: MsgTBlobGet, Collection: storage, Key: key, Tags: tags}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(storage, key string) *Message {
	return &Message{MsgType: MsgTBlobDelete, Collection: storage, Key: key}
}

// NewKeysRequest creates a new Keys request
func NewKeysRequest(storage string) *Message {
	return &Message{MsgType: MsgTBlobKeys, Collection: storage}
}

// NewFilterRequest creates a new Filter request
func NewFilterRequest(storage string, filters []blob.Filter) *Message {
	return &Message{MsgType: MsgTBlobFilter, Collection: storage, Filters: filters}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:            "success",
	MsgTError:              "error",
	MsgTCreateCollection:   "createCollection",
	MsgTDropCollection:     "dropCollection",
	MsgTListCollections:    "listCollections",
	MsgTDescribeCollection: "describeCollection",
	MsgTAppendBatch:        "appendBatch",
	MsgTDropColumns:        "dropColumns",
	MsgTSaveCollection:     "saveCollection",
	MsgTQuery:              "query",
	MsgTQueryMultiple:      "queryMultiple",
	MsgTWaitQuiescent:      "waitQuiescent",
	MsgTCreateStorage:      "createStorage",
	MsgTDropStorage:        "dropStorage",
	MsgTListStorages:       "listStorages",
	MsgTBlobSet:            "set",
	MsgTBlobGet:            "get",
	MsgTBlobDelete:         "delete",
	MsgTBlobKeys:           "keys",
	MsgTBlobFilter:         "filter",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, name := range messageTypeNames {
		if name == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Collection operations

	MsgTCreateCollection   // Create a collection
	MsgTDropCollection     // Drop a collection
	MsgTListCollections    // List all collections
	MsgTDescribeCollection // Describe the columns of a collection
	MsgTAppendBatch        // Merge a batch into a collection
	MsgTDropColumns        // Drop columns of a collection
	MsgTSaveCollection     // Request a save of a collection
	MsgTQuery              // Run SQL
	MsgTQueryMultiple      // Run several queries, optionally merged
	MsgTWaitQuiescent      // Wait until no mutating operation runs on a collection

	// Storage operations

	MsgTCreateStorage // Create a storage
	MsgTDropStorage   // Drop a storage
	MsgTListStorages  // List all storages
	MsgTBlobSet       // Store a value
	MsgTBlobGet       // Get the entries of a key
	MsgTBlobDelete    // Delete a key
	MsgTBlobKeys      // List the keys of a storage
	MsgTBlobFilter    // Get the entries matching filters
)
