package serializer

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/ValentinKolb/dTable/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON": NewJSONSerializer,
	"GOB":  NewGOBSerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Append request with a batch
		{
			MsgType:    common.MsgTAppendBatch,
			Collection: "metrics",
			Policy:     "update",
			Domain:     "sensorA",
			Batch: &relation.Records{
				Index:   []string{"datetime"},
				Columns: []string{"datetime", "unit", "ok"},
				Rows: [][]any{
					{"2024-01-01T00:00:00Z", "C", true},
					{"2024-01-01T00:00:01Z", nil, false},
				},
			},
		},

		// Query response
		{
			MsgType: common.MsgTQuery,
			Results: []common.QueryResult{{
				Statement:  "SELECT unit FROM metrics",
				Collection: "metrics",
				Records:    relation.Records{Columns: []string{"unit"}, Rows: [][]any{{"C"}}},
				Descriptors: []table.ColumnDescriptor{
					{Field: "unit", Type: "text", Null: "YES"},
				},
			}},
		},

		// List response
		{
			MsgType: common.MsgTListCollections,
			Collections: []catalog.Collection{{
				Name:      "metrics",
				Columns:   []string{"datetime", "sensorA.x"},
				Domains:   []string{"sensorA"},
				Type:      "table",
				Rows:      2,
				IndexType: table.IndexTimeseries,
				LastEdit:  at,
			}},
		},

		// Storage response
		{
			MsgType:    common.MsgTBlobGet,
			Collection: "files",
			Key:        "config",
			Tags:       []string{"v1"},
			Entries: []blob.Entry{{
				ID:        "config_v1",
				Key:       "config",
				Tags:      []string{"v1"},
				Value:     []byte("payload"),
				Timestamp: at,
			}},
			Ok: true,
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Code:    dberr.CodeCollectionNotFound,
			Err:     "test error message",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTBlobFilter; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestRecordNumbers checks that numbers in records come back as numbers
// after the batch is turned into a relation
func TestRecordNumbers(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			msg := common.Message{
				MsgType: common.MsgTAppendBatch,
				Batch: &relation.Records{
					Columns: []string{"n", "f"},
					Rows:    [][]any{{int64(1), 1.5}, {int64(2), 2.5}},
				},
			}

			data, err := serializer.Serialize(msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			rel, err := relation.FromRecords(*result.Batch)
			if err != nil {
				t.Fatalf("Failed to build relation: %v", err)
			}
			n, _ := rel.Column("n")
			f, _ := rel.Column("f")
			if n.Kind != relation.KindInt {
				t.Errorf("Expected int column, got %s", n.Kind)
			}
			if f.Kind != relation.KindFloat {
				t.Errorf("Expected float column, got %s", f.Kind)
			}
		})
	}
}

// TestJSONKeepsSQLReadable checks that comparison operators in SQL text are
// not escaped and that invalid input is rejected
func TestJSONKeepsSQLReadable(t *testing.T) {
	serializer := NewJSONSerializer()
	sql := "SELECT * FROM metrics WHERE temp < 20 AND humidity > 3 && 1"

	data, err := serializer.Serialize(*common.NewQueryRequest(sql, nil))
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	if !bytes.Contains(data, []byte(sql)) {
		t.Errorf("SQL text was escaped: %s", data)
	}
	if bytes.HasSuffix(data, []byte("\n")) {
		t.Errorf("Serialized message ends with a newline")
	}

	var result common.Message
	if err := serializer.Deserialize(data, &result); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if result.SQL != sql {
		t.Errorf("SQL doesn't match after round trip: Expected %q, got %q", sql, result.SQL)
	}

	if err := serializer.Deserialize([]byte("{"), &result); err == nil {
		t.Errorf("Expected an error for truncated input")
	}
}
