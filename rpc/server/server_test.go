package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/ValentinKolb/dTable/rpc/common"
	"github.com/ValentinKolb/dTable/rpc/serializer"
	"github.com/ValentinKolb/dTable/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *catalog.Manager {
	t.Helper()
	cfg := catalog.DefaultConfig(t.TempDir())
	cfg.SweepPeriod = 0
	cfg.SaveCooldown = time.Hour
	cfg.BlobSaveCooldown = time.Hour
	cfg.QuiesceInterval = time.Millisecond
	cfg.QuiesceRetries = 10
	mgr, err := catalog.NewManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return mgr
}

func TestCatalogAdapter(t *testing.T) {
	ctx := context.Background()
	adapter := NewCatalogServerAdapter(newManager(t))

	resp := adapter.Handle(ctx, common.NewCreateCollectionRequest("metrics", "", table.IndexTimeseries))
	require.NoError(t, resp.Error())

	resp = adapter.Handle(ctx, common.NewCreateCollectionRequest("metrics", "", table.IndexTimeseries))
	assert.Equal(t, dberr.CodeDuplicateCollection, resp.Code)

	batch := relation.Records{
		Columns: []string{relation.Datetime, "temp"},
		Rows: [][]any{
			{"2024-01-01T00:00:00Z", int64(20)},
			{"2024-01-01T00:00:01Z", int64(21)},
		},
	}
	resp = adapter.Handle(ctx, common.NewAppendBatchRequest("metrics", batch, table.Append, "sensorA"))
	require.NoError(t, resp.Error())

	resp = adapter.Handle(ctx, common.NewQueryRequest("SELECT * FROM metrics", nil))
	require.NoError(t, resp.Error())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "metrics", resp.Results[0].Collection)
	assert.Len(t, resp.Results[0].Records.Rows, 2)

	resp = adapter.Handle(ctx, common.NewDescribeCollectionRequest("metrics"))
	require.NoError(t, resp.Error())
	assert.Len(t, resp.Descriptors, 2)

	resp = adapter.Handle(ctx, common.NewListCollectionsRequest())
	require.NoError(t, resp.Error())
	require.Len(t, resp.Collections, 1)
	assert.Equal(t, 2, resp.Collections[0].Rows)

	resp = adapter.Handle(ctx, common.NewDropColumnsRequest("metrics", []string{"*"}, "sensorA"))
	require.NoError(t, resp.Error())
	assert.Equal(t, []string{"sensorA.temp"}, resp.Columns)

	resp = adapter.Handle(ctx, common.NewQueryRequest("SELECT * FROM missing", nil))
	assert.Equal(t, dberr.CodeCollectionNotFound, resp.Code)

	resp = adapter.Handle(ctx, common.NewDropCollectionRequest("metrics"))
	require.NoError(t, resp.Error())

	resp = adapter.Handle(ctx, &common.Message{MsgType: common.MsgTAppendBatch, Collection: "metrics"})
	assert.Equal(t, dberr.CodeInvalidArgument, resp.Code)

	resp = adapter.Handle(ctx, common.NewSetRequest("files", "k", nil, nil))
	assert.Equal(t, common.MsgTError, resp.MsgType)
}

func TestBlobAdapter(t *testing.T) {
	ctx := context.Background()
	adapter := NewBlobServerAdapter(newManager(t))

	resp := adapter.Handle(ctx, common.NewGetRequest("files", "config", nil))
	assert.Equal(t, dberr.CodeCollectionNotFound, resp.Code)

	resp = adapter.Handle(ctx, common.NewSetRequest("files", "config", []byte("a"), []string{"v1"}))
	require.NoError(t, resp.Error())
	resp = adapter.Handle(ctx, common.NewSetRequest("files", "config", []byte("b"), []string{"v2"}))
	require.NoError(t, resp.Error())

	resp = adapter.Handle(ctx, common.NewGetRequest("files", "config", []string{"v2"}))
	require.NoError(t, resp.Error())
	assert.True(t, resp.Ok)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, []byte("b"), resp.Entries[0].Value)

	resp = adapter.Handle(ctx, common.NewKeysRequest("files"))
	require.NoError(t, resp.Error())
	assert.Equal(t, []string{"config"}, resp.Keys)

	resp = adapter.Handle(ctx, common.NewFilterRequest("files", nil))
	require.NoError(t, resp.Error())
	assert.Len(t, resp.Entries, 2)

	resp = adapter.Handle(ctx, common.NewListStoragesRequest())
	require.NoError(t, resp.Error())
	require.Len(t, resp.Storages, 1)
	assert.Equal(t, "files", resp.Storages[0].Name)

	resp = adapter.Handle(ctx, common.NewDeleteRequest("files", "config"))
	require.NoError(t, resp.Error())
	assert.True(t, resp.Ok)

	resp = adapter.Handle(ctx, common.NewDropStorageRequest("files"))
	require.NoError(t, resp.Error())
}

// fakeTransport calls the registered handler directly
type fakeTransport struct {
	mu       sync.Mutex
	handler  transport.ServerHandleFunc
	started  chan struct{}
	shutdown chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan struct{}), shutdown: make(chan struct{})}
}

func (f *fakeTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTransport) Listen(common.ServerConfig) error {
	close(f.started)
	<-f.shutdown
	return nil
}

func (f *fakeTransport) Shutdown(context.Context) error {
	close(f.shutdown)
	return nil
}

func (f *fakeTransport) send(route common.Route, req []byte) []byte {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	return h(context.Background(), route, req)
}

func TestServeContext(t *testing.T) {
	ft := newFakeTransport()
	ser := serializer.NewJSONSerializer()
	s := NewRPCServer(common.ServerConfig{
		DataDir:         t.TempDir(),
		LogLevel:        "error",
		FlushOnShutdown: true,
	}, ft, ser)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeContext(ctx) }()
	<-ft.started

	req, err := ser.Serialize(*common.NewQueryRequest("SHOW DATABASES", nil))
	require.NoError(t, err)

	var resp common.Message
	require.NoError(t, ser.Deserialize(ft.send(common.RouteCollections, req), &resp))
	require.NoError(t, resp.Error())
	require.Len(t, resp.Results, 1)

	resp = common.Message{}
	require.NoError(t, ser.Deserialize(ft.send("unknown", req), &resp))
	assert.Equal(t, common.MsgTError, resp.MsgType)

	resp = common.Message{}
	require.NoError(t, ser.Deserialize(ft.send(common.RouteCollections, []byte("{")), &resp))
	assert.Equal(t, dberr.CodeInvalidArgument, resp.Code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
