package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/rpc/common"
)

// NewBlobServerAdapter returns the adapter serving key-value storage
// requests. The storage is named by Message.Collection; Set creates it on
// first use.
func NewBlobServerAdapter(mgr *catalog.Manager) IRPCServerAdapter {
	return &blobServerAdapterImpl{mgr: mgr}
}

type blobServerAdapterImpl struct {
	mgr *catalog.Manager
}

func (adapter *blobServerAdapterImpl) Handle(ctx context.Context, req *common.Message) *common.Message {
	// Check for nil manager
	if adapter.mgr == nil {
		return common.NewErrorResponse(dberr.CodeInternal, "handler: catalog is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTCreateStorage:
		_, err := adapter.mgr.CreateStorage(ctx, req.Collection)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTDropStorage:
		err := adapter.mgr.DropStorage(ctx, req.Collection)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTListStorages:
		list, err := adapter.mgr.ListStorages(ctx)
		resp := common.NewResponse(req.MsgType, err)
		resp.Storages = list
		return resp

	case common.MsgTBlobSet:
		s, err := adapter.mgr.GetOrLoadStorage(ctx, req.Collection, true)
		if err != nil {
			return common.NewResponse(req.MsgType, err)
		}
		s.Set(req.Key, req.Value, req.Tags, time.Now())
		return common.NewResponse(req.MsgType, nil)

	case common.MsgTBlobGet:
		s, err := adapter.mgr.Storage(ctx, req.Collection)
		if err != nil {
			return common.NewResponse(req.MsgType, err)
		}
		resp := common.NewResponse(req.MsgType, nil)
		resp.Entries = s.Get(req.Key, req.Tags)
		resp.Ok = len(resp.Entries) > 0
		return resp

	case common.MsgTBlobDelete:
		s, err := adapter.mgr.Storage(ctx, req.Collection)
		if err != nil {
			return common.NewResponse(req.MsgType, err)
		}
		resp := common.NewResponse(req.MsgType, nil)
		resp.Ok = s.Delete(req.Key) > 0
		return resp

	case common.MsgTBlobKeys:
		s, err := adapter.mgr.Storage(ctx, req.Collection)
		if err != nil {
			return common.NewResponse(req.MsgType, err)
		}
		resp := common.NewResponse(req.MsgType, nil)
		resp.Keys = s.Keys()
		return resp

	case common.MsgTBlobFilter:
		s, err := adapter.mgr.Storage(ctx, req.Collection)
		if err != nil {
			return common.NewResponse(req.MsgType, err)
		}
		resp := common.NewResponse(req.MsgType, nil)
		if len(req.Filters) == 0 {
			resp.Entries = s.Entries()
		} else {
			resp.Entries = s.Filter(req.Filters)
		}
		return resp

	default:
		return common.NewErrorResponse(dberr.CodeInvalidArgument,
			fmt.Sprintf("RPC BlobAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
