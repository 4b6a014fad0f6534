package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/router"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/ValentinKolb/dTable/rpc/common"
)

// NewCatalogServerAdapter returns the adapter serving collection and query
// requests.
func NewCatalogServerAdapter(mgr *catalog.Manager) IRPCServerAdapter {
	return &catalogServerAdapterImpl{mgr: mgr, router: router.New(mgr)}
}

type catalogServerAdapterImpl struct {
	mgr    *catalog.Manager
	router *router.Router
}

func (adapter *catalogServerAdapterImpl) Handle(ctx context.Context, req *common.Message) *common.Message {
	// Check for nil manager
	if adapter.mgr == nil {
		return common.NewErrorResponse(dberr.CodeInternal, "handler: catalog is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTCreateCollection:
		_, err := adapter.mgr.CreateCollection(ctx, req.Collection, req.Kind, table.ParseIndexType(req.IndexType))
		return common.NewResponse(req.MsgType, err)

	case common.MsgTDropCollection:
		err := adapter.mgr.DropCollection(ctx, req.Collection)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTListCollections:
		list, err := adapter.mgr.ListCollections(ctx)
		resp := common.NewResponse(req.MsgType, err)
		resp.Collections = list
		return resp

	case common.MsgTDescribeCollection:
		descs, err := adapter.mgr.DescribeCollection(ctx, req.Collection)
		resp := common.NewResponse(req.MsgType, err)
		resp.Descriptors = descs
		return resp

	case common.MsgTAppendBatch:
		return common.NewResponse(req.MsgType, adapter.appendBatch(ctx, req))

	case common.MsgTDropColumns:
		dropped, err := adapter.mgr.DropColumns(ctx, req.Collection, req.Columns, req.Domain)
		resp := common.NewResponse(req.MsgType, err)
		resp.Columns = dropped
		return resp

	case common.MsgTSaveCollection:
		err := adapter.mgr.SaveCollection(ctx, req.Collection)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTWaitQuiescent:
		err := adapter.mgr.WaitUntilQuiescent(ctx, req.Collection)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTQuery:
		results, err := adapter.router.Query(ctx, req.SQL, req.Domains)
		resp := common.NewResponse(req.MsgType, err)
		resp.Results = toWireResults(results)
		return resp

	case common.MsgTQueryMultiple:
		results, err := adapter.router.QueryMultiple(ctx, req.Statements, req.Domains, req.Merge)
		resp := common.NewResponse(req.MsgType, err)
		resp.Results = toWireResults(results)
		return resp

	default:
		return common.NewErrorResponse(dberr.CodeInvalidArgument,
			fmt.Sprintf("RPC CatalogAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

func (adapter *catalogServerAdapterImpl) appendBatch(ctx context.Context, req *common.Message) error {
	if req.Batch == nil {
		return dberr.New(dberr.CodeInvalidArgument, "append to %s without a batch", req.Collection)
	}
	policy, err := table.ParsePolicy(req.Policy)
	if err != nil {
		return err
	}
	rel, err := relation.FromRecords(*req.Batch)
	if err != nil {
		return dberr.Wrap(dberr.CodeInvalidArgument, err, "invalid batch for %s", req.Collection)
	}
	return adapter.mgr.AppendBatch(ctx, req.Collection, rel, policy, req.Domain)
}

// toWireResults converts router results into their wire form
func toWireResults(results []router.Result) []common.QueryResult {
	if results == nil {
		return nil
	}
	out := make([]common.QueryResult, len(results))
	for i, res := range results {
		out[i] = common.QueryResult{
			Statement:   res.Statement,
			Collection:  res.Collection,
			Descriptors: res.Descriptors,
		}
		if res.Relation != nil {
			out[i].Records = relation.ToRecords(res.Relation)
		}
	}
	return out
}
