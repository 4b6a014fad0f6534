package client

import (
	"context"

	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/router"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/ValentinKolb/dTable/rpc/common"
	"github.com/ValentinKolb/dTable/rpc/serializer"
	"github.com/ValentinKolb/dTable/rpc/transport"
)

// NewRPCCatalog creates a client for the collections of a remote server.
func NewRPCCatalog(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCCatalog, error) {
	adapter, err := newClientAdapter(common.RouteCollections, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &RPCCatalog{adapter}, nil
}

// RPCCatalog forwards collection operations and queries to a server.
type RPCCatalog struct {
	rpcClientAdapter
}

func (c *RPCCatalog) CreateCollection(ctx context.Context, name, kind string, indexType table.IndexType) error {
	_, err := c.invoke(ctx, common.NewCreateCollectionRequest(name, kind, indexType))
	return err
}

func (c *RPCCatalog) DropCollection(ctx context.Context, name string) error {
	_, err := c.invoke(ctx, common.NewDropCollectionRequest(name))
	return err
}

func (c *RPCCatalog) ListCollections(ctx context.Context) ([]catalog.Collection, error) {
	resp, err := c.invoke(ctx, common.NewListCollectionsRequest())
	if err != nil {
		return nil, err
	}
	return resp.Collections, nil
}

func (c *RPCCatalog) DescribeCollection(ctx context.Context, name string) ([]table.ColumnDescriptor, error) {
	resp, err := c.invoke(ctx, common.NewDescribeCollectionRequest(name))
	if err != nil {
		return nil, err
	}
	return resp.Descriptors, nil
}

func (c *RPCCatalog) AppendBatch(ctx context.Context, name string, batch *relation.Relation, policy table.Policy, domain string) error {
	_, err := c.invoke(ctx, common.NewAppendBatchRequest(name, relation.ToRecords(batch), policy, domain))
	return err
}

// DropColumns returns the names of the removed columns.
func (c *RPCCatalog) DropColumns(ctx context.Context, name string, columns []string, domain string) ([]string, error) {
	resp, err := c.invoke(ctx, common.NewDropColumnsRequest(name, columns, domain))
	if err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

func (c *RPCCatalog) SaveCollection(ctx context.Context, name string) error {
	_, err := c.invoke(ctx, common.NewSaveCollectionRequest(name))
	return err
}

// WaitUntilQuiescent returns once no mutating operation runs on the
// collection, so a following query sees every completed write.
func (c *RPCCatalog) WaitUntilQuiescent(ctx context.Context, name string) error {
	_, err := c.invoke(ctx, common.NewWaitQuiescentRequest(name))
	return err
}

func (c *RPCCatalog) Query(ctx context.Context, sql string, domains []string) ([]router.Result, error) {
	resp, err := c.invoke(ctx, common.NewQueryRequest(sql, domains))
	if err != nil {
		return nil, err
	}
	return fromWireResults(resp.Results)
}

func (c *RPCCatalog) QueryMultiple(ctx context.Context, statements []string, domains []string, merge bool) ([]router.Result, error) {
	resp, err := c.invoke(ctx, common.NewQueryMultipleRequest(statements, domains, merge))
	if err != nil {
		return nil, err
	}
	return fromWireResults(resp.Results)
}

// ListStorages lists the key-value storages of the server.
func (c *RPCCatalog) ListStorages(ctx context.Context) ([]catalog.Storage, error) {
	adapter := c.rpcClientAdapter
	adapter.route = common.RouteStorages
	resp, err := adapter.invoke(ctx, common.NewListStoragesRequest())
	if err != nil {
		return nil, err
	}
	return resp.Storages, nil
}

// fromWireResults turns wire results back into router results
func fromWireResults(results []common.QueryResult) ([]router.Result, error) {
	out := make([]router.Result, len(results))
	for i, res := range results {
		rel, err := relation.FromRecords(res.Records)
		if err != nil {
			return nil, err
		}
		out[i] = router.Result{
			Statement:   res.Statement,
			Collection:  res.Collection,
			Relation:    rel,
			Descriptors: res.Descriptors,
		}
	}
	return out, nil
}
