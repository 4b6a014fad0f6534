package client

import (
	"context"

	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/rpc/common"
	"github.com/ValentinKolb/dTable/rpc/serializer"
	"github.com/ValentinKolb/dTable/rpc/transport"
)

// NewRPCStorage creates a client for one key-value storage of a remote
// server. The storage does not need to exist yet; Set creates it.
func NewRPCStorage(
	name string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCStorage, error) {
	adapter, err := newClientAdapter(common.RouteStorages, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &RPCStorage{rpcClientAdapter: adapter, name: name}, nil
}

// RPCStorage forwards key-value operations to a server.
type RPCStorage struct {
	rpcClientAdapter
	name string
}

// --------------------------------------------------------------------------
// Interface Methods (docu see blob.Store)
// --------------------------------------------------------------------------

func (s *RPCStorage) Create(ctx context.Context) error {
	_, err := s.invoke(ctx, common.NewCreateStorageRequest(s.name))
	return err
}

func (s *RPCStorage) Drop(ctx context.Context) error {
	_, err := s.invoke(ctx, common.NewDropStorageRequest(s.name))
	return err
}

func (s *RPCStorage) Set(ctx context.Context, key string, value []byte, tags []string) error {
	_, err := s.invoke(ctx, common.NewSetRequest(s.name, key, value, tags))
	return err
}

func (s *RPCStorage) Get(ctx context.Context, key string, tags []string) ([]blob.Entry, error) {
	resp, err := s.invoke(ctx, common.NewGetRequest(s.name, key, tags))
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Delete reports whether the key existed.
func (s *RPCStorage) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := s.invoke(ctx, common.NewDeleteRequest(s.name, key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *RPCStorage) Keys(ctx context.Context) ([]string, error) {
	resp, err := s.invoke(ctx, common.NewKeysRequest(s.name))
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// Filter returns every entry without filters.
func (s *RPCStorage) Filter(ctx context.Context, filters []blob.Filter) ([]blob.Entry, error) {
	resp, err := s.invoke(ctx, common.NewFilterRequest(s.name, filters))
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
