package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dTable/rpc/common"
	"github.com/ValentinKolb/dTable/rpc/serializer"
	"github.com/ValentinKolb/dTable/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the RPCCatalog and RPCStorage with composition pattern
type rpcClientAdapter struct {
	route      common.Route
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

func newClientAdapter(
	route common.Route,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (rpcClientAdapter, error) {
	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return rpcClientAdapter{}, err
	}
	return rpcClientAdapter{
		route:      route,
		config:     config,
		transport:  transport,
		serializer: serializer,
	}, nil
}

// Close closes the underlying transport.
func (c *rpcClientAdapter) Close() error {
	return c.transport.Close()
}

// invoke is a helper function used for all RPC Clients to send requests
// It returns the response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type.
// Error responses are returned as dberr errors with the code set by the server.
func (c *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := c.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := c.transport.Send(ctx, c.route, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := c.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC client - failed to decode response: %w", err)
	}

	// Check if the response is an error response
	if err := resp.Error(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC client - Unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
