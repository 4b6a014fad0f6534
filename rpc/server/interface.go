package server

import (
	"context"

	"github.com/ValentinKolb/dTable/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// If an error occurs, it is set in the response together with its code.
	Handle(ctx context.Context, req *common.Message) (resp *common.Message)
}
