package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/rpc/common"
	"github.com/ValentinKolb/dTable/rpc/serializer"
	"github.com/ValentinKolb/dTable/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// shutdownTimeout bounds the time running requests get to finish
const shutdownTimeout = 30 * time.Second

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapters:   xsync.NewMapOf[common.Route, IRPCServerAdapter](),
	}
}

// RPCServer serves one catalog over a transport.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapters   *xsync.MapOf[common.Route, IRPCServerAdapter]
	mgr        *catalog.Manager
}

// handle decodes a request, dispatches it to the adapter of its route and
// encodes the response
func (s *RPCServer) handle(ctx context.Context, route common.Route, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	// Get appropriate adapter
	adapter, ok := s.adapters.Load(route)

	// Case adapter does not exist -> error
	if !ok {
		respMsg = common.NewErrorResponse(dberr.CodeInvalidArgument, fmt.Sprintf("route %q not found", route))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(dberr.CodeInvalidArgument, fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		// Let the adapter handle the request
		respMsg = adapter.Handle(ctx, &msg)
		if respMsg.Err != "" {
			Logger.Debugf("%s on %q failed: %s", msg.MsgType, msg.Collection, respMsg.Err)
		}
	}

	// Return result
	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(dberr.CodeInternal, fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// init opens the catalog and registers the adapters
func (s *RPCServer) init(ctx context.Context) error {
	// Init logger
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}
	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	mgr, err := catalog.NewManager(ctx, s.config.ToCatalogConfig())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	s.mgr = mgr

	s.adapters.Store(common.RouteCollections, NewCatalogServerAdapter(mgr))
	s.adapters.Store(common.RouteStorages, NewBlobServerAdapter(mgr))

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)

	Logger.Infof("dTable setup completed successfully")
	return nil
}

// Serve starts the RPC server. It initializes the catalog, starts the
// transport layer and blocks until the process receives SIGINT or SIGTERM
// or the transport fails. On return the catalog is closed.
func (s *RPCServer) Serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.ServeContext(ctx)
}

// ServeContext is Serve with the shutdown triggered by ctx instead of a
// signal.
func (s *RPCServer) ServeContext(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.transport.Listen(s.config)
	}()

	var err error
	select {
	case err = <-listenErr:
		if err != nil {
			Logger.Errorf("transport failed: %v", err)
		}
	case <-ctx.Done():
		Logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = s.transport.Shutdown(shutdownCtx)
		cancel()
		<-listenErr
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(err, s.mgr.Close(closeCtx))
}
