package storage

import (
	"context"
	"time"

	"github.com/ValentinKolb/dTable/cmd/util"
	"github.com/ValentinKolb/dTable/rpc/client"
	"github.com/ValentinKolb/dTable/rpc/serializer"
	"github.com/ValentinKolb/dTable/rpc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// StorageCommands represents the storage command group
	StorageCommands = &cobra.Command{
		Use:               "storage",
		Short:             "Perform key-value storage operations",
		PersistentPreRunE: setupStorageClient,
	}

	clientSerializer serializer.IRPCSerializer
	clientTransport  transport.IRPCClientTransport
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the storage command
	util.SetupRPCClientFlags(StorageCommands)

	// Add subcommands
	StorageCommands.AddCommand(setCmd)
	StorageCommands.AddCommand(getCmd)
	StorageCommands.AddCommand(delCmd)
	StorageCommands.AddCommand(keysCmd)
	StorageCommands.AddCommand(filterCmd)
	StorageCommands.AddCommand(listCmd)
	StorageCommands.AddCommand(createCmd)
	StorageCommands.AddCommand(dropCmd)
}

// setupStorageClient resolves serializer and transport. The clients are
// created per command since every command names its storage.
func setupStorageClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if clientSerializer, err = util.GetSerializer(); err != nil {
		return err
	}
	clientTransport, err = util.GetTransport()
	return err
}

// storageClient creates the client of one storage
func storageClient(name string) (*client.RPCStorage, error) {
	return client.NewRPCStorage(name, *util.GetClientConfig(), clientTransport, clientSerializer)
}

// requestContext returns a context bounded by the client timeout
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(viper.GetInt("timeout"))*time.Second)
}
