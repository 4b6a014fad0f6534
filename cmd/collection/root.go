package collection

import (
	"context"
	"time"

	"github.com/ValentinKolb/dTable/cmd/util"
	"github.com/ValentinKolb/dTable/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcCatalog *client.RPCCatalog

	// CollectionCommands represents the collection command group
	CollectionCommands = &cobra.Command{
		Use:               "collection",
		Aliases:           []string{"col"},
		Short:             "Manage and query collections",
		PersistentPreRunE: setupCatalogClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the collection command
	util.SetupRPCClientFlags(CollectionCommands)

	// Add subcommands
	CollectionCommands.AddCommand(createCmd)
	CollectionCommands.AddCommand(dropCmd)
	CollectionCommands.AddCommand(listCmd)
	CollectionCommands.AddCommand(describeCmd)
	CollectionCommands.AddCommand(appendCmd)
	CollectionCommands.AddCommand(dropColumnsCmd)
	CollectionCommands.AddCommand(saveCmd)
	CollectionCommands.AddCommand(queryCmd)
	CollectionCommands.AddCommand(perfTestCmd)
}

// setupCatalogClient initializes the RPC catalog client
func setupCatalogClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the catalog client
	rpcCatalog, err = client.NewRPCCatalog(
		*util.GetClientConfig(),
		t,
		s,
	)
	return err
}

// requestContext returns a context bounded by the client timeout
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(viper.GetInt("timeout"))*time.Second)
}
