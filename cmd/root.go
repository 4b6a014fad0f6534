package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dTable/cmd/collection"
	"github.com/ValentinKolb/dTable/cmd/serve"
	"github.com/ValentinKolb/dTable/cmd/storage"
	"github.com/ValentinKolb/dTable/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dtable",
		Short: "tabular time-series and key-value store",
		Long: fmt.Sprintf(`dTable (v%s)

A tabular store written in Go. Collections are queried with SQL through an
embedded engine, kept in memory while in use and persisted as column files.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dTable",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dTable v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(collection.CollectionCommands)
	RootCmd.AddCommand(storage.StorageCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
