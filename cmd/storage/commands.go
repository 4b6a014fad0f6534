package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dTable/cmd/util"
	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/rpc/client"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	tags       []string
	outputJSON bool

	setCmd = &cobra.Command{
		Use:   "set [storage] [key] [value]",
		Short: "Stores a value under a key (and tags)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storageClient(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			if err := s.Set(ctx, args[1], []byte(args[2]), tags); err != nil {
				return err
			}
			fmt.Printf("set %s successfully\n", blob.FullKey(args[1], tags))
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [storage] [key]",
		Short: "Reads the entries of a key, optionally restricted to entries with one of --tags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storageClient(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			entries, err := s.Get(ctx, args[1], tags)
			if err != nil {
				return err
			}
			return printEntries(entries)
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [storage] [key]",
		Short: "Deletes every entry of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storageClient(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			found, err := s.Delete(ctx, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[1], found)
			return nil
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys [storage]",
		Short: "Lists the keys of a storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storageClient(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			keys, err := s.Keys(ctx)
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(keys, "\n"))
			return nil
		},
	}
	filterCmd = &cobra.Command{
		Use:   "filter [storage] [key...]",
		Short: "Reads the entries of several keys (all entries without keys)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storageClient(args[0])
			if err != nil {
				return err
			}
			var filters []blob.Filter
			for _, key := range args[1:] {
				filters = append(filters, blob.Filter{Key: key, Tags: tags})
			}
			ctx, cancel := requestContext()
			defer cancel()
			entries, err := s.Filter(ctx, filters)
			if err != nil {
				return err
			}
			return printEntries(entries)
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all storages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewRPCCatalog(*util.GetClientConfig(), clientTransport, clientSerializer)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			list, err := c.ListStorages(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return util.PrintJSON(os.Stdout, list)
			}
			for _, st := range list {
				fmt.Printf("%-24s %8s entries %10s  %3d keys  edited %s\n",
					st.Name, humanize.Comma(int64(st.Rows)), humanize.Bytes(uint64(st.Size)), len(st.Keys), humanize.Time(st.LastEdit))
			}
			return nil
		},
	}
	createCmd = &cobra.Command{
		Use:   "create [storage]",
		Short: "Creates an empty storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storageClient(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			if err := s.Create(ctx); err != nil {
				return err
			}
			fmt.Println("created successfully")
			return nil
		},
	}
	dropCmd = &cobra.Command{
		Use:   "drop [storage]",
		Short: "Drops a storage and deletes its file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storageClient(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			if err := s.Drop(ctx); err != nil {
				return err
			}
			fmt.Println("dropped successfully")
			return nil
		},
	}
)

func init() {
	StorageCommands.PersistentFlags().BoolVar(&outputJSON, "json", false, util.WrapString("Print results as JSON"))
	setCmd.Flags().StringSliceVar(&tags, "tags", nil, util.WrapString("Tags of the entry"))
	getCmd.Flags().StringSliceVar(&tags, "tags", nil, util.WrapString("Only return entries with one of these tags"))
	filterCmd.Flags().StringSliceVar(&tags, "tags", nil, util.WrapString("Only return entries with one of these tags"))
}

// printEntries prints blob entries, one per line
func printEntries(entries []blob.Entry) error {
	if outputJSON {
		return util.PrintJSON(os.Stdout, entries)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\n", e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.Value)
	}
	return nil
}
