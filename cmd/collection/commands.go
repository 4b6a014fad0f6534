package collection

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/dTable/cmd/util"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/router"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	createIndexType string
	appendPolicy    string
	appendDomain    string
	dropDomain      string
	queryDomains    []string
	queryMerge      bool
	outputJSON      bool

	createCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Creates an empty collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			if err := rpcCatalog.CreateCollection(ctx, args[0], "table", table.ParseIndexType(createIndexType)); err != nil {
				return err
			}
			fmt.Println("created successfully")
			return nil
		},
	}
	dropCmd = &cobra.Command{
		Use:   "drop [name]",
		Short: "Drops a collection and deletes its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			if err := rpcCatalog.DropCollection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("dropped successfully")
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			list, err := rpcCatalog.ListCollections(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return util.PrintJSON(os.Stdout, list)
			}
			for _, c := range list {
				fmt.Printf("%-24s %-10s %10s rows  %3d columns  edited %s\n",
					c.Name, c.IndexType, humanize.Comma(int64(c.Rows)), len(c.Columns), humanize.Time(c.LastEdit))
			}
			return nil
		},
	}
	describeCmd = &cobra.Command{
		Use:   "describe [name]",
		Short: "Describes the columns of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			descs, err := rpcCatalog.DescribeCollection(ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return util.PrintJSON(os.Stdout, descs)
			}
			for _, d := range descs {
				fmt.Printf("%-32s %-12s null=%s\n", d.Field, d.Type, d.Null)
			}
			return nil
		},
	}
	appendCmd = &cobra.Command{
		Use:   "append [name] [file]",
		Short: "Merges a batch of records into a collection",
		Long:  `Merges a batch into a collection. The batch is read from file (or stdin if file is "-") in the records format {"index": [...], "columns": [...], "rows": [[...], ...]}. The collection is created if it does not exist.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := table.ParsePolicy(appendPolicy)
			if err != nil {
				return err
			}

			var r io.Reader = os.Stdin
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			rec, err := util.ReadRecords(r)
			if err != nil {
				return err
			}
			batch, err := relation.FromRecords(rec)
			if err != nil {
				return err
			}

			ctx, cancel := requestContext()
			defer cancel()
			if err := rpcCatalog.AppendBatch(ctx, args[0], batch, policy, appendDomain); err != nil {
				return err
			}
			fmt.Printf("merged %s rows (%s)\n", humanize.Comma(int64(batch.NumRows())), policy)
			return nil
		},
	}
	dropColumnsCmd = &cobra.Command{
		Use:   "drop-columns [name] [column...]",
		Short: "Drops columns of a collection",
		Long:  `Drops every column starting with one of the given names. "*" selects all columns, restricted to --domain if set.`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			dropped, err := rpcCatalog.DropColumns(ctx, args[0], args[1:], dropDomain)
			if err != nil {
				return err
			}
			fmt.Printf("dropped %d columns: %s\n", len(dropped), strings.Join(dropped, ", "))
			return nil
		},
	}
	saveCmd = &cobra.Command{
		Use:   "save [name]",
		Short: "Requests a save of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			if err := rpcCatalog.SaveCollection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("save requested")
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [sql...]",
		Short: "Runs SQL on the server",
		Long:  `Runs SQL on the server. With one argument every statement in it is run in order. With several arguments the queries run concurrently, and --merge joins their results on datetime (or row position).`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()

			var err error
			var results []router.Result
			if len(args) == 1 && !queryMerge {
				results, err = rpcCatalog.Query(ctx, args[0], queryDomains)
			} else {
				results, err = rpcCatalog.QueryMultiple(ctx, args, queryDomains, queryMerge)
			}
			if err != nil {
				return err
			}

			for i, res := range results {
				if outputJSON {
					if err := util.PrintJSON(os.Stdout, relation.ToRecords(res.Relation)); err != nil {
						return err
					}
					continue
				}
				if i > 0 {
					fmt.Println()
				}
				if err := util.PrintRelation(os.Stdout, res.Relation); err != nil {
					return err
				}
				fmt.Printf("(%s rows)\n", humanize.Comma(int64(res.Relation.NumRows())))
			}
			return nil
		},
	}
)

func init() {
	CollectionCommands.PersistentFlags().BoolVar(&outputJSON, "json", false, util.WrapString("Print results as JSON"))
	createCmd.Flags().StringVar(&createIndexType, "index", string(table.IndexTimeseries), util.WrapString("Index type of the collection (timeseries, raw)"))
	appendCmd.Flags().StringVar(&appendPolicy, "policy", "append", util.WrapString("Merge policy (append, update, overwrite, keep, dropbefore)"))
	appendCmd.Flags().StringVar(&appendDomain, "domain", "", util.WrapString("Domain prefix added to the batch columns"))
	dropColumnsCmd.Flags().StringVar(&dropDomain, "domain", "", util.WrapString("Restrict the columns to this domain"))
	queryCmd.Flags().StringSliceVar(&queryDomains, "domains", nil, util.WrapString("Restrict results to the columns of these domains"))
	queryCmd.Flags().BoolVar(&queryMerge, "merge", false, util.WrapString("Merge the results of all queries into one"))
}
