package collection

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dTable/cmd/util"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/ValentinKolb/dTable/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dTable servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfCollection = "__perf"
	perfBatchRows  = 1000
	perfNumThreads = 10
	perfSkip       = make([]string, 0)

	// perfBase is the first timestamp written by the benchmarks
	perfBase = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. append,query-scan)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "batch-rows"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How many rows the batch of the append-large test has"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfBatchRows = max(viper.GetInt("batch-rows"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dTable servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	ctx := context.Background()
	if err := rpcCatalog.DropCollection(ctx, perfCollection); err != nil {
		return err
	}
	defer func() {
		if err := rpcCatalog.DropCollection(ctx, perfCollection); err != nil {
			log.Printf("error dropping %s: %v\n", perfCollection, err)
		}
	}()

	fmt.Println("starting tests...")

	// every append writes new seconds, so appends never collide
	var second atomic.Int64
	nextBatch := func(rows int) *relation.Relation {
		first := second.Add(int64(rows)) - int64(rows)
		rec := relation.Records{Columns: []string{relation.Datetime, "value"}}
		for i := 0; i < rows; i++ {
			at := perfBase.Add(time.Duration(first+int64(i)) * time.Second)
			rec.Rows = append(rec.Rows, []any{at, float64(i)})
		}
		rel, err := relation.FromRecords(rec)
		if err != nil {
			log.Fatalf("failed to build batch: %v", err)
		}
		return rel
	}

	results := make(map[string]testing.BenchmarkResult)
	benchmarks := []struct {
		name string
		op   func(ctx context.Context) error
	}{
		{"append", func(ctx context.Context) error {
			return rpcCatalog.AppendBatch(ctx, perfCollection, nextBatch(1), table.Append, "perf")
		}},
		{"append-large", func(ctx context.Context) error {
			return rpcCatalog.AppendBatch(ctx, perfCollection, nextBatch(perfBatchRows), table.Append, "perf")
		}},
		{"update", func(ctx context.Context) error {
			at := perfBase.Add(time.Duration(second.Load()/2) * time.Second)
			batch, err := relation.FromRecords(relation.Records{
				Columns: []string{relation.Datetime, "value"},
				Rows:    [][]any{{at, -1.0}},
			})
			if err != nil {
				return err
			}
			return rpcCatalog.AppendBatch(ctx, perfCollection, batch, table.Update, "perf")
		}},
		{"query-point", func(ctx context.Context) error {
			at := perfBase.Add(time.Duration(second.Load()/2) * time.Second).Format(time.DateTime)
			_, err := rpcCatalog.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE datetime = '%s'", perfCollection, at), nil)
			return err
		}},
		{"query-scan", func(ctx context.Context) error {
			_, err := rpcCatalog.Query(ctx, fmt.Sprintf("SELECT COUNT(*), AVG(`perf.value`) FROM %s", perfCollection), nil)
			return err
		}},
	}

	for _, bm := range benchmarks {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if err := bm.op(ctx); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
				}
			})
		})
		results[bm.name] = result
		printResult(bm.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount",
		"Serializer", "Transport", "Threads", "BatchRows",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfBatchRows),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
