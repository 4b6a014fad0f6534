package table

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	mergeFailures   = metrics.NewCounter("dtable_merge_failures_total")
	mergeDuration   = metrics.NewHistogram("dtable_merge_duration_seconds")
	saveTotal       = metrics.NewCounter("dtable_saves_total")
	saveFailures    = metrics.NewCounter("dtable_save_failures_total")
	saveDuration    = metrics.NewHistogram("dtable_save_duration_seconds")
	queryTotal      = metrics.NewCounter("dtable_table_queries_total")
	queryFailures   = metrics.NewCounter("dtable_table_query_failures_total")
	loadedRowsTotal = metrics.NewCounter("dtable_loaded_rows_total")
)

// mergeCounter returns the merge counter of a policy
func mergeCounter(p Policy) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dtable_merge_total{policy=%q}`, p.String()))
}
