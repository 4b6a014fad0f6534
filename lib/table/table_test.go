package table

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dTable/lib/colfile"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/engine"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func testConfig(t *testing.T, name string, indexType IndexType) Config {
	t.Helper()
	return Config{
		Name:            name,
		Dir:             t.TempDir(),
		IndexType:       indexType,
		Engine:          engine.New(),
		SaveCooldown:    time.Hour,
		QuiesceInterval: time.Millisecond,
		QuiesceRetries:  20,
	}
}

func openTable(t *testing.T, cfg Config, create bool) *Table {
	t.Helper()
	tbl, err := Open(cfg, create)
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	return tbl
}

func maps(t *testing.T, rows ...map[string]any) *relation.Relation {
	t.Helper()
	rel, err := relation.FromMaps(rows)
	require.NoError(t, err)
	return rel
}

func column(t *testing.T, rel *relation.Relation, name string) []any {
	t.Helper()
	c, ok := rel.Column(name)
	require.True(t, ok, "column %s missing in %v", name, rel)
	return c.Values
}

// --------------------------------------------------------------------------
// Lifecycle and persistence
// --------------------------------------------------------------------------

func TestOpenMissingIsStale(t *testing.T) {
	_, err := Open(testConfig(t, "ghost", IndexTimeseries), false)
	assert.True(t, dberr.Is(err, dberr.CodeStaleCatalogEntry), "got %v", err)
}

func TestCreateThenFlushWritesFile(t *testing.T) {
	cfg := testConfig(t, "empty", IndexRaw)
	tbl := openTable(t, cfg, true)
	assert.True(t, tbl.Dirty())

	require.NoError(t, tbl.Flush(context.Background()))
	assert.False(t, tbl.Dirty())
	assert.True(t, colfile.Exists(FilePath(cfg.Dir, "empty")))
}

func TestTwoLevelRoundTrip(t *testing.T) {
	cfg := testConfig(t, "grid", IndexRaw)
	tbl := openTable(t, cfg, true)

	in, err := relation.FromRecords(relation.Records{
		Index:   []string{"sensor", "slot"},
		Columns: []string{"sensor", "slot", "value", "note"},
		Rows: [][]any{
			{"b", 2, 2.5, nil},
			{"a", 1, 1.5, "x"},
			{"a", 2, nil, "y"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, tbl.MergeBatch(context.Background(), in, Append, ""))

	before := tbl.Snapshot()
	assert.Equal(t, []string{"sensor", "slot"}, before.IndexNames())
	assert.True(t, before.HasColumn("index_sensor"))

	require.NoError(t, tbl.Flush(context.Background()))
	tbl.Close()

	reopened := openTable(t, cfg, false)
	after := reopened.Snapshot()
	assert.True(t, relation.Equal(before, after), "before %v, after %v", before, after)
}

func TestTimeseriesRoundTrip(t *testing.T) {
	cfg := testConfig(t, "metrics", IndexTimeseries)
	tbl := openTable(t, cfg, true)

	require.NoError(t, tbl.MergeBatch(context.Background(), maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "temp": 21, "created_time": 0},
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "temp": 20, "created_time": 1000},
	), Append, ""))
	before := tbl.Snapshot()

	require.NoError(t, tbl.Flush(context.Background()))
	tbl.Close()

	after := openTable(t, cfg, false).Snapshot()
	assert.True(t, relation.Equal(before, after), "before %v, after %v", before, after)
	assert.Equal(t, []string{relation.Datetime}, after.IndexNames())
	assert.Equal(t, []any{time.UnixMilli(1000).UTC(), time.UnixMilli(0).UTC()}, column(t, after, "created_time"))
}

func TestRawDatetimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "events", IndexRaw)
	tbl := openTable(t, cfg, true)

	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "v": 1},
	), Append, ""))
	before := tbl.Snapshot()
	require.Equal(t, []string{relation.Datetime}, before.IndexNames())

	require.NoError(t, tbl.Flush(ctx))
	tbl.Close()

	reopened := openTable(t, cfg, false)
	after := reopened.Snapshot()
	assert.Equal(t, []string{relation.Datetime}, after.IndexNames())
	assert.True(t, relation.Equal(before, after), "before %v, after %v", before, after)

	require.NoError(t, reopened.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "v": 2},
	), Update, ""))
	assert.Equal(t, []any{int64(2)}, column(t, reopened.Snapshot(), "v"))
}

func TestEpochDatetimeSurvivesReload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "metrics", IndexTimeseries)
	tbl := openTable(t, cfg, true)

	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: 1704067200000, "v": 1},
	), Append, ""))
	level, ok := tbl.Snapshot().Level(relation.Datetime)
	require.True(t, ok)
	assert.Equal(t, relation.KindTime, level.Kind)

	require.NoError(t, tbl.Flush(ctx))
	tbl.Close()

	reopened := openTable(t, cfg, false)
	require.NoError(t, reopened.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "v": 2},
	), Update, ""))
	after := reopened.Snapshot()
	require.Equal(t, 1, after.NumRows())
	assert.Equal(t, []any{int64(2)}, column(t, after, "v"))
}

func TestPositionalRoundTrip(t *testing.T) {
	cfg := testConfig(t, "raw", IndexRaw)
	tbl := openTable(t, cfg, true)

	require.NoError(t, tbl.MergeBatch(context.Background(), maps(t,
		map[string]any{"a": 1},
		map[string]any{"a": 2},
	), Append, ""))
	require.NoError(t, tbl.MergeBatch(context.Background(), maps(t,
		map[string]any{"a": 3},
	), Append, ""))

	before := tbl.Snapshot()
	require.Equal(t, 3, before.NumRows())
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(t, before, "a"))

	require.NoError(t, tbl.Flush(context.Background()))
	tbl.Close()

	after := openTable(t, cfg, false).Snapshot()
	assert.True(t, after.IsPositional())
	assert.True(t, relation.Equal(before, after), "before %v, after %v", before, after)
}

// --------------------------------------------------------------------------
// Merge
// --------------------------------------------------------------------------

func TestScenarioUpdate(t *testing.T) {
	tbl := openTable(t, testConfig(t, "metrics", IndexTimeseries), true)
	ctx := context.Background()

	require.NoError(t, tbl.MergeBatch(ctx, maps(t, map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "temp": 20}), Append, ""))
	require.NoError(t, tbl.MergeBatch(ctx, maps(t, map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "temp": 22}), Update, ""))

	res, _, err := tbl.Query(ctx, "SELECT * FROM metrics", nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.NumRows())
	assert.Equal(t, []any{int64(22)}, column(t, res, "temp"))
}

func TestUpdateIdempotent(t *testing.T) {
	tbl := openTable(t, testConfig(t, "metrics", IndexTimeseries), true)
	ctx := context.Background()

	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "a": 1, "b": "x"},
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "a": 2, "b": "y"},
	), Append, ""))

	update := maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "a": 20, "b": nil},
		map[string]any{relation.Datetime: "2024-01-01T00:00:05Z", "a": 50},
	)
	require.NoError(t, tbl.MergeBatch(ctx, update, Update, ""))
	once := tbl.Snapshot()
	require.NoError(t, tbl.MergeBatch(ctx, update, Update, ""))
	twice := tbl.Snapshot()

	assert.True(t, relation.Equal(once, twice))
	assert.Equal(t, 2, twice.NumRows())
	assert.Equal(t, []any{int64(1), int64(20)}, column(t, twice, "a"))
	assert.Equal(t, []any{"x", "y"}, column(t, twice, "b"))
}

func TestAppendCompleteness(t *testing.T) {
	tbl := openTable(t, testConfig(t, "metrics", IndexTimeseries), true)
	ctx := context.Background()

	b1 := maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "a": 1},
		map[string]any{relation.Datetime: "2024-01-01T00:00:02Z", "a": 3},
	)
	b2 := maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "a": 2, "b": "x"},
	)
	require.NoError(t, tbl.MergeBatch(ctx, b1, Append, ""))
	require.NoError(t, tbl.MergeBatch(ctx, b2, Append, ""))

	rel := tbl.Snapshot()
	require.Equal(t, b1.NumRows()+b2.NumRows(), rel.NumRows())
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(t, rel, "a"))
	assert.Equal(t, []any{nil, "x", nil}, column(t, rel, "b"))
}

func TestAppendRoundsAndDedupes(t *testing.T) {
	tbl := openTable(t, testConfig(t, "metrics", IndexTimeseries), true)

	require.NoError(t, tbl.MergeBatch(context.Background(), maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00.200Z", "a": 1},
		map[string]any{relation.Datetime: "2024-01-01T00:00:00.300Z", "a": 2},
	), Append, ""))

	rel := tbl.Snapshot()
	require.Equal(t, 1, rel.NumRows())
	assert.Equal(t, []any{int64(2)}, column(t, rel, "a"))
}

func TestAppendMarkerOverlay(t *testing.T) {
	tbl := openTable(t, testConfig(t, "signals", IndexTimeseries), true)
	ctx := context.Background()

	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "v": 1, "buy:marker": "yes"},
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "v": 2, "buy:marker": "no"},
	), Append, ""))

	// the null marker cell keeps the resident value, the plain column is overwritten
	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "v": nil, "buy:marker": nil},
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "v": 20, "buy:marker": "maybe"},
	), Append, ""))

	rel := tbl.Snapshot()
	assert.Equal(t, []any{"yes", "maybe"}, column(t, rel, "buy:marker"))
	assert.Equal(t, []any{nil, int64(20)}, column(t, rel, "v"))
}

func TestInnerJoinPolicies(t *testing.T) {
	tests := []struct {
		policy Policy
		wantA  []any
	}{
		{Overwrite, []any{int64(20)}},
		{Keep, []any{int64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			tbl := openTable(t, testConfig(t, "m", IndexTimeseries), true)
			ctx := context.Background()

			require.NoError(t, tbl.MergeBatch(ctx, maps(t,
				map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "a": 1},
				map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "a": 2},
			), Append, ""))
			require.NoError(t, tbl.MergeBatch(ctx, maps(t,
				map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "a": 20, "b": true},
				map[string]any{relation.Datetime: "2024-01-01T00:00:09Z", "a": 90, "b": false},
			), tt.policy, ""))

			rel := tbl.Snapshot()
			require.Equal(t, 1, rel.NumRows())
			assert.Equal(t, tt.wantA, column(t, rel, "a"))
			assert.Equal(t, []any{true}, column(t, rel, "b"))
		})
	}
}

func TestDropBefore(t *testing.T) {
	tbl := openTable(t, testConfig(t, "m", IndexTimeseries), true)
	ctx := context.Background()

	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "x": 1, "y": 1},
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "x": 2, "y": 2},
	), Append, "sensorA"))
	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "x": 20},
	), DropBefore, "sensorA"))

	rel := tbl.Snapshot()
	assert.Equal(t, []any{nil, int64(20)}, column(t, rel, "sensorA.x"))
	assert.Equal(t, []any{int64(1), int64(2)}, column(t, rel, "sensorA.y"))
}

func TestMergeFailureReleasesGate(t *testing.T) {
	tbl := openTable(t, testConfig(t, "m", IndexTimeseries), true)
	ctx := context.Background()

	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "a": 1},
	), Append, ""))

	twoLevels, err := relation.FromRecords(relation.Records{
		Index:   []string{"k1", "k2"},
		Columns: []string{"k1", "k2", "a"},
		Rows:    [][]any{{1, 2, 3}},
	})
	require.NoError(t, err)

	err = tbl.MergeBatch(ctx, twoLevels, Append, "")
	assert.True(t, dberr.Is(err, dberr.CodeMergeFailure), "got %v", err)
	assert.True(t, tbl.Gate().Quiescent())
	assert.Equal(t, 1, tbl.Snapshot().NumRows())
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Append, false},
		{"append", Append, false},
		{"UPDATE", Update, false},
		{"overwrite", Overwrite, false},
		{"keep", Keep, false},
		{"dropbefore", DropBefore, false},
		{"merge", Append, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.True(t, dberr.Is(err, dberr.CodeInvalidArgument), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// --------------------------------------------------------------------------
// Query, describe, drop columns
// --------------------------------------------------------------------------

func domainTable(t *testing.T) *Table {
	t.Helper()
	tbl := openTable(t, testConfig(t, "metrics", IndexTimeseries), true)
	require.NoError(t, tbl.MergeBatch(context.Background(), maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "sensorA.x": 1, "sensorB.y": 10, "stats.n": 1},
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "sensorA.x": nil, "sensorB.y": 11, "stats.n": 2},
		map[string]any{relation.Datetime: "2024-01-01T00:00:02Z", "sensorA.x": 3, "sensorB.y": nil, "stats.n": 3},
	), Append, ""))
	return tbl
}

func TestQueryDomainFilter(t *testing.T) {
	tbl := domainTable(t)

	res, descs, err := tbl.Query(context.Background(), `SELECT * FROM "metrics"`, []string{"sensorA"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{relation.Datetime, "x"}, res.ColumnNames())
	// the row with a null x is dropped
	assert.Equal(t, []any{int64(1), int64(3)}, column(t, res, "x"))

	require.Len(t, descs, 2)
	for _, d := range descs {
		assert.Empty(t, d.Key)
		assert.Empty(t, d.Default)
		assert.NotEmpty(t, d.Type)
	}
}

func TestQueryExecutionError(t *testing.T) {
	tbl := domainTable(t)
	_, _, err := tbl.Query(context.Background(), "SELECT nope FROM metrics", nil)
	assert.True(t, dberr.Is(err, dberr.CodeQueryExecution), "got %v", err)
}

func TestDescribe(t *testing.T) {
	tbl := domainTable(t)

	descs := tbl.Describe()
	byName := make(map[string]ColumnDescriptor)
	for _, d := range descs {
		byName[d.Field] = d
	}
	assert.Equal(t, "YES", byName["sensorA.x"].Null)
	assert.Equal(t, "NO", byName["stats.n"].Null)
	assert.Equal(t, "bigint", byName["stats.n"].Type)
}

func TestDropColumnsDomainScenario(t *testing.T) {
	tbl := domainTable(t)

	dropped, err := tbl.DropColumns(context.Background(), []string{"*"}, "sensorA")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensorA.x"}, dropped)

	rel := tbl.Snapshot()
	assert.False(t, rel.HasColumn("sensorA.x"))
	assert.True(t, rel.HasColumn("sensorB.y"))
	assert.True(t, rel.HasColumn("stats.n"))
	// the row left with only stats and datetime is gone
	assert.Equal(t, 2, rel.NumRows())

	info := tbl.Info()
	assert.Equal(t, []string{"sensorB", "stats"}, info.Domains)
}

func TestDropColumnsByPrefix(t *testing.T) {
	tbl := domainTable(t)

	dropped, err := tbl.DropColumns(context.Background(), []string{"y"}, "sensorB")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensorB.y"}, dropped)

	dropped, err = tbl.DropColumns(context.Background(), []string{"missing"}, "")
	require.NoError(t, err)
	assert.Empty(t, dropped)
}

// --------------------------------------------------------------------------
// Gate
// --------------------------------------------------------------------------

func TestQuiescenceTimeout(t *testing.T) {
	g := NewGate(time.Millisecond, 10)
	g.Block()

	start := time.Now()
	err := g.WaitUntilQuiescent(context.Background())
	assert.True(t, dberr.Is(err, dberr.CodeOperationTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)

	g.Unblock()
	assert.NoError(t, g.WaitUntilQuiescent(context.Background()))
}

func TestRetire(t *testing.T) {
	ctx := context.Background()
	tbl := openTable(t, testConfig(t, "metrics", IndexTimeseries), true)
	require.NoError(t, tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "v": 1},
	), Append, ""))

	// unsaved changes and running operations keep the table open
	assert.False(t, tbl.Retire())
	require.NoError(t, tbl.Flush(ctx))
	tbl.Gate().Block()
	assert.False(t, tbl.Retire())
	tbl.Gate().Unblock()

	require.True(t, tbl.Retire())
	assert.True(t, tbl.Closed())

	err := tbl.MergeBatch(ctx, maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "v": 2},
	), Append, "")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tbl.DropColumns(ctx, []string{"v"}, "")
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = tbl.Query(ctx, "SELECT * FROM metrics", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, tbl.Dirty())
}

func TestOnChangePublishesInfo(t *testing.T) {
	cfg := testConfig(t, "metrics", IndexTimeseries)
	var got []Info
	cfg.OnChange = func(info Info) { got = append(got, info) }
	tbl := openTable(t, cfg, true)

	require.NoError(t, tbl.MergeBatch(context.Background(), maps(t,
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "sensorA.x": 1},
	), Append, ""))

	require.Len(t, got, 1)
	assert.Equal(t, "metrics", got[0].Name)
	assert.Equal(t, 1, got[0].Rows)
	assert.Equal(t, []string{relation.Datetime, "sensorA.x"}, got[0].Columns)
	assert.Equal(t, []string{"sensorA"}, got[0].Domains)
}
