package relation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byID builds a relation indexed by "id" from (id, column values...) rows
func byID(t *testing.T, columns []string, rows ...[]any) *Relation {
	t.Helper()
	rel, err := FromRecords(Records{
		Index:   []string{"id"},
		Columns: append([]string{"id"}, columns...),
		Rows:    rows,
	})
	require.NoError(t, err)
	return rel
}

func ts(s string) time.Time {
	t, err := ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewColumnWidening(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		kind   Kind
		want   []any
	}{
		{"ints", []any{1, int32(2), nil}, KindInt, []any{int64(1), int64(2), nil}},
		{"int and float", []any{1, 2.5}, KindFloat, []any{1.0, 2.5}},
		{"int and string", []any{1, "a"}, KindString, []any{"1", "a"}},
		{"nan is null", []any{1.5, 0.0 / zero()}, KindFloat, []any{1.5, nil}},
		{"json numbers", []any{json.Number("3"), json.Number("4")}, KindInt, []any{int64(3), int64(4)}},
		{"all null", []any{nil, nil}, KindNull, []any{nil, nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewColumn("c", tt.values)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.want, c.Values)
		})
	}
}

func zero() float64 { return 0 }

func TestColumnSetPromotes(t *testing.T) {
	c := NewColumn("c", []any{1, 2})
	c.Set(1, 2.5)
	assert.Equal(t, KindFloat, c.Kind)
	assert.Equal(t, []any{1.0, 2.5}, c.Values)
}

func TestNewRejectsCollisions(t *testing.T) {
	_, err := New([]*Column{NewColumn("id", []any{1})}, []*Column{NewColumn("id", []any{2})})
	assert.Error(t, err)

	_, err = New(nil, []*Column{NewColumn("a", []any{1, 2}), NewColumn("b", []any{1})})
	assert.Error(t, err)

	// the Datetime level may be mirrored
	now := time.Now().UTC()
	rel, err := New([]*Column{NewColumn(Datetime, []any{now})}, []*Column{NewColumn(Datetime, []any{now})})
	require.NoError(t, err)
	assert.True(t, rel.IsTimeIndexed())
}

func TestFromRecordsDefaultsToDatetimeIndex(t *testing.T) {
	rel, err := FromRecords(Records{
		Columns: []string{Datetime, "temp"},
		Rows:    [][]any{{"2024-01-01T00:00:00Z", 20}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{Datetime}, rel.IndexNames())
	assert.Equal(t, []string{Datetime, "temp"}, rel.ColumnNames())
	assert.True(t, rel.IsTimeIndexed())

	level, _ := rel.Level(Datetime)
	assert.Equal(t, ts("2024-01-01T00:00:00Z"), level.Values[0])
	col, _ := rel.Column(Datetime)
	assert.Equal(t, KindTime, col.Kind)
}

func TestFromRecordsEpochIndex(t *testing.T) {
	rel, err := FromRecords(Records{
		Columns: []string{Datetime, "temp"},
		Rows:    [][]any{{int64(1704067200000), 20}, {1704067201000.0, 21}},
	})
	require.NoError(t, err)

	level, _ := rel.Level(Datetime)
	assert.Equal(t, KindTime, level.Kind)
	assert.Equal(t, []any{ts("2024-01-01T00:00:00Z"), ts("2024-01-01T00:00:01Z")}, level.Values)
	assert.True(t, rel.IsTimeIndexed())
}

func TestFromRecordsPositional(t *testing.T) {
	rel, err := FromRecords(Records{Columns: []string{"a"}, Rows: [][]any{{1}, {2}}})
	require.NoError(t, err)
	assert.True(t, rel.IsPositional())
	assert.Equal(t, 2, rel.NumRows())

	_, err = FromRecords(Records{Columns: []string{"a"}, Rows: [][]any{{1, 2}}})
	assert.Error(t, err)
}

func TestRecordsJSONKeepsIntegers(t *testing.T) {
	var rec Records
	require.NoError(t, json.Unmarshal([]byte(`{"index":["id"],"columns":["id","v"],"rows":[[1,1.5],[2,3]]}`), &rec))

	rel, err := FromRecords(rec)
	require.NoError(t, err)

	id, _ := rel.Level("id")
	assert.Equal(t, KindInt, id.Kind)
	v, _ := rel.Column("v")
	assert.Equal(t, KindFloat, v.Kind)
	assert.Equal(t, []any{1.5, 3.0}, v.Values)
}

func TestRecordsRoundTrip(t *testing.T) {
	rel, err := FromRecords(Records{
		Index:   []string{"sensor", "slot"},
		Columns: []string{"sensor", "slot", "value"},
		Rows: [][]any{
			{"a", 1, 1.5},
			{"b", 2, nil},
		},
	})
	require.NoError(t, err)

	back, err := FromRecords(ToRecords(rel))
	require.NoError(t, err)
	assert.True(t, Equal(rel, back), "%v != %v", rel, back)

	timeseries, err := FromMaps([]map[string]any{
		{Datetime: "2024-01-01T00:00:00Z", "temp": 20},
	})
	require.NoError(t, err)
	back, err = FromRecords(ToRecords(timeseries))
	require.NoError(t, err)
	assert.True(t, Equal(timeseries, back), "%v != %v", timeseries, back)
}

func TestUpsertAppendCompleteness(t *testing.T) {
	b1 := byID(t, []string{"a"}, []any{1, "x"}, []any{2, "y"})
	b2 := byID(t, []string{"a", "b"}, []any{3, "z", 1.5}, []any{4, nil, 2.5})

	rel := b1.Clone()
	require.NoError(t, rel.Upsert(b2, true))

	require.Equal(t, b1.NumRows()+b2.NumRows(), rel.NumRows())
	assert.Equal(t, []string{"a", "b"}, rel.ColumnNames())

	a, _ := rel.Column("a")
	b, _ := rel.Column("b")
	assert.Equal(t, []any{"x", "y", "z", nil}, a.Values)
	assert.Equal(t, []any{nil, nil, 1.5, 2.5}, b.Values)
}

func TestUpsertOverwritesNullsOnlyWhenAsked(t *testing.T) {
	rel := byID(t, []string{"a"}, []any{1, 10})
	in := byID(t, []string{"a"}, []any{1, nil})

	keep := rel.Clone()
	require.NoError(t, keep.Upsert(in, false))
	a, _ := keep.Column("a")
	assert.Equal(t, []any{int64(10)}, a.Values)

	require.NoError(t, rel.Upsert(in, true))
	a, _ = rel.Column("a")
	assert.Equal(t, []any{nil}, a.Values)
}

func TestUpsertIntoEmptyAdoptsIndex(t *testing.T) {
	rel := Empty()
	in := byID(t, []string{"a"}, []any{1, 10})
	require.NoError(t, rel.Upsert(in, true))
	assert.Equal(t, []string{"id"}, rel.IndexNames())
	assert.Equal(t, 1, rel.NumRows())
}

func TestUpdateCellsIdempotent(t *testing.T) {
	rel := byID(t, []string{"a", "b"}, []any{1, 1, "p"}, []any{2, 2, "q"})
	in := byID(t, []string{"a", "c"}, []any{2, 20, true}, []any{9, 90, false})

	require.NoError(t, rel.UpdateCells(in, false))
	once := rel.Clone()
	require.NoError(t, rel.UpdateCells(in, false))

	assert.True(t, Equal(once, rel))
	assert.Equal(t, 2, rel.NumRows())
	assert.False(t, rel.HasColumn("c"))
	a, _ := rel.Column("a")
	assert.Equal(t, []any{int64(1), int64(20)}, a.Values)
}

func TestInnerJoin(t *testing.T) {
	left := byID(t, []string{"a"}, []any{1, 1}, []any{2, 2}, []any{3, 3})
	right := byID(t, []string{"a", "b"}, []any{2, 20, "x"}, []any{3, 30, "y"}, []any{4, 40, "z"})

	tests := []struct {
		name        string
		preferRight bool
		wantA       []any
	}{
		{"incoming wins", true, []any{int64(20), int64(30)}},
		{"resident wins", false, []any{int64(2), int64(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := InnerJoin(left, right, tt.preferRight)
			require.NoError(t, err)
			require.Equal(t, 2, out.NumRows())
			a, _ := out.Column("a")
			b, _ := out.Column("b")
			assert.Equal(t, tt.wantA, a.Values)
			assert.Equal(t, []any{"x", "y"}, b.Values)
		})
	}
}

func TestOuterJoinKeepsLeftValues(t *testing.T) {
	left := byID(t, []string{"a"}, []any{1, 1}, []any{2, 2})
	right := byID(t, []string{"a", "b"}, []any{2, 20, "x"}, []any{3, 30, "y"})

	out, err := OuterJoin(left, right)
	require.NoError(t, err)
	require.Equal(t, 3, out.NumRows())

	a, _ := out.Column("a")
	b, _ := out.Column("b")
	assert.Equal(t, []any{int64(1), int64(2), nil}, a.Values)
	assert.Equal(t, []any{nil, "x", "y"}, b.Values)
}

func TestOuterJoinRefillsDatetime(t *testing.T) {
	left, err := FromMaps([]map[string]any{{Datetime: "2024-01-01T00:00:00Z", "x": 1}})
	require.NoError(t, err)
	right, err := FromMaps([]map[string]any{{Datetime: "2024-01-01T00:00:01Z", "y": 3}})
	require.NoError(t, err)

	out, err := OuterJoin(left, right)
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())

	dt, ok := out.Column(Datetime)
	require.True(t, ok)
	assert.Equal(t, []any{ts("2024-01-01T00:00:00Z"), ts("2024-01-01T00:00:01Z")}, dt.Values)
	y, _ := out.Column("y")
	assert.Equal(t, []any{nil, int64(3)}, y.Values)
}

func TestSortDedupeAndRound(t *testing.T) {
	rel, err := FromMaps([]map[string]any{
		{Datetime: "2024-01-01T00:00:02Z", "v": 1},
		{Datetime: "2024-01-01T00:00:00.400Z", "v": 2},
		{Datetime: "2024-01-01T00:00:00.200Z", "v": 3},
	})
	require.NoError(t, err)

	rel.RoundTimeIndex()
	rel.MirrorDatetime()
	rel.SortByIndex()

	require.Equal(t, 2, rel.NumRows())
	level, _ := rel.Level(Datetime)
	assert.Equal(t, []any{ts("2024-01-01T00:00:00Z"), ts("2024-01-01T00:00:02Z")}, level.Values)
	v, _ := rel.Column("v")
	assert.Equal(t, []any{int64(3), int64(1)}, v.Values)
	mirror, _ := rel.Column(Datetime)
	assert.Equal(t, level.Values, mirror.Values)
}

func TestCoerceTimeColumns(t *testing.T) {
	rel, err := FromRecords(Records{
		Columns: []string{"created_time", "Date", "other"},
		Rows: [][]any{
			{0, "2024-01-02", "2024-01-02"},
			{nil, "", "x"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, rel.CoerceTimeColumns())

	created, _ := rel.Column("created_time")
	assert.Equal(t, KindTime, created.Kind)
	assert.Equal(t, []any{time.UnixMilli(0).UTC(), nil}, created.Values)

	date, _ := rel.Column("Date")
	assert.Equal(t, []any{ts("2024-01-02T00:00:00Z"), nil}, date.Values)

	other, _ := rel.Column("other")
	assert.Equal(t, KindString, other.Kind)

	bad, err := FromRecords(Records{Columns: []string{"time"}, Rows: [][]any{{"soon"}}})
	require.NoError(t, err)
	assert.Len(t, bad.CoerceTimeColumns(), 1)
	c, _ := bad.Column("time")
	assert.Equal(t, KindString, c.Kind)
}

func TestDropEmptyRowsAndColumns(t *testing.T) {
	rel := byID(t, []string{"stats.n", "a", "empty"},
		[]any{1, 5, nil, nil},
		[]any{2, nil, 1, nil},
	)

	assert.Equal(t, []string{"empty"}, rel.DropEmptyColumns())

	removed := rel.DropEmptyRows(func(name string) bool { return name != "stats.n" })
	assert.Equal(t, 1, removed)
	id, _ := rel.Level("id")
	assert.Equal(t, []any{int64(2)}, id.Values)

	// nothing considered, nothing dropped
	assert.Equal(t, 0, rel.DropEmptyRows(func(string) bool { return false }))
}

func TestKeyMatchesIntegralFloats(t *testing.T) {
	ints := byID(t, []string{"a"}, []any{1, "x"})
	floats := byID(t, []string{"a"}, []any{1.0, "y"})
	assert.Equal(t, ints.Key(0), floats.Key(0))
}

func TestPrefixAndRename(t *testing.T) {
	rel, err := FromMaps([]map[string]any{{Datetime: "2024-01-01T00:00:00Z", "x": 1}})
	require.NoError(t, err)

	rel.PrefixColumns("sensorA.")
	assert.Equal(t, []string{Datetime, "sensorA.x"}, rel.ColumnNames())

	require.NoError(t, rel.RenameColumn("sensorA.x", "x"))
	assert.True(t, rel.HasColumn("x"))
	assert.Error(t, rel.RenameColumn("missing", "y"))
}
