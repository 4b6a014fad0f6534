package router

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*Router, *catalog.Manager) {
	t.Helper()
	cfg := catalog.DefaultConfig(t.TempDir())
	cfg.SweepPeriod = 0
	cfg.SaveCooldown = time.Hour
	cfg.QuiesceInterval = time.Millisecond
	cfg.QuiesceRetries = 10
	m, err := catalog.NewManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return New(m), m
}

func appendRows(t *testing.T, m *catalog.Manager, name, domain string, rows ...map[string]any) {
	t.Helper()
	rel, err := relation.FromMaps(rows)
	require.NoError(t, err)
	require.NoError(t, m.AppendBatch(context.Background(), name, rel, table.Append, domain))
}

func TestStripDefaultQualifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM default.metrics", "SELECT * FROM metrics"},
		{"SELECT * FROM `default`.`metrics`", "SELECT * FROM `metrics`"},
		{`SELECT * FROM "default".metrics`, "SELECT * FROM metrics"},
		{"SELECT * FROM DEFAULT.metrics", "SELECT * FROM metrics"},
		{"SELECT * FROM metrics", "SELECT * FROM metrics"},
		{"SELECT x.default.y FROM metrics", "SELECT x.default.y FROM metrics"},
	}
	for _, tt := range tests {
		if got := StripDefaultQualifier(tt.in); got != tt.want {
			t.Errorf("StripDefaultQualifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTargetCollection(t *testing.T) {
	tests := []struct {
		stmt string
		want string
	}{
		{"SELECT * FROM metrics", "metrics"},
		{"SELECT * FROM `my-data` WHERE a = 1", "my-data"},
		{`SELECT * FROM "metrics"`, "metrics"},
		{"SELECT a.x FROM a JOIN b ON a.x = b.x", "a"},
		{"SELECT 1", ""},
		{"SELECT NOW()", ""},
	}
	for _, tt := range tests {
		if got := TargetCollection(tt.stmt); got != tt.want {
			t.Errorf("TargetCollection(%q) = %q, want %q", tt.stmt, got, tt.want)
		}
	}
}

func TestShowStatements(t *testing.T) {
	r, m := newRouter(t)
	ctx := context.Background()
	appendRows(t, m, "metrics", "sensorA", map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "x": 1})
	appendRows(t, m, "plain", "", map[string]any{"v": "a"})

	res, err := r.Query(ctx, "SHOW TABLES", nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].Relation.NumRows())
	assert.Equal(t, []string{"Tables_in_default"}, res[0].Relation.ColumnNames())

	res, err = r.Query(ctx, "show databases;", nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, []any{DefaultDatabase}, res[0].Relation.Row(0))

	res, err = r.Query(ctx, "DESCRIBE metrics", nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "metrics", res[0].Collection)
	require.Len(t, res[0].Descriptors, 2)
	assert.Equal(t, relation.Datetime, res[0].Descriptors[0].Field)
	assert.Equal(t, "sensorA.x", res[0].Descriptors[1].Field)
}

func TestQueryCollection(t *testing.T) {
	r, m := newRouter(t)
	ctx := context.Background()
	appendRows(t, m, "metrics", "sensorA",
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "x": 1},
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "x": 2},
	)

	res, err := r.Query(ctx, "SELECT * FROM default.metrics; SELECT COUNT(*) AS n FROM metrics", nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "metrics", res[0].Collection)
	assert.Equal(t, 2, res[0].Relation.NumRows())
	assert.EqualValues(t, 2, res[1].Relation.Row(0)[0])

	res, err = r.Query(ctx, "SELECT * FROM metrics", []string{"sensorA"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{relation.Datetime, "x"}, res[0].Relation.ColumnNames())
}

func TestQueryUnknownCollection(t *testing.T) {
	r, _ := newRouter(t)

	_, err := r.Query(context.Background(), "SELECT * FROM nope", nil)
	require.Error(t, err)
	assert.True(t, dberr.Is(err, dberr.CodeCollectionNotFound), "got %v", err)
}

func TestQueryCatalog(t *testing.T) {
	r, m := newRouter(t)
	ctx := context.Background()
	appendRows(t, m, "plain", "", map[string]any{"v": "a"})

	res, err := r.Query(ctx, "SELECT name, indextype FROM collections", nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Empty(t, res[0].Collection)
	require.Equal(t, 1, res[0].Relation.NumRows())
	assert.Equal(t, []any{"plain", "raw"}, res[0].Relation.Row(0))

	res, err = r.Query(ctx, "SELECT 1 AS one", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res[0].Relation.Row(0)[0])
}

func TestQueryMultipleMerge(t *testing.T) {
	r, m := newRouter(t)
	ctx := context.Background()
	appendRows(t, m, "a", "sensorA",
		map[string]any{relation.Datetime: "2024-01-01T00:00:00Z", "x": 1},
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "x": 2},
	)
	appendRows(t, m, "b", "sensorB",
		map[string]any{relation.Datetime: "2024-01-01T00:00:01Z", "y": 3},
		map[string]any{relation.Datetime: "2024-01-01T00:00:02Z", "y": 4},
	)
	queries := []string{"SELECT * FROM a", "SELECT * FROM b"}

	res, err := r.QueryMultiple(ctx, queries, nil, false)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].Collection)
	assert.Equal(t, "b", res[1].Collection)

	res, err = r.QueryMultiple(ctx, queries, nil, true)
	require.NoError(t, err)
	require.Len(t, res, 1)
	merged := res[0].Relation
	assert.Equal(t, 3, merged.NumRows())
	assert.True(t, merged.HasColumn("sensorA.x"))
	assert.True(t, merged.HasColumn("sensorB.y"))
	dt, ok := merged.Column(relation.Datetime)
	require.True(t, ok)
	assert.Equal(t, []any{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC),
	}, dt.Values)
	y, _ := merged.Column("sensorB.y")
	assert.Nil(t, y.Values[0])
	assert.NotNil(t, y.Values[2])

	_, err = r.QueryMultiple(ctx, []string{"SELECT * FROM a", "SELECT * FROM nope"}, nil, true)
	assert.True(t, dberr.Is(err, dberr.CodeCollectionNotFound))
}
