package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/dolthub/go-mysql-server/sql"
	"github.com/dolthub/go-mysql-server/sql/types"
)

// DatabaseName is the name of the engine database holding all views.
const DatabaseName = "dtable"

// --------------------------------------------------------------------------
// Provider and database
// --------------------------------------------------------------------------

// provider serves exactly one database
type provider struct {
	db *database
}

var _ sql.DatabaseProvider = (*provider)(nil)

func (p *provider) Database(_ *sql.Context, name string) (sql.Database, error) {
	if strings.EqualFold(name, DatabaseName) {
		return p.db, nil
	}
	return nil, sql.ErrDatabaseNotFound.New(name)
}

func (p *provider) HasDatabase(_ *sql.Context, name string) bool {
	return strings.EqualFold(name, DatabaseName)
}

func (p *provider) AllDatabases(*sql.Context) []sql.Database {
	return []sql.Database{p.db}
}

// database maps lower-cased view names to their tables
type database struct {
	mu     sync.RWMutex
	tables map[string]*view
}

var _ sql.Database = (*database)(nil)

func (d *database) Name() string {
	return DatabaseName
}

func (d *database) GetTableInsensitive(_ *sql.Context, name string) (sql.Table, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[strings.ToLower(name)]
	if !ok {
		return nil, false, nil
	}
	return t, true, nil
}

func (d *database) GetTableNames(*sql.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tables))
	for _, t := range d.tables {
		names = append(names, t.name)
	}
	return names, nil
}

// --------------------------------------------------------------------------
// View
// --------------------------------------------------------------------------

// view is a read-only sql.Table over the ordinary columns of a relation,
// as they were at registration
type view struct {
	name   string
	cols   []*relation.Column
	rows   int
	schema sql.Schema
}

var _ sql.Table = (*view)(nil)

func newView(name string, rel *relation.Relation) *view {
	schema := make(sql.Schema, 0, rel.NumColumns())
	for _, c := range rel.Columns() {
		schema = append(schema, &sql.Column{
			Name:           c.Name,
			Type:           sqlType(c.Kind),
			Nullable:       true,
			Source:         name,
			DatabaseSource: DatabaseName,
		})
	}
	cols := make([]*relation.Column, rel.NumColumns())
	copy(cols, rel.Columns())
	return &view{name: name, cols: cols, rows: rel.NumRows(), schema: schema}
}

// TypeName returns the engine type name used for columns of kind k.
func TypeName(k relation.Kind) string {
	return strings.ToLower(sqlType(k).String())
}

// sqlType maps a column kind onto the engine type used to expose it
func sqlType(k relation.Kind) sql.Type {
	switch k {
	case relation.KindInt:
		return types.Int64
	case relation.KindFloat:
		return types.Float64
	case relation.KindBool:
		return types.Boolean
	case relation.KindTime:
		return types.DatetimeMaxPrecision
	default:
		return types.LongText
	}
}

func (v *view) Name() string { return v.name }

func (v *view) String() string { return v.name }

func (v *view) Schema() sql.Schema { return v.schema }

func (v *view) Collation() sql.CollationID { return sql.Collation_Default }

func (v *view) Partitions(*sql.Context) (sql.PartitionIter, error) {
	return sql.PartitionsToPartitionIter(partition(v.name)), nil
}

func (v *view) PartitionRows(*sql.Context, sql.Partition) (sql.RowIter, error) {
	rows := make([]sql.Row, v.rows)
	for i := range rows {
		row := make(sql.Row, len(v.cols))
		for j, c := range v.cols {
			row[j] = engineValue(c.Values[i])
		}
		rows[i] = row
	}
	return sql.RowsToRowIter(rows...), nil
}

// engineValue converts a normalized value into the representation the
// engine expects for the column type
func engineValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int8(1)
		}
		return int8(0)
	}
	return v
}

// partition is the single partition of a view
type partition string

func (p partition) Key() []byte { return []byte(p) }

func (p partition) String() string { return fmt.Sprintf("partition(%s)", string(p)) }
