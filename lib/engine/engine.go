package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/cespare/xxhash/v2"
	sqle "github.com/dolthub/go-mysql-server"
	"github.com/dolthub/go-mysql-server/sql"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/shopspring/decimal"
)

var log = logger.GetLogger("engine")

// ViewName returns the queryable view name of a collection, "frame_" and
// the xxhash of the name. It only contains characters valid in unquoted
// identifiers.
func ViewName(collection string) string {
	return fmt.Sprintf("frame_%016x", xxhash.Sum64String(collection))
}

// Result is the outcome of a query: a positional relation with one column per
// result column, plus the engine type name of every column.
type Result struct {
	Relation *relation.Relation
	Types    map[string]string
}

// Engine executes SQL against registered relations.
type Engine struct {
	db     *database
	engine *sqle.Engine
}

// New creates an engine without views.
func New() *Engine {
	db := &database{tables: make(map[string]*view)}
	return &Engine{
		db:     db,
		engine: sqle.NewDefault(&provider{db: db}),
	}
}

// Register exposes rel under the given view name, replacing a previous
// registration of the same name.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Register(name string, rel *relation.Relation) {
	v := newView(name, rel)
	e.db.mu.Lock()
	e.db.tables[strings.ToLower(name)] = v
	e.db.mu.Unlock()
	log.Debugf("registered view %s (%d rows, %d columns)", name, rel.NumRows(), rel.NumColumns())
}

// Unregister removes a view. Unknown names are ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Unregister(name string) {
	e.db.mu.Lock()
	delete(e.db.tables, strings.ToLower(name))
	e.db.mu.Unlock()
}

// Has reports whether a view is registered.
func (e *Engine) Has(name string) bool {
	e.db.mu.RLock()
	defer e.db.mu.RUnlock()
	_, ok := e.db.tables[strings.ToLower(name)]
	return ok
}

// Query runs a single SQL statement and materializes its result.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Query(ctx context.Context, query string) (*Result, error) {
	sctx := sql.NewContext(ctx, sql.WithSession(sql.NewBaseSession()))
	sctx.SetCurrentDatabase(DatabaseName)

	schema, iter, _, err := e.engine.Query(sctx, query)
	if err != nil {
		return nil, err
	}

	names := uniqueNames(schema)
	values := make([][]any, len(schema))
	for {
		row, err := iter.Next(sctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = iter.Close(sctx)
			return nil, err
		}
		for i := range schema {
			values[i] = append(values[i], resultValue(row[i]))
		}
	}
	if err := iter.Close(sctx); err != nil {
		return nil, err
	}

	res := &Result{Types: make(map[string]string, len(schema))}
	cols := make([]*relation.Column, len(schema))
	for i, col := range schema {
		if values[i] == nil {
			values[i] = []any{}
		}
		cols[i] = relation.NewColumn(names[i], values[i])
		res.Types[names[i]] = strings.ToLower(col.Type.String())
	}
	res.Relation, err = relation.New(nil, cols)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// uniqueNames returns the result column names, suffixing repeated names
// with their occurrence ("a", "a_2", ...)
func uniqueNames(schema sql.Schema) []string {
	names := make([]string, len(schema))
	seen := make(map[string]int, len(schema))
	for i, col := range schema {
		name := col.Name
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		names[i] = name
	}
	return names
}

// resultValue converts engine specific result values before normalization
func resultValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return x.Decimal.InexactFloat64()
	default:
		return v
	}
}
