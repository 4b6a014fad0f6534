package table

import (
	"context"
	"strings"

	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/engine"
	"github.com/ValentinKolb/dTable/lib/relation"
)

// --------------------------------------------------------------------------
// Query
// --------------------------------------------------------------------------

// Query runs a SQL statement that addresses the collection by its public
// name. With domains the result is restricted to the columns of those
// domains (prefix stripped; datetime is kept for timeseries tables). Rows
// that are null in every column outside datetime and the stats domain are
// dropped.
//
// Engine errors are returned as QueryExecutionError; a partial result is
// never returned.
func (t *Table) Query(ctx context.Context, query string, domains []string) (*relation.Relation, []ColumnDescriptor, error) {
	t.touch()
	queryTotal.Inc()

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return nil, nil, t.errClosed()
	}

	rewritten := RewriteQuery(query, t.cfg.Name, t.view, t.rel.HasColumn)
	res, err := t.cfg.Engine.Query(ctx, rewritten)
	if err != nil {
		queryFailures.Inc()
		return nil, nil, dberr.Wrap(dberr.CodeQueryExecution, err, "query on %s failed", t.cfg.Name)
	}

	out := res.Relation
	origin := make(map[string]string, out.NumColumns())
	for _, name := range out.ColumnNames() {
		origin[name] = name
	}
	if len(domains) > 0 {
		out, origin = FilterDomains(out, domains, t.cfg.IndexType == IndexTimeseries)
	}
	DropUnneededRows(out)

	descs := make([]ColumnDescriptor, 0, out.NumColumns())
	for _, name := range out.ColumnNames() {
		d := ColumnDescriptor{Field: name, Type: res.Types[origin[name]], Null: "NO"}
		if c, ok := t.rel.Column(name); ok && c.HasNull() {
			d.Null = "YES"
		}
		descs = append(descs, d)
	}
	return out, descs, nil
}

// FilterDomains keeps the columns that belong to one of the domains and
// strips the domain prefix from their names. With keepDatetime the Datetime
// column is kept too. It returns the filtered relation and a map from new
// to original column names. If stripping would produce a duplicate name the
// prefixed name is kept.
func FilterDomains(rel *relation.Relation, domains []string, keepDatetime bool) (*relation.Relation, map[string]string) {
	out := rel.Clone()
	origin := make(map[string]string)

	var drop []string
	for _, name := range out.ColumnNames() {
		if keepDatetime && name == relation.Datetime {
			origin[name] = name
			continue
		}
		if _, ok := domainOf(name, domains); !ok {
			drop = append(drop, name)
		}
	}
	out.DropColumns(drop...)

	for _, name := range out.ColumnNames() {
		if name == relation.Datetime && keepDatetime {
			continue
		}
		d, _ := domainOf(name, domains)
		stripped := strings.TrimPrefix(name, d+".")
		if out.RenameColumn(name, stripped) != nil {
			stripped = name
		}
		origin[stripped] = name
	}
	return out, origin
}

// domainOf returns the domain of domains that prefixes the column name
func domainOf(name string, domains []string) (string, bool) {
	for _, d := range domains {
		if strings.HasPrefix(name, d+".") {
			return d, true
		}
	}
	return "", false
}

// DropUnneededRows removes rows that are null in every column except
// Datetime and the stats domain.
func DropUnneededRows(rel *relation.Relation) int {
	return rel.DropEmptyRows(func(name string) bool {
		return name != relation.Datetime && !strings.HasPrefix(name, statsDomain)
	})
}

// Describe returns a descriptor for every column of the table.
func (t *Table) Describe() []ColumnDescriptor {
	t.touch()
	t.mu.RLock()
	defer t.mu.RUnlock()

	descs := make([]ColumnDescriptor, 0, t.rel.NumColumns())
	for _, c := range t.rel.Columns() {
		d := ColumnDescriptor{Field: c.Name, Type: engine.TypeName(c.Kind), Null: "NO"}
		if c.HasNull() {
			d.Null = "YES"
		}
		descs = append(descs, d)
	}
	return descs
}

// --------------------------------------------------------------------------
// DropColumns
// --------------------------------------------------------------------------

// DropColumns removes columns. A first column of "*" selects every column,
// restricted to the given domain if one is set. Otherwise every column
// starting with one of the names (prefixed by "domain.") is removed.
// Afterwards rows that became empty are dropped. It returns the names of
// the removed columns.
func (t *Table) DropColumns(ctx context.Context, columns []string, domain string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.gate.Block()
	defer func() {
		t.publish()
		t.RequestSave()
		t.gate.Unblock()
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, t.errClosed()
	}

	next := t.rel.Clone()
	var targets []string
	if len(columns) > 0 && columns[0] == "*" {
		for _, name := range next.ColumnNames() {
			if domain == "" || strings.HasPrefix(name, domain+".") {
				targets = append(targets, name)
			}
		}
	} else {
		for _, col := range columns {
			prefix := col
			if domain != "" {
				prefix = domain + "." + col
			}
			for _, name := range next.ColumnNames() {
				if strings.HasPrefix(name, prefix) {
					targets = append(targets, name)
				}
			}
		}
	}

	dropped := next.DropColumns(targets...)
	if len(dropped) == 0 {
		return nil, nil
	}
	rows := DropUnneededRows(next)

	t.rel = next
	t.changed()
	log.Infof("dropped %d columns and %d empty rows from %s", len(dropped), rows, t.cfg.Name)
	return dropped, nil
}
