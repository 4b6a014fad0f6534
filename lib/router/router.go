package router

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/engine"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/VictoriaMetrics/metrics"
	"github.com/dolthub/vitess/go/vt/sqlparser"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("router")

var (
	queryTotal    = metrics.NewCounter("dtable_router_queries_total")
	queryFailures = metrics.NewCounter("dtable_router_query_failures_total")
	queryDuration = metrics.NewHistogram("dtable_router_query_duration_seconds")
)

// DefaultDatabase is the only database name clients see.
const DefaultDatabase = "default"

// Catalog is the part of the catalog the router needs.
type Catalog interface {
	Collection(ctx context.Context, name string) (*table.Table, error)
	ListCollections(ctx context.Context) ([]catalog.Collection, error)
	DescribeCollection(ctx context.Context, name string) ([]table.ColumnDescriptor, error)
	QueryCatalog(ctx context.Context, query string) (*relation.Relation, error)
}

// Result is the result of one statement.
type Result struct {
	Statement   string                   `json:"statement"`
	Collection  string                   `json:"collection,omitempty"`
	Relation    *relation.Relation       `json:"-"`
	Descriptors []table.ColumnDescriptor `json:"descriptors"`
}

// Router resolves the collection a statement addresses and runs the
// statement on it.
type Router struct {
	catalog Catalog
}

// New returns a router on top of a catalog.
func New(c Catalog) *Router {
	return &Router{catalog: c}
}

// --------------------------------------------------------------------------
// Query
// --------------------------------------------------------------------------

var (
	showTables    = regexp.MustCompile(`(?i)^show\s+(full\s+)?tables$`)
	showDatabases = regexp.MustCompile(`(?i)^show\s+(databases|schemas)$`)
	describe      = regexp.MustCompile("(?i)^(describe|desc)\\s+[`\"]?([^`\"\\s]+)[`\"]?$")

	// matches "default." in front of a name, in any quoting style
	defaultQualifier = regexp.MustCompile("(?i)(^|[^\\w.`\"])(`default`|\"default\"|default)\\.")

	// tables of the metadata store, queried when no collection shadows them
	catalogTables = map[string]bool{"info": true, "collections": true, "documents": true, "storages": true}

	// used when the parser rejects a statement (e.g. double-quoted names)
	fromClause = regexp.MustCompile("(?i)\\b(from|into|update|table)\\s+[`\"]?([A-Za-z0-9_][A-Za-z0-9_\\-]*)")
)

// Query runs every statement of sql and returns one result per statement.
// Statements without a table run on the catalog database. With domains
// the collection results are restricted to those domains.
func (r *Router) Query(ctx context.Context, sql string, domains []string) ([]Result, error) {
	start := time.Now()
	queryTotal.Inc()
	defer queryDuration.UpdateDuration(start)

	pieces, err := sqlparser.SplitStatementToPieces(StripDefaultQualifier(sql))
	if err != nil {
		queryFailures.Inc()
		return nil, dberr.Wrap(dberr.CodeInvalidArgument, err, "failed to split statements")
	}

	results := make([]Result, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		res, err := r.statement(ctx, piece, domains)
		if err != nil {
			queryFailures.Inc()
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// QueryMultiple runs several queries concurrently. Without merge the
// results are returned in query order. With merge all results are joined
// into one: rows are matched on datetime if the results have that column
// and on their position otherwise.
func (r *Router) QueryMultiple(ctx context.Context, queries []string, domains []string, merge bool) ([]Result, error) {
	perQuery := make([][]Result, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			res, err := r.Query(gctx, q, domains)
			if err != nil {
				return err
			}
			perQuery[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []Result
	for _, res := range perQuery {
		results = append(results, res...)
	}
	if !merge || len(results) < 2 {
		return results, nil
	}

	merged, err := Merge(results)
	if err != nil {
		return nil, err
	}
	return []Result{merged}, nil
}

// statement runs one statement
func (r *Router) statement(ctx context.Context, stmt string, domains []string) (Result, error) {
	bare := strings.TrimSpace(strings.TrimSuffix(stmt, ";"))

	switch {
	case showTables.MatchString(bare):
		return r.showTables(ctx, stmt)
	case showDatabases.MatchString(bare):
		rel, err := relation.FromRecords(relation.Records{
			Columns: []string{"Database"},
			Rows:    [][]any{{DefaultDatabase}},
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Statement: stmt, Relation: rel, Descriptors: describeResult(rel)}, nil
	}
	if m := describe.FindStringSubmatch(bare); m != nil {
		return r.describe(ctx, stmt, m[2])
	}

	name := TargetCollection(stmt)
	if name == "" {
		return r.catalogQuery(ctx, stmt)
	}

	t, err := r.catalog.Collection(ctx, name)
	if dberr.Is(err, dberr.CodeCollectionNotFound) && catalogTables[strings.ToLower(name)] {
		return r.catalogQuery(ctx, stmt)
	}
	if err != nil {
		return Result{}, err
	}
	rel, descs, err := t.Query(ctx, stmt, domains)
	if errors.Is(err, table.ErrClosed) {
		// evicted after the lookup
		if t, err = r.catalog.Collection(ctx, name); err != nil {
			return Result{}, err
		}
		rel, descs, err = t.Query(ctx, stmt, domains)
	}
	if err != nil {
		return Result{}, err
	}
	log.Debugf("query on %s returned %d rows", name, rel.NumRows())
	return Result{Statement: stmt, Collection: name, Relation: rel, Descriptors: descs}, nil
}

func (r *Router) catalogQuery(ctx context.Context, stmt string) (Result, error) {
	rel, err := r.catalog.QueryCatalog(ctx, stmt)
	if err != nil {
		return Result{}, err
	}
	return Result{Statement: stmt, Relation: rel, Descriptors: describeResult(rel)}, nil
}

func (r *Router) showTables(ctx context.Context, stmt string) (Result, error) {
	list, err := r.catalog.ListCollections(ctx)
	if err != nil {
		return Result{}, err
	}
	rows := make([][]any, len(list))
	for i, c := range list {
		rows[i] = []any{c.Name}
	}
	rel, err := relation.FromRecords(relation.Records{Columns: []string{"Tables_in_" + DefaultDatabase}, Rows: rows})
	if err != nil {
		return Result{}, err
	}
	return Result{Statement: stmt, Relation: rel, Descriptors: describeResult(rel)}, nil
}

func (r *Router) describe(ctx context.Context, stmt, name string) (Result, error) {
	descs, err := r.catalog.DescribeCollection(ctx, name)
	if err != nil {
		return Result{}, err
	}
	rows := make([][]any, len(descs))
	for i, d := range descs {
		rows[i] = []any{d.Field, d.Type, d.Null, d.Key, d.Default}
	}
	rel, err := relation.FromRecords(relation.Records{
		Columns: []string{"Field", "Type", "Null", "Key", "Default"},
		Rows:    rows,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Statement: stmt, Collection: name, Relation: rel, Descriptors: descs}, nil
}

// --------------------------------------------------------------------------
// Statement analysis
// --------------------------------------------------------------------------

// StripDefaultQualifier removes "default." qualifiers (bare, backtick- or
// double-quoted) from table references.
func StripDefaultQualifier(sql string) string {
	return defaultQualifier.ReplaceAllString(sql, "$1")
}

// TargetCollection returns the first table a statement references, or ""
// if it references none.
func TargetCollection(stmt string) string {
	parsed, err := sqlparser.Parse(stmt)
	if err != nil {
		if m := fromClause.FindStringSubmatch(stmt); m != nil {
			return m[2]
		}
		return ""
	}

	var name string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if name != "" {
			return false, nil
		}
		switch n := node.(type) {
		case sqlparser.TableName:
			name = n.Name.String()
		case *sqlparser.TableName:
			name = n.Name.String()
		}
		return name == "", nil
	}, parsed)
	return name
}

// --------------------------------------------------------------------------
// Merge
// --------------------------------------------------------------------------

// Merge outer-joins the relations of several results. Results that all
// carry a datetime column are matched on it; otherwise rows are matched by
// position. Columns present in several results keep the value of the
// first one.
func Merge(results []Result) (Result, error) {
	byTime := true
	for _, res := range results {
		if res.Relation == nil || !res.Relation.HasColumn(relation.Datetime) {
			byTime = false
			break
		}
	}

	var merged *relation.Relation
	var statements []string
	var descs []table.ColumnDescriptor
	seen := make(map[string]bool)

	for _, res := range results {
		statements = append(statements, res.Statement)
		for _, d := range res.Descriptors {
			if !seen[d.Field] {
				seen[d.Field] = true
				descs = append(descs, d)
			}
		}
		if res.Relation == nil {
			continue
		}

		rel := res.Relation.Clone()
		if byTime {
			if err := rel.SetIndex([]string{relation.Datetime}, true); err != nil {
				return Result{}, err
			}
		}
		if merged == nil {
			merged = rel
			continue
		}
		next, err := relation.OuterJoin(merged, rel)
		if err != nil {
			return Result{}, dberr.Wrap(dberr.CodeMergeFailure, err, "failed to merge results")
		}
		merged = next
	}
	if merged == nil {
		merged = relation.Empty()
	}
	if byTime {
		merged.SortByIndex()
	}

	return Result{Statement: strings.Join(statements, "; "), Relation: merged, Descriptors: descs}, nil
}

// describeResult builds descriptors for a relation that does not come from
// a collection
func describeResult(rel *relation.Relation) []table.ColumnDescriptor {
	descs := make([]table.ColumnDescriptor, 0, rel.NumColumns())
	for _, c := range rel.Columns() {
		d := table.ColumnDescriptor{Field: c.Name, Type: engine.TypeName(c.Kind), Null: "NO"}
		if c.HasNull() {
			d.Null = "YES"
		}
		descs = append(descs, d)
	}
	return descs
}
