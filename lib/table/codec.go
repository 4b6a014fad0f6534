package table

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dTable/lib/relation"
)

// --------------------------------------------------------------------------
// Index encoding
// --------------------------------------------------------------------------

const (
	// positionalColumn stores the synthetic positional index of raw tables
	positionalColumn = "_index"

	// levelColumnPrefix prefixes the query-visible copies of named index levels
	levelColumnPrefix = "index_"

	// statsDomain columns do not keep a row alive on their own
	statsDomain = "stats."
)

// encodedLevel matches "_index<position>_<level name>"; the level name is
// everything after the first "_" following the position
var encodedLevel = regexp.MustCompile(`^_index(\d+)_(.+)$`)

// encodedLevelName returns the persisted column name of an index level.
func encodedLevelName(pos int, name string) string {
	return positionalColumn + strconv.Itoa(pos) + "_" + name
}

// encode flattens a relation into the columns that are persisted. Index
// levels are stored as "_index<i>_<name>" columns, except for the mirrored
// Datetime level of a timeseries table (stored once, as its column) and the
// positional index of a single-level relation (stored as "_index").
func encode(rel *relation.Relation, indexType IndexType) []*relation.Column {
	levels := rel.Levels()
	out := make([]*relation.Column, 0, len(levels)+rel.NumColumns())

	switch {
	case rel.IsPositional():
		l := levels[0].Clone()
		l.Name = positionalColumn
		out = append(out, l)
	case indexType == IndexTimeseries && len(levels) == 1 &&
		levels[0].Name == relation.Datetime && rel.HasColumn(relation.Datetime):
		// the mirror column carries the level, decode promotes it again
	default:
		for i, l := range levels {
			c := l.Clone()
			c.Name = encodedLevelName(i, l.Name)
			out = append(out, c)
		}
	}

	for _, c := range rel.Columns() {
		out = append(out, c.Clone())
	}
	return out
}

// decode rebuilds a relation from persisted columns. Index levels are
// restored in this order of precedence:
//
//  1. "_index<i>_<name>" columns become level <name> at position i
//  2. for timeseries tables the Datetime column becomes the level (and stays a column)
//  3. an "_index" column becomes the positional level
//  4. otherwise a positional level is synthesized
func decode(cols []*relation.Column, indexType IndexType) (*relation.Relation, error) {
	type encoded struct {
		pos   int
		level *relation.Column
	}
	var levels []encoded
	var positional *relation.Column
	columns := make([]*relation.Column, 0, len(cols))

	for _, c := range cols {
		if m := encodedLevel.FindStringSubmatch(c.Name); m != nil {
			pos, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid index column %q: %w", c.Name, err)
			}
			c.Name = m[2]
			levels = append(levels, encoded{pos: pos, level: c})
			continue
		}
		if c.Name == positionalColumn {
			positional = c
			continue
		}
		columns = append(columns, c)
	}

	var index []*relation.Column
	switch {
	case len(levels) > 0:
		sort.Slice(levels, func(i, j int) bool { return levels[i].pos < levels[j].pos })
		for _, l := range levels {
			if relation.IsTimeName(l.level.Name) {
				if err := relation.CoerceTimeColumn(l.level); err != nil {
					return nil, err
				}
			}
			index = append(index, l.level)
		}
	case indexType == IndexTimeseries && hasColumn(columns, relation.Datetime):
		for _, c := range columns {
			if c.Name == relation.Datetime {
				if err := relation.CoerceTimeColumn(c); err != nil {
					return nil, err
				}
				index = []*relation.Column{c.Clone()}
			}
		}
	case positional != nil:
		positional.Name = ""
		index = []*relation.Column{positional}
	}

	rel, err := relation.New(index, columns)
	if err != nil {
		return nil, err
	}

	for _, err := range rel.CoerceTimeColumns() {
		log.Warningf("failed to coerce column to timestamp: %v", err)
	}
	if c, ok := rel.Column(relation.Datetime); ok {
		if err := relation.CoerceTimeColumn(c); err != nil {
			log.Warningf("failed to coerce %s column: %v", relation.Datetime, err)
		}
	}
	rel.DropEmptyColumns()
	return rel, nil
}

func hasColumn(cols []*relation.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Domains
// --------------------------------------------------------------------------

// DeriveDomains returns the distinct prefixes before the first "." of the
// column names, in order of first appearance.
func DeriveDomains(columns []string) []string {
	domains := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range columns {
		i := strings.Index(c, ".")
		if i <= 0 {
			continue
		}
		d := c[:i]
		if !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}
	return domains
}
