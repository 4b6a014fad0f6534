package relation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Exchange format
// --------------------------------------------------------------------------

// Records is the row oriented exchange format of a relation, used by the
// transport layer. Columns lists every field of a row (index fields
// included); Index names the fields that form the index. An empty Index
// means: index by Datetime if such a field exists, positional otherwise.
type Records struct {
	Index   []string `json:"index,omitempty"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// UnmarshalJSON decodes numbers as json.Number so that integers stay integers.
func (rec *Records) UnmarshalJSON(b []byte) error {
	type plain Records
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*rec = Records(p)
	return nil
}

// Len returns the number of rows.
func (rec Records) Len() int {
	return len(rec.Rows)
}

// FromRecords builds a relation from the exchange format. Index fields named
// like timestamps are converted to timestamps: strings are parsed, numbers
// are epoch milliseconds.
func FromRecords(rec Records) (*Relation, error) {
	width := len(rec.Columns)
	values := make([][]any, width)
	for i := range values {
		values[i] = make([]any, len(rec.Rows))
	}
	for r, row := range rec.Rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", r, len(row), width)
		}
		for c, v := range row {
			values[c][r] = v
		}
	}

	cols := make([]*Column, width)
	for i, name := range rec.Columns {
		cols[i] = NewColumn(name, values[i])
	}

	rel, err := New(nil, cols)
	if err != nil {
		return nil, err
	}

	index := rec.Index
	if len(index) == 0 && rel.HasColumn(Datetime) {
		index = []string{Datetime}
	}
	if len(index) == 0 {
		return rel, nil
	}

	for _, name := range index {
		c, ok := rel.Column(name)
		if !ok {
			return nil, fmt.Errorf("index field %q is not a column", name)
		}
		if IsTimeName(name) && (c.Kind == KindString || c.Kind == KindInt || c.Kind == KindFloat) {
			if err := CoerceTimeColumn(c); err != nil {
				return nil, err
			}
		}
	}
	// a Datetime level is always mirrored by a Datetime column
	if err := rel.SetIndex(index, true); err != nil {
		return nil, err
	}
	return rel, nil
}

// FromMaps builds a relation from a list of objects. Columns appear in the
// order they are first seen. See FromRecords for the meaning of index.
func FromMaps(rows []map[string]any, index ...string) (*Relation, error) {
	rec := Records{Index: index}
	seen := make(map[string]int)
	// keys of one object are visited sorted, map order is random
	for _, row := range rows {
		for _, k := range sortedKeys(row) {
			if _, ok := seen[k]; !ok {
				seen[k] = len(rec.Columns)
				rec.Columns = append(rec.Columns, k)
			}
		}
	}
	for _, row := range rows {
		values := make([]any, len(rec.Columns))
		for k, v := range row {
			values[seen[k]] = v
		}
		rec.Rows = append(rec.Rows, values)
	}
	return FromRecords(rec)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToRecords converts a relation into the exchange format. The positional
// index is not exported; a mirrored Datetime level is exported once.
func ToRecords(r *Relation) Records {
	rec := Records{}
	var vectors []*Column
	for _, l := range r.index {
		if l.Name == "" || (l.Name == Datetime && r.HasColumn(Datetime)) {
			if l.Name == Datetime {
				rec.Index = append(rec.Index, Datetime)
			}
			continue
		}
		rec.Index = append(rec.Index, l.Name)
		rec.Columns = append(rec.Columns, l.Name)
		vectors = append(vectors, l)
	}
	for _, c := range r.columns {
		rec.Columns = append(rec.Columns, c.Name)
		vectors = append(vectors, c)
	}

	rec.Rows = make([][]any, r.rows)
	for i := 0; i < r.rows; i++ {
		row := make([]any, len(vectors))
		for j, v := range vectors {
			row[j] = v.Values[i]
		}
		rec.Rows[i] = row
	}
	return rec
}
