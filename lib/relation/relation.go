package relation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Datetime is the well-known timestamp column of timeseries collections.
// It is the only name allowed to be both an index level and a column.
const Datetime = "datetime"

// --------------------------------------------------------------------------
// Column
// --------------------------------------------------------------------------

// Column is a named vector of normalized values of one Kind. nil is null.
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// NewColumn normalizes the values and infers the column kind. Mixed numeric
// values widen to float, any other mix widens to string.
func NewColumn(name string, values []any) *Column {
	c := &Column{Name: name, Values: make([]any, len(values))}
	for i, v := range values {
		n := Normalize(v)
		c.Values[i] = n
		c.Kind = unify(c.Kind, KindOf(n))
	}
	for i, v := range c.Values {
		c.Values[i] = convert(v, c.Kind)
	}
	return c
}

// NullColumn creates a column of n nulls.
func NullColumn(name string, n int) *Column {
	return &Column{Name: name, Kind: KindNull, Values: make([]any, n)}
}

// Len returns the number of values.
func (c *Column) Len() int {
	return len(c.Values)
}

// Clone returns a deep copy of the column (values are immutable).
func (c *Column) Clone() *Column {
	values := make([]any, len(c.Values))
	copy(values, c.Values)
	return &Column{Name: c.Name, Kind: c.Kind, Values: values}
}

// IsEmpty reports whether every value is null.
func (c *Column) IsEmpty() bool {
	for _, v := range c.Values {
		if v != nil {
			return false
		}
	}
	return true
}

// HasNull reports whether at least one value is null.
func (c *Column) HasNull() bool {
	for _, v := range c.Values {
		if v == nil {
			return true
		}
	}
	return false
}

// Get returns the value at row i.
func (c *Column) Get(i int) any {
	return c.Values[i]
}

// Set stores a value at row i, widening the column kind if needed.
func (c *Column) Set(i int, v any) {
	n := Normalize(v)
	if k := unify(c.Kind, KindOf(n)); k != c.Kind {
		c.promote(k)
	}
	c.Values[i] = convert(n, c.Kind)
}

// promote converts every value to kind k
func (c *Column) promote(k Kind) {
	for i, v := range c.Values {
		c.Values[i] = convert(v, k)
	}
	c.Kind = k
}

// append adds one value at the end
func (c *Column) append(v any) {
	c.Values = append(c.Values, nil)
	c.Set(len(c.Values)-1, v)
}

// take returns a new column with the values at the given rows
func (c *Column) take(rows []int) *Column {
	values := make([]any, len(rows))
	for i, r := range rows {
		values[i] = c.Values[r]
	}
	return &Column{Name: c.Name, Kind: c.Kind, Values: values}
}

// --------------------------------------------------------------------------
// Relation
// --------------------------------------------------------------------------

// Relation is an in-memory table: ordered named columns plus one or more
// index levels that identify rows. Index levels are not columns; the only
// exception is a Datetime level mirrored by a Datetime column.
//
// A level with an empty name is the synthetic positional index.
//
// Thread-safety: a Relation is not safe for concurrent mutation.
type Relation struct {
	index   []*Column
	columns []*Column
	pos     map[string]int
	rows    int
}

// Empty returns a relation without rows, columns or index levels.
func Empty() *Relation {
	return &Relation{pos: make(map[string]int)}
}

// New builds a relation from index levels and columns. All vectors must
// have the same length. If no level is given a positional index is created.
func New(index []*Column, columns []*Column) (*Relation, error) {
	r := Empty()

	n := -1
	for _, c := range append(append([]*Column{}, index...), columns...) {
		if n == -1 {
			n = c.Len()
		} else if c.Len() != n {
			return nil, fmt.Errorf("column %q has %d values, expected %d", c.Name, c.Len(), n)
		}
	}
	if n < 0 {
		return r, nil
	}
	r.rows = n

	if len(index) == 0 {
		index = []*Column{positional(n)}
	}
	levelNames := make(map[string]bool, len(index))
	for _, l := range index {
		if l.Name != "" && levelNames[l.Name] {
			return nil, fmt.Errorf("duplicate index level %q", l.Name)
		}
		levelNames[l.Name] = true
	}
	r.index = index

	for _, c := range columns {
		if levelNames[c.Name] && c.Name != Datetime {
			return nil, fmt.Errorf("column %q collides with an index level", c.Name)
		}
		if _, dup := r.pos[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		r.pos[c.Name] = len(r.columns)
		r.columns = append(r.columns, c)
	}
	return r, nil
}

// positional creates the synthetic 0..n-1 index level
func positional(n int) *Column {
	values := make([]any, n)
	for i := range values {
		values[i] = int64(i)
	}
	return &Column{Kind: KindInt, Values: values}
}

// NumRows returns the number of rows.
func (r *Relation) NumRows() int {
	return r.rows
}

// NumColumns returns the number of ordinary columns.
func (r *Relation) NumColumns() int {
	return len(r.columns)
}

// IsEmpty reports whether the relation has no rows.
func (r *Relation) IsEmpty() bool {
	return r.rows == 0
}

// Columns returns the ordinary columns in order. The slice must not be modified.
func (r *Relation) Columns() []*Column {
	return r.columns
}

// Levels returns the index levels in order. The slice must not be modified.
func (r *Relation) Levels() []*Column {
	return r.index
}

// ColumnNames returns the ordinary column names in order.
func (r *Relation) ColumnNames() []string {
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Name
	}
	return names
}

// IndexNames returns the names of the index levels ("" for positional).
func (r *Relation) IndexNames() []string {
	names := make([]string, len(r.index))
	for i, l := range r.index {
		names[i] = l.Name
	}
	return names
}

// Column returns the ordinary column with the given name.
func (r *Relation) Column(name string) (*Column, bool) {
	i, ok := r.pos[name]
	if !ok {
		return nil, false
	}
	return r.columns[i], true
}

// HasColumn reports whether an ordinary column exists.
func (r *Relation) HasColumn(name string) bool {
	_, ok := r.pos[name]
	return ok
}

// Level returns the index level with the given name.
func (r *Relation) Level(name string) (*Column, bool) {
	for _, l := range r.index {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// IsPositional reports whether the index is the synthetic positional one.
func (r *Relation) IsPositional() bool {
	return len(r.index) == 1 && r.index[0].Name == ""
}

// IsTimeIndexed reports whether the primary index level holds timestamps.
func (r *Relation) IsTimeIndexed() bool {
	return len(r.index) > 0 && r.index[0].Kind == KindTime
}

// Clone returns a deep copy of the relation.
func (r *Relation) Clone() *Relation {
	c := &Relation{
		index:   make([]*Column, len(r.index)),
		columns: make([]*Column, len(r.columns)),
		pos:     make(map[string]int, len(r.pos)),
		rows:    r.rows,
	}
	for i, l := range r.index {
		c.index[i] = l.Clone()
	}
	for i, col := range r.columns {
		c.columns[i] = col.Clone()
		c.pos[col.Name] = i
	}
	return c
}

// --------------------------------------------------------------------------
// Column manipulation
// --------------------------------------------------------------------------

// SetColumn adds a column or replaces the column with the same name.
func (r *Relation) SetColumn(c *Column) error {
	if c.Len() != r.rows {
		return fmt.Errorf("column %q has %d values, relation has %d rows", c.Name, c.Len(), r.rows)
	}
	if _, isLevel := r.Level(c.Name); isLevel && c.Name != Datetime && c.Name != "" {
		return fmt.Errorf("column %q collides with an index level", c.Name)
	}
	if i, ok := r.pos[c.Name]; ok {
		r.columns[i] = c
		return nil
	}
	r.pos[c.Name] = len(r.columns)
	r.columns = append(r.columns, c)
	return nil
}

// ensureColumn returns the column with the given name, creating a null
// column if it does not exist
func (r *Relation) ensureColumn(name string) *Column {
	if c, ok := r.Column(name); ok {
		return c
	}
	c := NullColumn(name, r.rows)
	r.pos[name] = len(r.columns)
	r.columns = append(r.columns, c)
	return c
}

// DropColumns removes the named columns and returns the names actually removed.
func (r *Relation) DropColumns(names ...string) []string {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	var dropped []string
	kept := r.columns[:0]
	for _, c := range r.columns {
		if drop[c.Name] {
			dropped = append(dropped, c.Name)
			continue
		}
		kept = append(kept, c)
	}
	r.columns = kept
	r.reindexColumns()
	return dropped
}

// RenameColumn renames an ordinary column.
func (r *Relation) RenameColumn(from, to string) error {
	i, ok := r.pos[from]
	if !ok {
		return fmt.Errorf("column %q does not exist", from)
	}
	if from == to {
		return nil
	}
	if _, exists := r.pos[to]; exists {
		return fmt.Errorf("column %q already exists", to)
	}
	r.columns[i].Name = to
	delete(r.pos, from)
	r.pos[to] = i
	return nil
}

// PrefixColumns prepends prefix to every ordinary column name.
func (r *Relation) PrefixColumns(prefix string) {
	for _, c := range r.columns {
		if c.Name == Datetime {
			continue
		}
		c.Name = prefix + c.Name
	}
	r.reindexColumns()
}

func (r *Relation) reindexColumns() {
	r.pos = make(map[string]int, len(r.columns))
	for i, c := range r.columns {
		r.pos[c.Name] = i
	}
}

// DropEmptyColumns removes every column that holds only nulls.
func (r *Relation) DropEmptyColumns() []string {
	var empty []string
	for _, c := range r.columns {
		if c.IsEmpty() {
			empty = append(empty, c.Name)
		}
	}
	if len(empty) == 0 {
		return nil
	}
	return r.DropColumns(empty...)
}

// --------------------------------------------------------------------------
// Index manipulation
// --------------------------------------------------------------------------

// SetIndex promotes the named columns to index levels, replacing the current
// index. A promoted Datetime column stays available as a column too when
// keepDatetime is set.
func (r *Relation) SetIndex(names []string, keepDatetime bool) error {
	if len(names) == 0 {
		return fmt.Errorf("no index levels given")
	}
	levels := make([]*Column, 0, len(names))
	for _, n := range names {
		c, ok := r.Column(n)
		if !ok {
			return fmt.Errorf("index column %q does not exist", n)
		}
		levels = append(levels, c.Clone())
	}

	var drop []string
	for _, n := range names {
		if n == Datetime && keepDatetime {
			continue
		}
		drop = append(drop, n)
	}
	r.DropColumns(drop...)
	r.index = levels
	return nil
}

// SetLevels replaces the index levels with the given vectors.
func (r *Relation) SetLevels(levels []*Column) error {
	for _, l := range levels {
		if l.Len() != r.rows {
			return fmt.Errorf("level %q has %d values, relation has %d rows", l.Name, l.Len(), r.rows)
		}
		if r.HasColumn(l.Name) && l.Name != Datetime {
			return fmt.Errorf("level %q collides with a column", l.Name)
		}
	}
	if len(levels) == 0 {
		levels = []*Column{positional(r.rows)}
	}
	r.index = levels
	return nil
}

// Key returns the composite index key of a row.
func (r *Relation) Key(row int) string {
	if len(r.index) == 1 {
		return keyPart(r.index[0].Values[row])
	}
	var sb strings.Builder
	for i, l := range r.index {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		sb.WriteString(keyPart(l.Values[row]))
	}
	return sb.String()
}

func keyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case time.Time:
		return "t" + strconv.FormatInt(x.UnixNano(), 10)
	case float64:
		// integral floats share keys with ints
		if x == float64(int64(x)) {
			return "n" + strconv.FormatInt(int64(x), 10)
		}
		return "f" + strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return "n" + strconv.FormatInt(x, 10)
	default:
		return "s" + FormatValue(x)
	}
}

// KeyMap maps every index key to its row; for duplicate keys the last row wins.
func (r *Relation) KeyMap() map[string]int {
	m := make(map[string]int, r.rows)
	for i := 0; i < r.rows; i++ {
		m[r.Key(i)] = i
	}
	return m
}

// Take returns a new relation with the given rows, in the given order.
func (r *Relation) Take(rows []int) *Relation {
	out := &Relation{
		index:   make([]*Column, len(r.index)),
		columns: make([]*Column, len(r.columns)),
		pos:     make(map[string]int, len(r.columns)),
		rows:    len(rows),
	}
	for i, l := range r.index {
		out.index[i] = l.take(rows)
	}
	for i, c := range r.columns {
		out.columns[i] = c.take(rows)
		out.pos[c.Name] = i
	}
	return out
}

// appendRow adds a row with the given index values and null columns; it
// returns the new row number
func (r *Relation) appendRow(levelValues []any) int {
	for i, l := range r.index {
		l.append(levelValues[i])
	}
	for _, c := range r.columns {
		c.Values = append(c.Values, nil)
	}
	r.rows++
	return r.rows - 1
}

// levelValues returns the index values of a row
func (r *Relation) levelValues(row int) []any {
	values := make([]any, len(r.index))
	for i, l := range r.index {
		values[i] = l.Values[row]
	}
	return values
}

// SortByIndex orders the rows by their index values (stable).
func (r *Relation) SortByIndex() {
	order := make([]int, r.rows)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		for _, l := range r.index {
			if c := compareValues(l.Values[order[a]], l.Values[order[b]]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	sorted := r.Take(order)
	r.index, r.columns, r.pos = sorted.index, sorted.columns, sorted.pos
}

// DropEmptyRows removes rows in which every considered column is null.
// consider selects the columns that count; when it selects no column at
// all nothing is dropped. It returns the number of removed rows.
func (r *Relation) DropEmptyRows(consider func(name string) bool) int {
	var cols []*Column
	for _, c := range r.columns {
		if consider(c.Name) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return 0
	}

	keep := make([]int, 0, r.rows)
	for i := 0; i < r.rows; i++ {
		for _, c := range cols {
			if c.Values[i] != nil {
				keep = append(keep, i)
				break
			}
		}
	}
	removed := r.rows - len(keep)
	if removed > 0 {
		kept := r.Take(keep)
		r.index, r.columns, r.pos, r.rows = kept.index, kept.columns, kept.pos, kept.rows
	}
	return removed
}

// Row returns the ordinary column values of a row.
func (r *Relation) Row(i int) []any {
	row := make([]any, len(r.columns))
	for j, c := range r.columns {
		row[j] = c.Values[i]
	}
	return row
}

// Equal reports whether two relations have the same index levels, columns
// (in order) and values.
func Equal(a, b *Relation) bool {
	if a.rows != b.rows || len(a.index) != len(b.index) || len(a.columns) != len(b.columns) {
		return false
	}
	for i := range a.index {
		if !equalColumn(a.index[i], b.index[i]) {
			return false
		}
	}
	for i := range a.columns {
		if !equalColumn(a.columns[i], b.columns[i]) {
			return false
		}
	}
	return true
}

func equalColumn(a, b *Column) bool {
	if a.Name != b.Name || a.Len() != b.Len() {
		return false
	}
	for i := range a.Values {
		if compareValues(a.Values[i], b.Values[i]) != 0 || KindOf(a.Values[i]) != KindOf(b.Values[i]) {
			return false
		}
	}
	return true
}

// String renders a short description for logs.
func (r *Relation) String() string {
	return fmt.Sprintf("relation(rows=%d, index=%v, columns=%v)", r.rows, r.IndexNames(), r.ColumnNames())
}
