package relation

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Index alignment
// --------------------------------------------------------------------------

// checkAligned verifies that both relations are indexed by the same number of levels
func checkAligned(left, right *Relation) error {
	if len(left.index) != len(right.index) {
		return fmt.Errorf("index mismatch: %v vs %v", left.IndexNames(), right.IndexNames())
	}
	return nil
}

// Upsert writes every cell of right into r at right's (index, column)
// coordinates. Rows whose key is not yet in r are appended, columns not yet
// in r are created. When overwriteNulls is false null cells of right leave
// the existing value untouched.
//
// This is an outer join on the index followed by an assignment of the
// incoming block, in one pass.
func (r *Relation) Upsert(right *Relation, overwriteNulls bool) error {
	if right.rows == 0 {
		return nil
	}
	if r.rows == 0 {
		// an empty relation takes over the index structure of the incoming one
		r.index = make([]*Column, len(right.index))
		for i, l := range right.index {
			r.index[i] = &Column{Name: l.Name, Kind: l.Kind}
		}
	}
	if err := checkAligned(r, right); err != nil {
		return err
	}

	keys := r.KeyMap()
	targets := make([]int, right.rows)
	for i := 0; i < right.rows; i++ {
		k := right.Key(i)
		row, ok := keys[k]
		if !ok {
			row = r.appendRow(right.levelValues(i))
			keys[k] = row
		}
		targets[i] = row
	}

	for _, rc := range right.columns {
		target := r.ensureColumn(rc.Name)
		for i, v := range rc.Values {
			if v == nil && !overwriteNulls {
				continue
			}
			target.Set(targets[i], v)
		}
	}
	return nil
}

// UpdateCells overwrites cells of r with the cells of right at matching
// (index, column) coordinates. Rows and columns of right that do not exist
// in r are ignored. Null cells of right are skipped unless overwriteNulls
// is set.
func (r *Relation) UpdateCells(right *Relation, overwriteNulls bool) error {
	if r.rows == 0 || right.rows == 0 {
		return nil
	}
	if err := checkAligned(r, right); err != nil {
		return err
	}

	keys := r.KeyMap()
	targets := make([]int, right.rows)
	for i := 0; i < right.rows; i++ {
		row, ok := keys[right.Key(i)]
		if !ok {
			row = -1
		}
		targets[i] = row
	}

	for _, rc := range right.columns {
		target, ok := r.Column(rc.Name)
		if !ok {
			continue
		}
		for i, v := range rc.Values {
			if targets[i] < 0 || (v == nil && !overwriteNulls) {
				continue
			}
			target.Set(targets[i], v)
		}
	}
	return nil
}

// InnerJoin returns the rows present in both relations, in left order. The
// result holds every column of left followed by the columns only right
// has. For columns both sides have, preferRight selects whose values win.
func InnerJoin(left, right *Relation, preferRight bool) (*Relation, error) {
	if err := checkAligned(left, right); err != nil {
		return nil, err
	}

	rightKeys := right.KeyMap()
	var leftRows, rightRows []int
	for i := 0; i < left.rows; i++ {
		if j, ok := rightKeys[left.Key(i)]; ok {
			leftRows = append(leftRows, i)
			rightRows = append(rightRows, j)
		}
	}

	out := left.Take(leftRows)
	for _, rc := range right.columns {
		values := rc.take(rightRows)
		if existing, ok := out.Column(rc.Name); ok {
			if !preferRight {
				continue
			}
			for i, v := range values.Values {
				existing.Set(i, v)
			}
			continue
		}
		if err := out.SetColumn(values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OuterJoin returns the union of rows of both relations. Cells present on
// both sides keep the left value; right-only columns are appended. Columns
// of right that left already has are dropped, matching the "_y" suffix
// columns a suffixing join would produce and discard. A Datetime column
// mirroring the Datetime level is refilled, so right-only rows keep their
// timestamp.
func OuterJoin(left, right *Relation) (*Relation, error) {
	out := left.Clone()
	if err := checkAligned(out, right); err != nil && out.rows > 0 {
		return nil, err
	}

	fresh := &Relation{index: right.index, pos: make(map[string]int), rows: right.rows}
	for _, rc := range right.columns {
		if !left.HasColumn(rc.Name) {
			fresh.pos[rc.Name] = len(fresh.columns)
			fresh.columns = append(fresh.columns, rc)
		}
	}
	// Upsert appends the right-only rows even when fresh has no columns
	if err := out.Upsert(fresh, false); err != nil {
		return nil, err
	}
	if out.HasColumn(Datetime) {
		out.MirrorDatetime()
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Timeseries helpers
// --------------------------------------------------------------------------

// RoundTimeIndex rounds the primary time level to whole seconds and drops
// rows with duplicate keys, keeping the last occurrence. It is a no-op for
// relations that are not time-indexed.
func (r *Relation) RoundTimeIndex() {
	if !r.IsTimeIndexed() {
		return
	}
	primary := r.index[0]
	for i, v := range primary.Values {
		if t, ok := v.(time.Time); ok {
			primary.Values[i] = t.Round(time.Second)
		}
	}
	r.DedupeKeepLast()
}

// DedupeKeepLast drops rows whose index key occurs again later.
func (r *Relation) DedupeKeepLast() int {
	last := r.KeyMap()
	if len(last) == r.rows {
		return 0
	}
	keep := make([]int, 0, len(last))
	for i := 0; i < r.rows; i++ {
		if last[r.Key(i)] == i {
			keep = append(keep, i)
		}
	}
	removed := r.rows - len(keep)
	kept := r.Take(keep)
	r.index, r.columns, r.pos, r.rows = kept.index, kept.columns, kept.pos, kept.rows
	return removed
}

// MirrorDatetime copies a Datetime index level into a Datetime column.
func (r *Relation) MirrorDatetime() {
	l, ok := r.Level(Datetime)
	if !ok {
		return
	}
	c := l.Clone()
	c.Name = Datetime
	if i, exists := r.pos[Datetime]; exists {
		r.columns[i] = c
		return
	}
	r.pos[Datetime] = len(r.columns)
	r.columns = append(r.columns, c)
}

// CoerceTimeColumn converts a column to timestamps. Strings are parsed,
// numbers are taken as epoch milliseconds. On error the column is left
// untouched.
func CoerceTimeColumn(c *Column) error {
	if c.Kind == KindTime {
		return nil
	}
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		t, err := ToTime(v)
		if err != nil {
			return fmt.Errorf("column %q: %w", c.Name, err)
		}
		values[i] = t
	}
	c.Values = values
	c.Kind = KindTime
	for _, v := range values {
		if v != nil {
			return nil
		}
	}
	c.Kind = KindNull
	return nil
}

// CoerceTimeColumns converts every column whose name contains "date" or
// "time" (except Datetime) to timestamps. Errors of single columns are
// collected; the remaining columns are still converted.
func (r *Relation) CoerceTimeColumns() []error {
	var errs []error
	for _, c := range r.columns {
		if c.Name == Datetime || !IsTimeName(c.Name) {
			continue
		}
		if err := CoerceTimeColumn(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
