package table

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/relation"
)

// --------------------------------------------------------------------------
// Merge policies
// --------------------------------------------------------------------------

// Policy selects how an incoming batch is merged into a non-empty table.
type Policy uint8

const (
	// Append outer-joins the batch on the index and writes every incoming
	// cell (nulls included) at its coordinates. Columns with a ":marker"
	// name that already exist are applied as sparse overlays first: only
	// their non-null cells overwrite existing rows.
	Append Policy = iota
	// Update overwrites existing cells with the non-null incoming cells at
	// matching coordinates. New rows and columns are ignored.
	Update
	// Overwrite keeps only the rows present on both sides; incoming values
	// win for shared columns.
	Overwrite
	// Keep keeps only the rows present on both sides; resident values win
	// for shared columns.
	Keep
	// DropBefore removes every resident column present in the batch (except
	// datetime), then appends.
	DropBefore
)

func (p Policy) String() string {
	switch p {
	case Append:
		return "append"
	case Update:
		return "update"
	case Overwrite:
		return "overwrite"
	case Keep:
		return "keep"
	case DropBefore:
		return "dropbefore"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy parses a policy name. The empty string selects Append.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return Append, nil
	case "update":
		return Update, nil
	case "overwrite":
		return Overwrite, nil
	case "keep":
		return Keep, nil
	case "dropbefore":
		return DropBefore, nil
	default:
		return Append, dberr.New(dberr.CodeInvalidArgument, "unknown merge policy %q", s)
	}
}

const markerTag = ":marker"

// --------------------------------------------------------------------------
// MergeBatch
// --------------------------------------------------------------------------

// MergeBatch merges an incoming relation into the table.
//
// The batch is prefixed with domain (if given), its time index is rounded
// to seconds and deduplicated, and its date/time columns are coerced. An
// empty table adopts the batch as is; otherwise policy decides how rows and
// cells are combined. Afterwards the relation is sorted (for time-ordered
// tables), all-null columns are dropped and "index_<level>" columns are
// re-derived.
//
// Failures are reported as MergeFailure. The cleanup always runs: the view
// is re-registered, metadata is published, a save is requested and the
// operations gate is released, so a malformed batch never wedges the table.
func (t *Table) MergeBatch(ctx context.Context, in *relation.Relation, policy Policy, domain string) (err error) {
	start := time.Now()
	t.gate.Block()
	defer func() {
		t.publish()
		t.RequestSave()
		t.gate.Unblock()

		mergeCounter(policy).Inc()
		mergeDuration.UpdateDuration(start)
		if err != nil {
			mergeFailures.Inc()
			log.Errorf("merge into %s (%s) failed: %v", t.cfg.Name, policy, err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if in == nil || in.IsEmpty() {
		return nil
	}
	batch := in.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return t.errClosed()
	}
	defer t.changed()

	// steps that fail are recorded, the remaining steps still run
	var errs []error

	if domain != "" {
		batch.PrefixColumns(domain + ".")
	}

	if batch.IsTimeIndexed() {
		batch.RoundTimeIndex()
		mirrorPrimary(batch)
	}

	for _, cerr := range batch.CoerceTimeColumns() {
		errs = append(errs, cerr)
	}

	// the registered relation is never modified, the result replaces it
	var next *relation.Relation
	if t.rel.IsEmpty() {
		next = batch
	} else if merged, merr := t.apply(batch, policy); merr != nil {
		errs = append(errs, merr)
		next = t.rel.Clone()
	} else {
		next = merged
	}

	if t.timeOrdered(next) {
		next.SortByIndex()
	}
	next.DropEmptyColumns()

	if lerr := deriveLevelColumns(next); lerr != nil {
		errs = append(errs, lerr)
	}
	t.rel = next

	if len(errs) > 0 {
		return dberr.Wrap(dberr.CodeMergeFailure, errors.Join(errs...), "merge into %s", t.cfg.Name)
	}
	return nil
}

// apply combines the resident relation with the batch according to policy.
// It returns the new resident relation.
func (t *Table) apply(batch *relation.Relation, policy Policy) (*relation.Relation, error) {
	rel := t.rel.Clone()

	switch policy {
	case DropBefore:
		var drop []string
		for _, name := range batch.ColumnNames() {
			if name != relation.Datetime {
				drop = append(drop, name)
			}
		}
		rel.DropColumns(drop...)
		fallthrough

	case Append:
		if rel.IsPositional() && batch.IsPositional() {
			renumber(batch, rel)
		}

		overlay, err := markerOverlay(rel, batch)
		if err != nil {
			return nil, err
		}
		if overlay != nil {
			if err := rel.UpdateCells(overlay, false); err != nil {
				return nil, err
			}
		}
		if err := rel.Upsert(batch, true); err != nil {
			return nil, err
		}
		return rel, nil

	case Update:
		if err := rel.UpdateCells(batch, false); err != nil {
			return nil, err
		}
		return rel, nil

	case Overwrite:
		return relation.InnerJoin(rel, batch, true)

	case Keep:
		return relation.InnerJoin(rel, batch, false)

	default:
		return nil, fmt.Errorf("unsupported merge policy %s", policy)
	}
}

// markerOverlay moves the marker columns of batch that already exist in rel
// into a separate relation with the same index. It returns nil if there are
// none.
func markerOverlay(rel, batch *relation.Relation) (*relation.Relation, error) {
	var names []string
	for _, name := range batch.ColumnNames() {
		if strings.Contains(name, markerTag) && rel.HasColumn(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	cols := make([]*relation.Column, len(names))
	for i, name := range names {
		c, _ := batch.Column(name)
		cols[i] = c
	}
	levels := make([]*relation.Column, len(batch.Levels()))
	for i, l := range batch.Levels() {
		levels[i] = l.Clone()
	}
	batch.DropColumns(names...)
	return relation.New(levels, cols)
}

// renumber shifts the positional index of batch so that it continues after
// the largest position of rel
func renumber(batch, rel *relation.Relation) {
	next := int64(0)
	for _, v := range rel.Levels()[0].Values {
		if i, ok := v.(int64); ok && i >= next {
			next = i + 1
		}
	}
	level := batch.Levels()[0]
	for i := range level.Values {
		level.Values[i] = next + int64(i)
	}
}

// mirrorPrimary copies a time-valued primary level into the Datetime column
func mirrorPrimary(rel *relation.Relation) {
	primary := rel.Levels()[0]
	if primary.Name == relation.Datetime {
		rel.MirrorDatetime()
		return
	}
	c := primary.Clone()
	c.Name = relation.Datetime
	if err := rel.SetColumn(c); err != nil {
		log.Warningf("failed to mirror time index: %v", err)
	}
}

// timeOrdered reports whether rel should be kept sorted by its index
func (t *Table) timeOrdered(rel *relation.Relation) bool {
	if t.cfg.IndexType == IndexTimeseries || rel.IsTimeIndexed() {
		return true
	}
	if rel.HasColumn(relation.Datetime) || rel.HasColumn("date") {
		return true
	}
	_, ok := rel.Level("date")
	return ok
}

// deriveLevelColumns writes every named index level except Datetime into an
// "index_<level>" column so that queries can select it
func deriveLevelColumns(rel *relation.Relation) error {
	for _, l := range rel.Levels() {
		if l.Name == "" || l.Name == relation.Datetime {
			continue
		}
		c := l.Clone()
		c.Name = levelColumnPrefix + l.Name
		if err := rel.SetColumn(c); err != nil {
			return err
		}
	}
	return nil
}
