package table

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dTable/lib/colfile"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/engine"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("table")

// ErrClosed is returned by operations on a table that was closed, for
// example by an eviction. The caller loads the collection again.
var ErrClosed = errors.New("table is closed")

// DefaultSaveCooldown is the minimum time between two saves of a table.
const DefaultSaveCooldown = 2 * time.Minute

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// IndexType selects how a table without encoded index columns is indexed.
type IndexType string

const (
	IndexTimeseries IndexType = "timeseries" // indexed by the datetime column
	IndexRaw        IndexType = "raw"        // positional index
)

// ParseIndexType maps "timeseries" and "time" to IndexTimeseries and
// everything else to IndexRaw.
func ParseIndexType(s string) IndexType {
	switch strings.ToLower(s) {
	case "timeseries", "time":
		return IndexTimeseries
	default:
		return IndexRaw
	}
}

// Info is the catalog metadata of a table.
type Info struct {
	Name      string
	Columns   []string
	Domains   []string
	Rows      int
	IndexType IndexType
	LastEdit  time.Time
}

// ColumnDescriptor describes one column of a table or query result.
type ColumnDescriptor struct {
	Field   string `json:"Field"`
	Type    string `json:"Type"`
	Null    string `json:"Null"`
	Key     string `json:"Key"`
	Default string `json:"Default"`
}

// Config configures a table.
type Config struct {
	Name      string
	Dir       string // directory holding the column files
	IndexType IndexType
	Engine    *engine.Engine

	SaveCooldown    time.Duration
	QuiesceInterval time.Duration
	QuiesceRetries  int

	// OnChange is called (without locks held) whenever the metadata of the
	// table changed and should be flushed to the catalog.
	OnChange func(Info)
}

// Table is a loaded collection: an in-memory relation registered as an
// engine view, a merge engine and debounced persistence.
type Table struct {
	cfg  Config
	path string
	view string

	mu  sync.RWMutex
	rel *relation.Relation

	gate  *Gate
	saver *util.Saver

	version      atomic.Uint64 // bumped on every mutation
	savedVersion atomic.Uint64
	lastUsed     atomic.Int64 // unix nanos
	lastModified atomic.Int64
	closed       atomic.Bool
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Open loads the table from its column file. If the file does not exist, an
// empty table is returned when create is set; otherwise the error is a
// StaleCatalogEntry.
func Open(cfg Config, create bool) (*Table, error) {
	if cfg.Engine == nil {
		return nil, dberr.New(dberr.CodeInvalidArgument, "table %s: no engine", cfg.Name)
	}
	if cfg.SaveCooldown <= 0 {
		cfg.SaveCooldown = DefaultSaveCooldown
	}
	if cfg.IndexType == "" {
		cfg.IndexType = IndexTimeseries
	}

	t := &Table{
		cfg:  cfg,
		path: FilePath(cfg.Dir, cfg.Name),
		view: engine.ViewName(cfg.Name),
		rel:  relation.Empty(),
		gate: NewGate(cfg.QuiesceInterval, cfg.QuiesceRetries),
	}
	t.saver = util.NewSaver(cfg.SaveCooldown, t.save)
	t.touch()

	if err := t.load(create); err != nil {
		return nil, err
	}
	return t, nil
}

// FilePath returns the column file of a table.
func FilePath(dir, name string) string {
	return filepath.Join(dir, name+colfile.Extension)
}

func (t *Table) load(create bool) error {
	t.gate.Block()
	defer t.gate.Unblock()

	start := time.Now()
	cols, err := colfile.Read(t.path)
	switch {
	case errors.Is(err, os.ErrNotExist) && create:
		// dirty, so that the first flush creates the file
		t.version.Store(1)
		t.register()
		return nil
	case errors.Is(err, os.ErrNotExist):
		return dberr.Wrap(dberr.CodeStaleCatalogEntry, err, "table %s does not exist", t.cfg.Name)
	case err != nil:
		return dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to load table %s", t.cfg.Name)
	}

	rel, err := decode(cols, t.cfg.IndexType)
	if err != nil {
		return dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to decode table %s", t.cfg.Name)
	}

	t.mu.Lock()
	t.rel = rel
	t.mu.Unlock()
	t.register()
	loadedRowsTotal.Add(rel.NumRows())

	log.Infof("loaded table %s (%d rows, %d columns) in %s", t.cfg.Name, rel.NumRows(), rel.NumColumns(), time.Since(start))
	return nil
}

// register exposes the current relation to the engine
func (t *Table) register() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return
	}
	t.cfg.Engine.Register(t.view, t.rel)
}

// Close releases the engine view and cancels deferred saves. It does not
// save; call Flush first if the table is dirty.
func (t *Table) Close() {
	t.mu.Lock()
	wasClosed := t.closed.Swap(true)
	t.mu.Unlock()
	if !wasClosed {
		t.release()
	}
}

// Retire closes the table if no mutating operation is in flight and every
// change is saved. It reports whether the table is closed. Mutations that
// start afterwards fail with ErrClosed.
func (t *Table) Retire() bool {
	t.mu.Lock()
	if !t.gate.Quiescent() || t.Dirty() {
		t.mu.Unlock()
		return false
	}
	wasClosed := t.closed.Swap(true)
	t.mu.Unlock()
	if !wasClosed {
		t.release()
	}
	return true
}

// Closed reports whether the table was closed.
func (t *Table) Closed() bool { return t.closed.Load() }

func (t *Table) release() {
	t.saver.Stop()
	t.cfg.Engine.Unregister(t.view)
	log.Debugf("closed table %s", t.cfg.Name)
}

// errClosed wraps ErrClosed for a table
func (t *Table) errClosed() error {
	return dberr.Wrap(dberr.CodeCollectionNotFound, ErrClosed, "collection %s was unloaded", t.cfg.Name)
}

// Drop closes the table and deletes its files.
func (t *Table) Drop() error {
	t.Close()
	return colfile.Remove(t.path)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Name returns the collection name.
func (t *Table) Name() string { return t.cfg.Name }

// View returns the engine view name.
func (t *Table) View() string { return t.view }

// IndexType returns the index type.
func (t *Table) IndexType() IndexType { return t.cfg.IndexType }

// Gate returns the operations gate.
func (t *Table) Gate() *Gate { return t.gate }

// LastUsed returns the time of the last access.
func (t *Table) LastUsed() time.Time { return time.Unix(0, t.lastUsed.Load()) }

// LastModified returns the time of the last mutation.
func (t *Table) LastModified() time.Time { return time.Unix(0, t.lastModified.Load()) }

// LastSaved returns the time the last save finished.
func (t *Table) LastSaved() time.Time { return t.saver.LastSaved() }

// SetLastUsed overrides the last access time.
func (t *Table) SetLastUsed(at time.Time) { t.lastUsed.Store(at.UnixNano()) }

// Dirty reports whether the relation changed since the last successful save.
func (t *Table) Dirty() bool {
	return t.version.Load() != t.savedVersion.Load()
}

// IsEmpty reports whether the relation has no rows.
func (t *Table) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rel.IsEmpty()
}

// Snapshot returns a copy of the relation.
func (t *Table) Snapshot() *relation.Relation {
	t.touch()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rel.Clone()
}

// Info returns the catalog metadata of the table.
func (t *Table) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info()
}

func (t *Table) info() Info {
	columns := t.rel.ColumnNames()
	return Info{
		Name:      t.cfg.Name,
		Columns:   columns,
		Domains:   DeriveDomains(columns),
		Rows:      t.rel.NumRows(),
		IndexType: t.cfg.IndexType,
		LastEdit:  t.LastModified(),
	}
}

func (t *Table) touch() {
	t.lastUsed.Store(time.Now().UnixNano())
}

// changed marks a mutation. It must be called with the write lock held.
func (t *Table) changed() {
	now := time.Now().UnixNano()
	t.version.Add(1)
	t.lastUsed.Store(now)
	t.lastModified.Store(now)
}

// publish re-registers the view and reports the new metadata. It must be
// called without locks held.
func (t *Table) publish() {
	if t.closed.Load() {
		return
	}
	t.register()
	if t.cfg.OnChange != nil {
		t.cfg.OnChange(t.Info())
	}
}

// WaitUntilQuiescent blocks until no mutating operation is in flight.
func (t *Table) WaitUntilQuiescent(ctx context.Context) error {
	return t.gate.WaitUntilQuiescent(ctx)
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// RequestSave schedules a save, coalesced with other requests.
func (t *Table) RequestSave() {
	if t.closed.Load() {
		return
	}
	t.saver.RequestSave()
}

// Flush saves the table now if it is dirty and waits until it is written.
func (t *Table) Flush(ctx context.Context) error {
	if !t.Dirty() {
		return nil
	}
	return t.saver.Flush(ctx)
}

// save persists the relation: wait for quiescence, back up the previous
// file, write the new one. The backup stays in place as last known good.
func (t *Table) save(ctx context.Context) error {
	if !t.Dirty() {
		return nil
	}
	if err := t.gate.WaitUntilQuiescent(ctx); err != nil {
		log.Warningf("not saving table %s: %v", t.cfg.Name, err)
		return err
	}

	start := time.Now()
	t.mu.RLock()
	version := t.version.Load()
	cols := encode(t.rel, t.cfg.IndexType)
	rows := t.rel.NumRows()
	t.mu.RUnlock()

	if err := colfile.Backup(t.path); err != nil {
		log.Warningf("failed to back up table %s: %v", t.cfg.Name, err)
	}

	if _, err := colfile.Write(t.path, cols); err != nil {
		saveFailures.Inc()
		err = dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to save table %s", t.cfg.Name)
		log.Errorf("%v", err)
		return err
	}

	t.savedVersion.Store(version)
	saveTotal.Inc()
	saveDuration.UpdateDuration(start)
	log.Infof("saved table %s (%d rows) in %s", t.cfg.Name, rows, time.Since(start))
	return nil
}
