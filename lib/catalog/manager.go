package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/lib/colfile"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/engine"
	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/ValentinKolb/dTable/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("catalog")

// validName restricts collection and storage names to what can be used as
// file name and SQL identifier
var validName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-]*$`)

// metaUpdate is one unit of work for the metadata writer
type metaUpdate struct {
	table   *table.Info
	storage *blob.Info
}

// Manager owns the catalog: the metadata store, the resident collections
// and storages, and the shared query engine.
type Manager struct {
	cfg    Config
	engine *engine.Engine
	meta   *metaStore

	tables *xsync.MapOf[string, *table.Table]
	stores *xsync.MapOf[string, *blob.Store]

	// loadMu serializes creating, loading and dropping so that an object is
	// never materialized twice
	loadMu sync.Mutex

	updates *util.WorkQueue[metaUpdate]

	stopSweep chan struct{}
	sweepDone chan struct{}
	closed    atomic.Bool
}

// NewManager opens the catalog in cfg.Root, removing a stale write lock,
// and starts the eviction sweep.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	for _, dir := range []string{cfg.Root, cfg.tablesDir(), cfg.storagesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	meta, err := openMetaStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		engine:    engine.New(),
		meta:      meta,
		tables:    xsync.NewMapOf[string, *table.Table](),
		stores:    xsync.NewMapOf[string, *blob.Store](),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	m.updates = util.NewWorkQueue(m.applyUpdate)
	registerGauges(m)

	if cfg.SweepPeriod > 0 {
		go m.sweepLoop()
	} else {
		close(m.sweepDone)
	}

	version, lower, _ := meta.Version(ctx)
	log.Infof("opened catalog %s (version %d.%d)", cfg.Root, version, lower)
	return m, nil
}

// Engine returns the query engine shared by all collections.
func (m *Manager) Engine() *engine.Engine { return m.engine }

// Close stops the sweep, saves every dirty object if FlushOnShutdown is
// set, closes all resident objects and the metadata store.
func (m *Manager) Close(ctx context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.stopSweep)
	<-m.sweepDone

	var errs []error
	if m.cfg.FlushOnShutdown {
		m.tables.Range(func(name string, t *table.Table) bool {
			if err := t.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush %s: %w", name, err))
			}
			return true
		})
		m.stores.Range(func(name string, s *blob.Store) bool {
			if err := s.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush storage %s: %w", name, err))
			}
			return true
		})
		m.FlushMetadata()
	}

	m.tables.Range(func(name string, t *table.Table) bool {
		t.Close()
		m.tables.Delete(name)
		return true
	})
	m.stores.Range(func(name string, s *blob.Store) bool {
		s.Close()
		m.stores.Delete(name)
		return true
	})
	active.CompareAndSwap(m, nil)

	m.updates.Close()
	if err := m.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Infof("closed catalog %s", m.cfg.Root)
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Metadata flush
// --------------------------------------------------------------------------

// FlushMetadata blocks until every queued metadata update is written.
func (m *Manager) FlushMetadata() {
	m.updates.Wait()
}

func (m *Manager) enqueueTable(info table.Info) {
	m.updates.Push(metaUpdate{table: &info})
}

func (m *Manager) enqueueStorage(info blob.Info) {
	m.updates.Push(metaUpdate{storage: &info})
}

// applyUpdate writes one metadata update. Updates of objects that are no
// longer resident (dropped in the meantime) are skipped.
func (m *Manager) applyUpdate(u metaUpdate) {
	ctx := context.Background()
	switch {
	case u.table != nil:
		if _, ok := m.tables.Load(u.table.Name); !ok {
			return
		}
		if err := m.meta.upsertCollection(ctx, *u.table); err != nil {
			metaFailures.Inc()
			log.Errorf("failed to update catalog entry of %s: %v", u.table.Name, err)
		}
	case u.storage != nil:
		if _, ok := m.stores.Load(u.storage.Name); !ok {
			return
		}
		if err := m.meta.upsertStorage(ctx, *u.storage); err != nil {
			metaFailures.Inc()
			log.Errorf("failed to update catalog entry of storage %s: %v", u.storage.Name, err)
		}
	}
}

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

func (m *Manager) tableConfig(name string, indexType table.IndexType) table.Config {
	return table.Config{
		Name:            name,
		Dir:             m.cfg.tablesDir(),
		IndexType:       indexType,
		Engine:          m.engine,
		SaveCooldown:    m.cfg.SaveCooldown,
		QuiesceInterval: m.cfg.QuiesceInterval,
		QuiesceRetries:  m.cfg.QuiesceRetries,
		OnChange:        m.enqueueTable,
	}
}

func checkName(name string) error {
	if !validName.MatchString(name) {
		return dberr.New(dberr.CodeInvalidArgument, "invalid name %q", name)
	}
	return nil
}

// CreateCollection registers a new, empty collection. kind must be empty
// or "table".
func (m *Manager) CreateCollection(ctx context.Context, name, kind string, indexType table.IndexType) (*table.Table, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if kind != "" && kind != collectionType {
		return nil, dberr.New(dberr.CodeInvalidArgument, "unsupported collection type %q", kind)
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if _, ok := m.tables.Load(name); ok {
		return nil, dberr.New(dberr.CodeDuplicateCollection, "collection %s already exists", name)
	}
	return m.create(ctx, name, indexType)
}

// create inserts the catalog row and materializes the table. It must be
// called with loadMu held.
func (m *Manager) create(ctx context.Context, name string, indexType table.IndexType) (*table.Table, error) {
	if indexType == "" {
		indexType = table.IndexTimeseries
	}
	if err := m.meta.insertCollection(ctx, name, indexType); err != nil {
		return nil, err
	}

	t, err := table.Open(m.tableConfig(name, indexType), true)
	if err != nil {
		_ = m.meta.deleteCollection(ctx, name)
		return nil, err
	}
	m.tables.Store(name, t)
	log.Infof("created collection %s (%s)", name, indexType)
	return t, nil
}

// GetOrLoadCollection returns the resident collection or loads it. If the
// collection does not exist it is created when createIfMissing is set;
// otherwise the result is nil without error.
//
// A catalog row without a column file is stale: the row is removed and the
// collection treated as missing. A column file without a row is loaded with
// timeseries defaults and registered.
func (m *Manager) GetOrLoadCollection(ctx context.Context, name string, createIfMissing bool, indexType table.IndexType) (*table.Table, error) {
	if t, ok := m.tables.Load(name); ok && !t.Closed() {
		return t, nil
	}
	if err := checkName(name); err != nil {
		return nil, err
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if t, ok := m.tables.Load(name); ok {
		if !t.Closed() {
			return t, nil
		}
		m.tables.Compute(name, func(old *table.Table, loaded bool) (*table.Table, bool) {
			return old, !loaded || old == t
		})
	}

	row, err := m.meta.getCollection(ctx, name)
	if err != nil {
		return nil, err
	}

	switch {
	case row != nil:
		t, err := table.Open(m.tableConfig(name, row.IndexType), false)
		if dberr.Is(err, dberr.CodeStaleCatalogEntry) {
			log.Warningf("removing stale catalog entry %s", name)
			if derr := m.meta.deleteCollection(ctx, name); derr != nil {
				return nil, derr
			}
			break
		}
		if err != nil {
			return nil, err
		}
		m.tables.Store(name, t)
		return t, nil

	case colfile.Exists(table.FilePath(m.cfg.tablesDir(), name)):
		t, err := table.Open(m.tableConfig(name, table.IndexTimeseries), false)
		if err != nil {
			return nil, err
		}
		m.tables.Store(name, t)
		m.enqueueTable(t.Info())
		log.Infof("registered collection %s found without catalog entry", name)
		return t, nil
	}

	if !createIfMissing {
		return nil, nil
	}
	return m.create(ctx, name, indexType)
}

// collection returns the collection or a CollectionNotFound error
func (m *Manager) collection(ctx context.Context, name string) (*table.Table, error) {
	t, err := m.GetOrLoadCollection(ctx, name, false, "")
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, dberr.New(dberr.CodeCollectionNotFound, "collection %s does not exist", name)
	}
	return t, nil
}

// Collection returns the collection, loading it if needed. A missing
// collection yields CollectionNotFound.
func (m *Manager) Collection(ctx context.Context, name string) (*table.Table, error) {
	return m.collection(ctx, name)
}

// DropCollection waits for running operations, closes the collection,
// deletes its files and its catalog row. Dropping a missing collection is
// not an error.
func (m *Manager) DropCollection(ctx context.Context, name string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if t, ok := m.tables.Load(name); ok {
		if err := t.WaitUntilQuiescent(ctx); err != nil {
			return err
		}
		m.tables.Delete(name)
		if err := t.Drop(); err != nil {
			log.Warningf("failed to delete files of %s: %v", name, err)
		}
	} else if err := colfile.Remove(table.FilePath(m.cfg.tablesDir(), name)); err != nil {
		log.Warningf("failed to delete files of %s: %v", name, err)
	}

	// pending updates must not resurrect the row
	m.FlushMetadata()
	if err := m.meta.deleteCollection(ctx, name); err != nil {
		return err
	}
	log.Infof("dropped collection %s", name)
	return nil
}

// DropColumns removes columns of a collection, see table.Table.DropColumns.
func (m *Manager) DropColumns(ctx context.Context, name string, columns []string, domain string) ([]string, error) {
	for attempt := 0; ; attempt++ {
		t, err := m.collection(ctx, name)
		if err != nil {
			return nil, err
		}
		dropped, err := t.DropColumns(ctx, columns, domain)
		if errors.Is(err, table.ErrClosed) && attempt == 0 {
			continue
		}
		return dropped, err
	}
}

// ListCollections returns the catalog entries of all collections.
func (m *Manager) ListCollections(ctx context.Context) ([]Collection, error) {
	m.FlushMetadata()
	return m.meta.listCollections(ctx)
}

// DescribeCollection returns the column descriptors of a collection.
func (m *Manager) DescribeCollection(ctx context.Context, name string) ([]table.ColumnDescriptor, error) {
	t, err := m.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Describe(), nil
}

// AppendBatch merges a batch into a collection, creating it if needed. A
// new collection is a timeseries collection if the batch is time-indexed
// and a raw one otherwise.
func (m *Manager) AppendBatch(ctx context.Context, name string, batch *relation.Relation, policy table.Policy, domain string) error {
	indexType := table.IndexRaw
	if batch != nil && batch.IsTimeIndexed() {
		indexType = table.IndexTimeseries
	}
	for attempt := 0; ; attempt++ {
		t, err := m.GetOrLoadCollection(ctx, name, true, indexType)
		if err != nil {
			return err
		}
		err = t.MergeBatch(ctx, batch, policy, domain)
		// an eviction closed the table after the lookup
		if errors.Is(err, table.ErrClosed) && attempt == 0 {
			continue
		}
		return err
	}
}

// WaitUntilQuiescent waits until no mutating operation runs on the
// collection. Collections that are not resident are quiescent.
func (m *Manager) WaitUntilQuiescent(ctx context.Context, name string) error {
	t, ok := m.tables.Load(name)
	if !ok {
		return nil
	}
	return t.WaitUntilQuiescent(ctx)
}

// SaveCollection requests a (debounced) save of a collection.
func (m *Manager) SaveCollection(ctx context.Context, name string) error {
	t, err := m.collection(ctx, name)
	if err != nil {
		return err
	}
	t.RequestSave()
	return nil
}

// Resident reports whether a collection is loaded.
func (m *Manager) Resident(name string) bool {
	_, ok := m.tables.Load(name)
	return ok
}

// --------------------------------------------------------------------------
// Storages
// --------------------------------------------------------------------------

func (m *Manager) storageConfig(name string) blob.Config {
	return blob.Config{
		Name:         name,
		Dir:          m.cfg.storagesDir(),
		SaveCooldown: m.cfg.BlobSaveCooldown,
		OnChange:     m.enqueueStorage,
	}
}

// CreateStorage registers a new, empty storage.
func (m *Manager) CreateStorage(ctx context.Context, name string) (*blob.Store, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if _, ok := m.stores.Load(name); ok {
		return nil, dberr.New(dberr.CodeDuplicateCollection, "storage %s already exists", name)
	}
	return m.createStorage(ctx, name)
}

func (m *Manager) createStorage(ctx context.Context, name string) (*blob.Store, error) {
	if err := m.meta.insertStorage(ctx, name); err != nil {
		return nil, err
	}
	s, err := blob.Open(m.storageConfig(name), true)
	if err != nil {
		_ = m.meta.deleteStorage(ctx, name)
		return nil, err
	}
	m.stores.Store(name, s)
	log.Infof("created storage %s", name)
	return s, nil
}

// GetOrLoadStorage returns the resident storage or loads it. A missing
// storage is created when createIfMissing is set; otherwise the result is
// nil without error.
func (m *Manager) GetOrLoadStorage(ctx context.Context, name string, createIfMissing bool) (*blob.Store, error) {
	if s, ok := m.stores.Load(name); ok {
		return s, nil
	}
	if err := checkName(name); err != nil {
		return nil, err
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if s, ok := m.stores.Load(name); ok {
		return s, nil
	}

	row, err := m.meta.getStorage(ctx, name)
	if err != nil {
		return nil, err
	}
	if row != nil {
		s, err := blob.Open(m.storageConfig(name), false)
		switch {
		case dberr.Is(err, dberr.CodeStaleCatalogEntry):
			// created but never saved
			s, err = blob.Open(m.storageConfig(name), true)
			if err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		}
		m.stores.Store(name, s)
		return s, nil
	}

	if !createIfMissing {
		return nil, nil
	}
	return m.createStorage(ctx, name)
}

// Storage returns the storage or a CollectionNotFound error.
func (m *Manager) Storage(ctx context.Context, name string) (*blob.Store, error) {
	s, err := m.GetOrLoadStorage(ctx, name, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, dberr.New(dberr.CodeCollectionNotFound, "storage %s does not exist", name)
	}
	return s, nil
}

// DropStorage deletes a storage and its catalog row. Dropping a missing
// storage is not an error.
func (m *Manager) DropStorage(ctx context.Context, name string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if s, ok := m.stores.Load(name); ok {
		m.stores.Delete(name)
		if err := s.Drop(); err != nil {
			log.Warningf("failed to delete storage file of %s: %v", name, err)
		}
	} else if err := os.Remove(blob.FilePath(m.cfg.storagesDir(), name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warningf("failed to delete storage file of %s: %v", name, err)
	}

	m.FlushMetadata()
	return m.meta.deleteStorage(ctx, name)
}

// ListStorages returns the catalog entries of all storages.
func (m *Manager) ListStorages(ctx context.Context) ([]Storage, error) {
	m.FlushMetadata()
	return m.meta.listStorages(ctx)
}

// QueryCatalog runs a statement directly on the metadata database.
func (m *Manager) QueryCatalog(ctx context.Context, query string) (*relation.Relation, error) {
	return m.meta.Query(ctx, query)
}
