package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/table"
	"github.com/ValentinKolb/dTable/lib/util"
	"github.com/VictoriaMetrics/metrics"
)

var (
	evictions     = metrics.NewCounter("dtable_catalog_evictions_total")
	evictFailures = metrics.NewCounter("dtable_catalog_eviction_failures_total")
	sweepDuration = metrics.NewHistogram("dtable_catalog_sweep_duration_seconds")
	metaFailures  = metrics.NewCounter("dtable_catalog_metadata_failures_total")

	errBusy = dberr.New(dberr.CodeOperationTimeout, "operations are running")

	// the gauges report the most recently opened manager
	active     atomic.Pointer[Manager]
	gaugesOnce sync.Once
)

func registerGauges(mgr *Manager) {
	active.Store(mgr)
	gaugesOnce.Do(func() {
		metrics.NewGauge("dtable_catalog_resident_collections", func() float64 {
			if m := active.Load(); m != nil {
				return float64(m.tables.Size())
			}
			return 0
		})
		metrics.NewGauge("dtable_catalog_resident_storages", func() float64 {
			if m := active.Load(); m != nil {
				return float64(m.stores.Size())
			}
			return 0
		})
	})
}

// --------------------------------------------------------------------------
// Eviction sweep
// --------------------------------------------------------------------------

// sweepLoop runs the sweep every SweepPeriod until the manager is closed. A
// failing or panicking sweep does not stop the loop.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.cfg.SweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.safeSweep()
		}
	}
}

func (m *Manager) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("cleanup sweep panicked: %v", r)
		}
	}()
	m.RunCleanupSweep(context.Background())
}

// RunCleanupSweep evicts every resident collection and storage that was not
// used for longer than IdleThreshold, oldest first. Collections with
// running operations are skipped, dirty objects are saved before they are
// closed. Failures are logged and the object stays resident. It returns the
// number of evicted objects.
func (m *Manager) RunCleanupSweep(ctx context.Context) int {
	start := time.Now()
	defer sweepDuration.UpdateDuration(start)

	cutoff := start.Add(-m.cfg.IdleThreshold).UnixNano()
	evicted := 0

	// collections
	h := util.NewMapHeap()
	m.tables.Range(func(name string, t *table.Table) bool {
		h.AddItem(name, t.LastUsed().UnixNano())
		return true
	})
	for h.Len() > 0 {
		it := h.PopItem()
		if it.Priority >= cutoff {
			break
		}
		t, ok := m.tables.Load(it.Key)
		if !ok {
			continue
		}
		if err := m.evictTable(ctx, t); err != nil {
			evictFailures.Inc()
			log.Warningf("not evicting collection %s: %v", it.Key, err)
			continue
		}
		evicted++
	}

	// storages
	h = util.NewMapHeap()
	m.stores.Range(func(name string, s *blob.Store) bool {
		h.AddItem(name, s.LastUsed().UnixNano())
		return true
	})
	for h.Len() > 0 {
		it := h.PopItem()
		if it.Priority >= cutoff {
			break
		}
		s, ok := m.stores.Load(it.Key)
		if !ok {
			continue
		}
		if err := s.Flush(ctx); err != nil {
			evictFailures.Inc()
			log.Warningf("not evicting storage %s: %v", it.Key, err)
			continue
		}
		m.FlushMetadata()
		m.stores.Compute(it.Key, func(old *blob.Store, loaded bool) (*blob.Store, bool) {
			return old, !loaded || old == s
		})
		s.Close()
		evicted++
	}

	if evicted > 0 {
		evictions.Add(evicted)
		log.Infof("evicted %d idle objects", evicted)
	}
	return evicted
}

// evictTable saves and closes an idle collection
func (m *Manager) evictTable(ctx context.Context, t *table.Table) error {
	if !t.Gate().Quiescent() {
		return errBusy
	}
	if err := t.Flush(ctx); err != nil {
		return err
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	// the collection may have been used or replaced meanwhile
	if time.Since(t.LastUsed()) < m.cfg.IdleThreshold || !t.Gate().Quiescent() {
		return errBusy
	}
	if t.Dirty() {
		if err := t.Flush(ctx); err != nil {
			return err
		}
	}
	// operations that start after Retire fail with ErrClosed and reload
	if !t.Retire() {
		return errBusy
	}
	m.FlushMetadata()
	m.tables.Compute(t.Name(), func(old *table.Table, loaded bool) (*table.Table, bool) {
		return old, !loaded || old == t
	})
	log.Debugf("evicted collection %s", t.Name())
	return nil
}
