package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/ValentinKolb/dTable/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("blob")

var (
	setTotal     = metrics.NewCounter("dtable_blob_set_total")
	saveTotal    = metrics.NewCounter("dtable_blob_save_total")
	saveFailures = metrics.NewCounter("dtable_blob_save_failures_total")
)

const (
	// Extension is the file extension of storage snapshots
	Extension = ".store"

	// DefaultSaveCooldown is the debounce delay of storage saves
	DefaultSaveCooldown = 2 * time.Second

	tagSeparator = ":"
	keySeparator = "_"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Entry is one stored value.
type Entry struct {
	ID        string    `json:"id"` // key with tags, see FullKey
	Key       string    `json:"key"`
	Tags      []string  `json:"tags,omitempty"`
	Value     []byte    `json:"value"`
	Timestamp time.Time `json:"datetime"`
}

// Filter selects the entries of one key, optionally restricted to entries
// carrying at least one of the tags.
type Filter struct {
	Key  string   `json:"key"`
	Tags []string `json:"tags,omitempty"`
}

// Info is the catalog metadata of a storage.
type Info struct {
	Name     string
	Rows     int
	Keys     []string // distinct keys without tags
	Size     int64    // bytes of all values
	LastEdit time.Time
}

// Config configures a storage.
type Config struct {
	Name         string
	Dir          string // directory holding the snapshots
	SaveCooldown time.Duration

	// OnChange is called after every save with the new metadata.
	OnChange func(Info)
}

// Store is a key-value storage with tagged keys, persisted as a binary
// snapshot.
type Store struct {
	cfg  Config
	path string

	data  *xsync.MapOf[string, Entry]
	saver *util.Saver

	version      atomic.Uint64
	savedVersion atomic.Uint64
	lastModified atomic.Int64
	lastUsed     atomic.Int64
	closed       atomic.Bool
}

// FullKey returns the id an entry is stored under: the key, followed by "_"
// and the tags joined with ":" if there are any.
func FullKey(key string, tags []string) string {
	if len(tags) == 0 {
		return key
	}
	return key + keySeparator + strings.Join(tags, tagSeparator)
}

// FilePath returns the snapshot file of a storage.
func FilePath(dir, name string) string {
	return filepath.Join(dir, name+Extension)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Open loads a storage from its snapshot. A missing snapshot yields an
// empty storage when create is set and a StaleCatalogEntry otherwise.
func Open(cfg Config, create bool) (*Store, error) {
	if cfg.SaveCooldown <= 0 {
		cfg.SaveCooldown = DefaultSaveCooldown
	}
	s := &Store{
		cfg:  cfg,
		path: FilePath(cfg.Dir, cfg.Name),
		data: xsync.NewMapOf[string, Entry](),
	}
	s.saver = util.NewSaver(cfg.SaveCooldown, s.save)
	s.lastUsed.Store(time.Now().UnixNano())

	f, err := os.Open(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist) && create:
		s.version.Store(1)
		return s, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, dberr.Wrap(dberr.CodeStaleCatalogEntry, err, "storage %s does not exist", cfg.Name)
	case err != nil:
		return nil, dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to open storage %s", cfg.Name)
	}
	defer f.Close()

	if err := s.Load(f); err != nil {
		return nil, dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to load storage %s", cfg.Name)
	}
	if info, err := f.Stat(); err == nil {
		s.lastModified.Store(info.ModTime().UnixNano())
	}
	log.Infof("loaded storage %s (%d entries)", cfg.Name, s.data.Size())
	return s, nil
}

// Close cancels pending saves. It does not save; call Flush first.
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.saver.Stop()
}

// Drop closes the storage and deletes its snapshot.
func (s *Store) Drop() error {
	s.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Name returns the storage name.
func (s *Store) Name() string { return s.cfg.Name }

// LastUsed returns the time of the last access.
func (s *Store) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

// Set stores value under key and tags and schedules a save. A zero
// timestamp is replaced by the current time.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store) Set(key string, value []byte, tags []string, at time.Time) Entry {
	if at.IsZero() {
		at = time.Now()
	}
	e := Entry{
		ID:        FullKey(key, tags),
		Key:       key,
		Tags:      append([]string(nil), tags...),
		Value:     append([]byte(nil), value...),
		Timestamp: at.UTC().Truncate(time.Second),
	}
	s.data.Store(e.ID, e)
	setTotal.Inc()
	s.changed()
	return e
}

// Get returns the entries stored under key. With tags only entries that
// carry at least one of them are returned. The result is ordered by id.
func (s *Store) Get(key string, tags []string) []Entry {
	s.touch()
	var out []Entry
	s.data.Range(func(_ string, e Entry) bool {
		if e.Key == key && (len(tags) == 0 || hasAnyTag(e.Tags, tags)) {
			out = append(out, e)
		}
		return true
	})
	sortEntries(out)
	return out
}

// Filter returns the union of the entries selected by filters.
func (s *Store) Filter(filters []Filter) []Entry {
	seen := make(map[string]bool)
	var out []Entry
	for _, f := range filters {
		for _, e := range s.Get(f.Key, f.Tags) {
			if !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}
	sortEntries(out)
	return out
}

// Entries returns every entry ordered by id.
func (s *Store) Entries() []Entry {
	s.touch()
	out := make([]Entry, 0, s.data.Size())
	s.data.Range(func(_ string, e Entry) bool {
		out = append(out, e)
		return true
	})
	sortEntries(out)
	return out
}

// Delete removes every entry stored under key, whatever its tags. It
// returns the number of removed entries.
func (s *Store) Delete(key string) int {
	removed := 0
	s.data.Range(func(id string, e Entry) bool {
		if e.Key == key {
			if _, ok := s.data.LoadAndDelete(id); ok {
				removed++
			}
		}
		return true
	})
	if removed > 0 {
		s.changed()
	}
	return removed
}

// Keys returns the distinct keys (without tags) in sorted order.
func (s *Store) Keys() []string {
	set := make(map[string]struct{})
	s.data.Range(func(_ string, e Entry) bool {
		set[e.Key] = struct{}{}
		return true
	})
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return s.data.Size()
}

// Info returns the catalog metadata of the storage.
func (s *Store) Info() Info {
	sizes := s.sizes()
	return Info{
		Name:     s.cfg.Name,
		Rows:     int(sizes.Count()),
		Keys:     s.Keys(),
		Size:     sizes.Sum(),
		LastEdit: time.Unix(0, s.lastModified.Load()),
	}
}

// sizes summarizes the value sizes of all entries
func (s *Store) sizes() *util.SizeStats {
	sizes := util.NewSizeStats()
	s.data.Range(func(_ string, e Entry) bool {
		sizes.Add(len(e.Value))
		return true
	})
	return sizes
}

func (s *Store) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Store) changed() {
	now := time.Now().UnixNano()
	s.version.Add(1)
	s.lastModified.Store(now)
	s.lastUsed.Store(now)
	if !s.closed.Load() {
		s.saver.RequestSave()
	}
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// Dirty reports whether the storage changed since the last save.
func (s *Store) Dirty() bool {
	return s.version.Load() != s.savedVersion.Load()
}

// Flush saves the storage now if it is dirty.
func (s *Store) Flush(ctx context.Context) error {
	if !s.Dirty() {
		return nil
	}
	return s.saver.Flush(ctx)
}

// save writes a snapshot to a temporary file and renames it over the
// previous one
func (s *Store) save(_ context.Context) error {
	if !s.Dirty() {
		return nil
	}
	version := s.version.Load()

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		saveFailures.Inc()
		return dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to save storage %s", s.cfg.Name)
	}
	tmp := s.path + ".tmp"
	if err := s.writeFile(tmp); err != nil {
		_ = os.Remove(tmp)
		saveFailures.Inc()
		err = dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to save storage %s", s.cfg.Name)
		log.Errorf("%v", err)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		saveFailures.Inc()
		return dberr.Wrap(dberr.CodePersistenceFailure, err, "failed to save storage %s", s.cfg.Name)
	}

	saveTotal.Inc()
	if sizes := s.sizes(); sizes.Count() > 0 {
		log.Debugf("saved storage %s (%d entries, %s, median value %s)", s.cfg.Name, sizes.Count(),
			humanize.Bytes(uint64(sizes.Sum())), humanize.Bytes(uint64(sizes.Quantile(0.5))))
	}

	// a clean storage implies its metadata was handed over
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.Info())
	}
	s.savedVersion.Store(version)
	return nil
}

func (s *Store) writeFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}
