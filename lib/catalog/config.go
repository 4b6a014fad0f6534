package catalog

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/dTable/lib/blob"
	"github.com/ValentinKolb/dTable/lib/table"
)

const (
	DefaultIdleThreshold = 90 * time.Minute
	DefaultSweepPeriod   = 30 * time.Second

	metaFile    = "master.db"
	lockFile    = "write.lock"
	tablesDir   = "tables"
	storagesDir = "storage"
)

// Config configures a Manager.
type Config struct {
	Root string // data directory

	IdleThreshold time.Duration // resident objects idle longer than this are evicted
	SweepPeriod   time.Duration // interval of the eviction sweep, 0 disables it

	SaveCooldown     time.Duration // debounce of table saves
	BlobSaveCooldown time.Duration // debounce of storage saves

	QuiesceInterval time.Duration
	QuiesceRetries  int

	// LockBudget bounds the wait for the write lock
	LockBudget time.Duration

	// FlushOnShutdown saves every dirty object in Close
	FlushOnShutdown bool
}

// DefaultConfig returns the default configuration for a data directory.
func DefaultConfig(root string) Config {
	return Config{
		Root:             root,
		IdleThreshold:    DefaultIdleThreshold,
		SweepPeriod:      DefaultSweepPeriod,
		SaveCooldown:     table.DefaultSaveCooldown,
		BlobSaveCooldown: blob.DefaultSaveCooldown,
		QuiesceInterval:  table.DefaultQuiesceInterval,
		QuiesceRetries:   table.DefaultQuiesceRetries,
		FlushOnShutdown:  true,
	}
}

func (c Config) String() string {
	return fmt.Sprintf(`Catalog Config:
	- Root: %s
	- Idle Threshold: %s
	- Sweep Period: %s
	- Save Cooldown: %s (storages: %s)
	- Quiesce: %d polls every %s
	- Flush On Shutdown: %t`,
		c.Root, c.IdleThreshold, c.SweepPeriod, c.SaveCooldown, c.BlobSaveCooldown,
		c.QuiesceRetries, c.QuiesceInterval, c.FlushOnShutdown)
}

func (c Config) tablesDir() string   { return filepath.Join(c.Root, tablesDir) }
func (c Config) storagesDir() string { return filepath.Join(c.Root, storagesDir) }
func (c Config) metaPath() string    { return filepath.Join(c.Root, metaFile) }
func (c Config) lockPath() string    { return filepath.Join(c.Root, lockFile) }
