package lockmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ValentinKolb/dTable/lib/dberr"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

var (
	lockWait     = metrics.NewHistogram("dtable_lock_wait_seconds")
	lockTimeouts = metrics.NewCounter("dtable_lock_timeouts_total")
)

const (
	DefaultInitialInterval = 5 * time.Millisecond
	DefaultMaxInterval     = 100 * time.Millisecond
	DefaultBudget          = 2 * time.Second
)

// Config configures a marker-file lock.
type Config struct {
	Path            string        // the marker file
	InitialInterval time.Duration // first retry interval
	MaxInterval     time.Duration // retry interval cap
	Budget          time.Duration // total time one wait may take
}

type markerLock struct {
	cfg Config

	// sem serializes writers of this process, the marker file serializes processes
	sem chan struct{}

	mu    sync.Mutex
	owner []byte
}

// NewLockManager returns a lock that is held while cfg.Path exists.
func NewLockManager(cfg Config) ILockManager {
	cfg.InitialInterval = durationOr(cfg.InitialInterval, DefaultInitialInterval)
	cfg.MaxInterval = durationOr(cfg.MaxInterval, DefaultMaxInterval)
	cfg.Budget = durationOr(cfg.Budget, DefaultBudget)
	return &markerLock{
		cfg: cfg,
		sem: make(chan struct{}, 1),
	}
}

func (l *markerLock) AcquireLock(ctx context.Context) ([]byte, error) {
	start := time.Now()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		lockTimeouts.Inc()
		return nil, dberr.Wrap(dberr.CodeOperationTimeout, ctx.Err(), "waiting for write lock")
	}

	// Generate owner ID, it is written into the marker
	ownerID, err := generateOwnerID()
	if err != nil {
		<-l.sem
		return nil, err
	}

	// Try to create the marker (O_EXCL makes this atomic across processes)
	err = backoff.Retry(func() error {
		f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		_, werr := f.Write(ownerID)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(l.cfg.Path)
			return backoff.Permanent(werr)
		}
		return nil
	}, backoff.WithContext(newBackOff(l.cfg), ctx))

	if err != nil {
		<-l.sem
		if errors.Is(err, os.ErrExist) || ctx.Err() != nil {
			lockTimeouts.Inc()
			return nil, dberr.Wrap(dberr.CodeOperationTimeout, err, "write lock %s is held", l.cfg.Path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	l.mu.Lock()
	l.owner = ownerID
	l.mu.Unlock()

	lockWait.UpdateDuration(start)
	return ownerID, nil
}

func (l *markerLock) ReleaseLock(ownerID []byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Check if the lock is owned by us
	if l.owner == nil || !bytes.Equal(l.owner, ownerID) {
		return false, nil
	}
	l.owner = nil
	defer func() { <-l.sem }()

	// Check if the marker still exists
	value, err := os.ReadFile(l.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warningf("write lock %s vanished while held", l.cfg.Path)
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if !bytes.Equal(value, ownerID) {
		log.Warningf("write lock %s was taken over by another owner", l.cfg.Path)
		return false, nil
	}

	// Release the lock
	if err := os.Remove(l.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, nil
}

func (l *markerLock) AwaitUnlocked(ctx context.Context) bool {
	err := backoff.Retry(func() error {
		_, err := os.Stat(l.cfg.Path)
		if err == nil {
			return os.ErrExist
		}
		return nil
	}, backoff.WithContext(newBackOff(l.cfg), ctx))

	if err != nil {
		log.Warningf("reading while write lock %s is held", l.cfg.Path)
		return false
	}
	return true
}

func (l *markerLock) RemoveStale() (bool, error) {
	err := os.Remove(l.cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	log.Warningf("removed stale write lock %s", l.cfg.Path)
	return true, nil
}
