package util

import (
	"context"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Debounced saver
// --------------------------------------------------------------------------

// Saver rate-limits calls to a save function.
//
// RequestSave runs the save in the background unless a save is running or the
// last save finished less than the cooldown ago; in that case a single timer
// is armed that requests the save again once the cooldown has passed.
// Repeated requests during the cooldown are coalesced into that timer. At
// most one save runs at any time.
//
// Flush runs the save immediately and returns its error.
type Saver struct {
	save     func(ctx context.Context) error
	cooldown time.Duration

	mu        sync.Mutex
	running   bool
	stopped   bool
	lastSaved time.Time
	timer     *time.Timer
	inflight  sync.WaitGroup

	// held for the duration of a physical save
	saveMu sync.Mutex
}

// NewSaver creates a saver that calls save at most once per cooldown.
func NewSaver(cooldown time.Duration, save func(ctx context.Context) error) *Saver {
	return &Saver{save: save, cooldown: cooldown}
}

// RequestSave asks for a save. It returns true if a save was started right
// away and false if the request was deferred or the saver is stopped.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Saver) RequestSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	since := time.Since(s.lastSaved)
	if s.running || since < s.cooldown {
		if s.timer == nil {
			delay := s.cooldown - since
			if delay <= 0 {
				delay = s.cooldown
			}
			s.timer = time.AfterFunc(delay, s.fire)
		}
		return false
	}

	s.running = true
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_ = s.execute(context.Background())
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return true
}

// fire is the timer callback
func (s *Saver) fire() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	s.RequestSave()
}

// Flush cancels a pending deferred save and saves immediately, waiting for a
// running save to finish first.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.execute(ctx)
}

func (s *Saver) execute(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	err := s.save(ctx)

	s.mu.Lock()
	s.lastSaved = time.Now()
	s.mu.Unlock()
	return err
}

// Pending reports whether a deferred save is armed or a save is running.
func (s *Saver) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil || s.running
}

// LastSaved returns the time the last save finished (zero if none ran).
func (s *Saver) LastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// Stop cancels a deferred save, rejects further requests and waits for a
// running save to finish. It does not save.
func (s *Saver) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.inflight.Wait()
}
