package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSaverCoalescesRequests(t *testing.T) {
	var saves atomic.Int32
	s := NewSaver(100*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	})
	defer s.Stop()

	if !s.RequestSave() {
		t.Fatalf("first request should start a save")
	}
	waitFor(t, func() bool { return saves.Load() == 1 && !s.Pending() })

	// every request within the cooldown is folded into one deferred save
	for i := 0; i < 20; i++ {
		if s.RequestSave() {
			t.Fatalf("request %d during cooldown should be deferred", i)
		}
	}
	if !s.Pending() {
		t.Fatalf("a deferred save should be armed")
	}

	waitFor(t, func() bool { return saves.Load() == 2 })
	time.Sleep(250 * time.Millisecond)
	if got := saves.Load(); got != 2 {
		t.Errorf("expected 2 saves, got %d", got)
	}
}

func TestSaverFlush(t *testing.T) {
	var saves atomic.Int32
	boom := errors.New("boom")
	s := NewSaver(time.Hour, func(context.Context) error {
		if saves.Add(1) == 2 {
			return boom
		}
		return nil
	})
	defer s.Stop()

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if s.LastSaved().IsZero() {
		t.Errorf("LastSaved should be set after a flush")
	}

	// within the cooldown, a request is deferred and a flush cancels it
	s.RequestSave()
	if err := s.Flush(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected flush error %v, got %v", boom, err)
	}
	if s.Pending() {
		t.Errorf("flush should cancel the deferred save")
	}
}

func TestSaverStop(t *testing.T) {
	var saves atomic.Int32
	s := NewSaver(50*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	})

	s.RequestSave()
	s.RequestSave()
	s.Stop()

	n := saves.Load()
	time.Sleep(150 * time.Millisecond)
	if saves.Load() != n {
		t.Errorf("no save should run after Stop")
	}
	if s.RequestSave() {
		t.Errorf("a stopped saver should reject requests")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
