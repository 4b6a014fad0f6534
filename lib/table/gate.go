package table

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dTable/lib/dberr"
)

const (
	// DefaultQuiesceInterval is the poll interval of WaitUntilQuiescent.
	DefaultQuiesceInterval = 50 * time.Millisecond

	// DefaultQuiesceRetries is the number of polls before giving up.
	DefaultQuiesceRetries = 100
)

// Gate tracks mutating operations in flight on a table. Block and Unblock
// bracket every load, merge and column drop; callers that need a quiescent
// table wait for the count to drop to zero.
type Gate struct {
	inflight atomic.Int32
	interval time.Duration
	retries  int
}

// NewGate creates a gate. Non-positive values select the defaults.
func NewGate(interval time.Duration, retries int) *Gate {
	if interval <= 0 {
		interval = DefaultQuiesceInterval
	}
	if retries <= 0 {
		retries = DefaultQuiesceRetries
	}
	return &Gate{interval: interval, retries: retries}
}

// Block marks the start of a mutating operation.
func (g *Gate) Block() {
	g.inflight.Add(1)
}

// Unblock marks the end of a mutating operation.
func (g *Gate) Unblock() {
	if g.inflight.Add(-1) < 0 {
		g.inflight.Store(0)
	}
}

// Quiescent reports whether no mutating operation is in flight.
func (g *Gate) Quiescent() bool {
	return g.inflight.Load() == 0
}

// WaitUntilQuiescent polls until no operation is in flight. After the retry
// budget is spent it fails with an OperationTimeout error; it never proceeds
// against a table mid-mutation.
func (g *Gate) WaitUntilQuiescent(ctx context.Context) error {
	if g.Quiescent() {
		return nil
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for i := 0; i < g.retries; i++ {
		select {
		case <-ctx.Done():
			return dberr.Wrap(dberr.CodeOperationTimeout, ctx.Err(), "waiting for operations to finish")
		case <-ticker.C:
		}
		if g.Quiescent() {
			return nil
		}
	}
	return dberr.New(dberr.CodeOperationTimeout, "operations did not finish within %s", time.Duration(g.retries)*g.interval)
}
