package lockmgr

import "context"

// ILockManager defines the interface for the catalog write lock.
type ILockManager interface {
	// AcquireLock waits until the lock is free and takes it. It returns an
	// owner ID that must be passed to ReleaseLock. If the lock cannot be
	// taken before the backoff budget is spent the error is OperationTimeout.
	AcquireLock(ctx context.Context) (ownerID []byte, err error)

	// ReleaseLock releases the lock if it is held by ownerID.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return true if the lock did not exist.
	ReleaseLock(ownerID []byte) (ok bool, err error)

	// AwaitUnlocked waits until no writer holds the lock. It returns false
	// if the backoff budget was spent; readers then proceed anyway.
	AwaitUnlocked(ctx context.Context) bool

	// RemoveStale deletes a lock left behind by a crashed process. It must
	// only be called before the first AcquireLock of this process. It
	// returns true if a stale lock was removed.
	RemoveStale() (bool, error)
}
