// Package lockmgr implements the write lock of the catalog: a marker file
// next to the metadata database that exists while a writer is active. It
// coordinates writers of one process and of several processes sharing the
// same data directory.
//
// Core Functionality:
//   - Lock acquisition with ownership verification
//   - Bounded waiting through exponential backoff
//   - Safe release operations that verify ownership
//   - Removal of a lock left behind by a crashed process
//
// Implementation Approach:
//
//   - Lock Acquisition: Writers of the same process queue on a semaphore.
//     The holder then creates the marker with O_CREATE|O_EXCL, which
//     guarantees that only one process can create it. The file contains a
//     randomly generated owner ID that identifies the lock holder. While
//     the marker exists the creation is retried with exponential backoff
//     (5ms initial, 100ms cap, 2s in total by default); a spent budget
//     yields an OperationTimeout error.
//
//   - Safe Release: ReleaseLock first compares the owner ID with the
//     content of the marker before deleting it.
//
//   - Readers: AwaitUnlocked waits with the same backoff for the marker to
//     disappear. Readers never fail; on a spent budget they log a warning
//     and proceed.
//
//   - Recovery: a marker that exists at startup belongs to a crashed
//     process. RemoveStale deletes it.
//
// Usage Example:
//
//	lock := lockmgr.NewLockManager(lockmgr.Config{Path: filepath.Join(root, "write.lock")})
//	if _, err := lock.RemoveStale(); err != nil {
//	    // Handle error
//	}
//
//	ownerID, err := lock.AcquireLock(ctx)
//	if err != nil {
//	    // Handle error (dberr.CodeOperationTimeout if the lock stayed held)
//	}
//	// write the metadata
//	if _, err := lock.ReleaseLock(ownerID); err != nil {
//	    // Handle error
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
package lockmgr
