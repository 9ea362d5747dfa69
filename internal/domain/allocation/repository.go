package allocation

import (
	"context"
	"fmt"
	"time"
)

// SourceReader loads the inputs of one (month, class) unit from the warehouse
type SourceReader interface {
	// LoadSnapshot reads the expense lines and candidate goods of the class for the window
	LoadSnapshot(ctx context.Context, expenseType ExpenseType, window Window) (*Snapshot, error)
	// ChangedMonths lists the months holding source rows of the class updated at or after since.
	// A nil since lists every month that has expense rows.
	ChangedMonths(ctx context.Context, expenseType ExpenseType, since *time.Time) ([]Window, error)
}

// Publisher replaces the published rows of one (month, class) slice
type Publisher interface {
	// Replace deletes the rows of the class dated inside the window and inserts rows.
	// It returns the number of rows deleted.
	Replace(ctx context.Context, expenseType ExpenseType, window Window, rows []Row) (int64, error)
	// Lock serializes publishers of the same slice for the rest of the transaction
	Lock(ctx context.Context, expenseType ExpenseType, window Window) error
}

// JobStatus is the last successful run of a named job
type JobStatus struct {
	JobName       string
	LastSuccessAt time.Time
}

// JobStatusRepository tracks the last successful run per job
type JobStatusRepository interface {
	LastSuccess(ctx context.Context, jobName string) (*time.Time, error)
	MarkSuccess(ctx context.Context, jobName string, at time.Time) error
	FindByName(ctx context.Context, jobName string) (*JobStatus, error)
}

// LockHandle releases a held slice lock
type LockHandle interface {
	Release(ctx context.Context) error
}

// Locker serializes recomputes of the same (month, class) slice across
// workers and processes. Acquire waits at most the locker's wait time and
// then fails with a LOCK_NOT_OBTAINED domain error.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

// LockKey names the lock serializing recomputes of one (month, class) slice
func LockKey(expenseType ExpenseType, window Window) string {
	return fmt.Sprintf("alloc:%s:%s", expenseType.Code(), window.Label())
}
