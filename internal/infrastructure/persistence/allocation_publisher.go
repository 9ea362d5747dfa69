package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// DefaultPublishBatchSize is the number of allocation rows per insert statement
const DefaultPublishBatchSize = 1000

// GormAllocationPublisher swaps the published rows of a (month, class) slice.
// It must run on the transaction that loaded the snapshot.
type GormAllocationPublisher struct {
	tx        *gorm.DB
	batchSize int
	now       func() time.Time
}

// NewGormAllocationPublisher creates a publisher bound to tx
func NewGormAllocationPublisher(tx *gorm.DB, batchSize int) *GormAllocationPublisher {
	if batchSize <= 0 {
		batchSize = DefaultPublishBatchSize
	}
	return &GormAllocationPublisher{tx: tx, batchSize: batchSize, now: time.Now}
}

// Lock takes a transaction-scoped advisory lock on the slice. Other dialects
// rely on the caller's lock alone.
func (p *GormAllocationPublisher) Lock(ctx context.Context, expenseType allocation.ExpenseType, window allocation.Window) error {
	if p.tx.Dialector.Name() != DialectPostgres {
		return nil
	}
	key := SliceLockKey(expenseType, window)
	if err := p.tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("failed to take advisory lock %s: %w", key, err)
	}
	return nil
}

// Replace implements allocation.Publisher
func (p *GormAllocationPublisher) Replace(ctx context.Context, expenseType allocation.ExpenseType, window allocation.Window, rows []allocation.Row) (int64, error) {
	db := p.tx.WithContext(ctx)

	del := db.Where("type_expense = ? AND date >= ? AND date < ?", string(expenseType), window.Start, window.End).
		Delete(&models.ExpenseAllocationModel{})
	if del.Error != nil {
		return 0, fmt.Errorf("failed to delete %s allocations for %s: %w", expenseType.Code(), window.Label(), del.Error)
	}
	if len(rows) == 0 {
		return del.RowsAffected, nil
	}

	now := p.now().UTC()
	batch := make([]models.ExpenseAllocationModel, 0, min(len(rows), p.batchSize))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := db.Create(&batch).Error; err != nil {
			return fmt.Errorf("failed to insert %s allocations for %s: %w", expenseType.Code(), window.Label(), err)
		}
		batch = batch[:0]
		return nil
	}
	for _, row := range rows {
		var m models.ExpenseAllocationModel
		m.FromDomain(row, now)
		batch = append(batch, m)
		if len(batch) == p.batchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return del.RowsAffected, nil
}

// SliceLockKey is the advisory lock key of a slice, shared with the worker lock
func SliceLockKey(expenseType allocation.ExpenseType, window allocation.Window) string {
	return allocation.LockKey(expenseType, window)
}

var _ allocation.Publisher = (*GormAllocationPublisher)(nil)
