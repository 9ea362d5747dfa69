package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	appalloc "github.com/erp/costalloc/internal/application/allocation"
	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func allocRow(et allocation.ExpenseType, date time.Time, amt string) allocation.Row {
	return allocation.Row{
		Type:           et,
		RegistrarID:    uuid.New(),
		GoodsID:        uuid.New(),
		DepartmentID:   uuid.New(),
		CostCategoryID: uuid.New(),
		Date:           date,
		Amount:         decimal.RequireFromString(amt),
	}
}

func countAllocations(t *testing.T, db *gorm.DB, et allocation.ExpenseType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.ExpenseAllocationModel{}).Where("type_expense = ?", string(et)).Count(&n).Error)
	return n
}

func TestGormAllocationPublisher_Replace(t *testing.T) {
	ctx := context.Background()
	march := allocation.MonthOf(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	april := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("replaces only the slice of the class and month", func(t *testing.T) {
		db := newSQLiteDB(t)
		publisher := NewGormAllocationPublisher(db, 0)
		_, err := publisher.Replace(ctx, allocation.ExpenseTypeDirect, march, []allocation.Row{
			allocRow(allocation.ExpenseTypeDirect, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "1.00"),
			allocRow(allocation.ExpenseTypeDirect, time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), "2.00"),
		})
		require.NoError(t, err)
		_, err = publisher.Replace(ctx, allocation.ExpenseTypeDirect, allocation.MonthOf(april), []allocation.Row{
			allocRow(allocation.ExpenseTypeDirect, april, "3.00"),
		})
		require.NoError(t, err)
		_, err = publisher.Replace(ctx, allocation.ExpenseTypeGeneral, march, []allocation.Row{
			allocRow(allocation.ExpenseTypeGeneral, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), "4.00"),
		})
		require.NoError(t, err)

		fresh := allocRow(allocation.ExpenseTypeDirect, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), "9.99")
		deleted, err := publisher.Replace(ctx, allocation.ExpenseTypeDirect, march, []allocation.Row{fresh})

		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)
		assert.Equal(t, int64(2), countAllocations(t, db, allocation.ExpenseTypeDirect))
		assert.Equal(t, int64(1), countAllocations(t, db, allocation.ExpenseTypeGeneral))

		var got models.ExpenseAllocationModel
		require.NoError(t, db.Where("registrar_id = ?", fresh.RegistrarID).First(&got).Error)
		row := got.ToDomain()
		assert.Equal(t, fresh.GoodsID, row.GoodsID)
		assert.True(t, fresh.Amount.Equal(row.Amount))
		assert.True(t, fresh.Date.Equal(row.Date))
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("empty result clears the slice", func(t *testing.T) {
		db := newSQLiteDB(t)
		publisher := NewGormAllocationPublisher(db, 0)
		_, err := publisher.Replace(ctx, allocation.ExpenseTypeWarehouse, march, []allocation.Row{
			allocRow(allocation.ExpenseTypeWarehouse, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "5.00"),
		})
		require.NoError(t, err)

		deleted, err := publisher.Replace(ctx, allocation.ExpenseTypeWarehouse, march, nil)

		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
		assert.Zero(t, countAllocations(t, db, allocation.ExpenseTypeWarehouse))
	})

	t.Run("inserts in batches", func(t *testing.T) {
		db := newSQLiteDB(t)
		publisher := NewGormAllocationPublisher(db, 2)
		rows := make([]allocation.Row, 5)
		for i := range rows {
			rows[i] = allocRow(allocation.ExpenseTypeGeneral, time.Date(2024, 3, i+1, 0, 0, 0, 0, time.UTC), "1.50")
		}

		_, err := publisher.Replace(ctx, allocation.ExpenseTypeGeneral, march, rows)

		require.NoError(t, err)
		assert.Equal(t, int64(5), countAllocations(t, db, allocation.ExpenseTypeGeneral))
	})

	t.Run("rolls back with its transaction", func(t *testing.T) {
		db := newSQLiteDB(t)
		scope := NewGormAllocationTransactionScope(db, testFilter, 0)
		boom := errors.New("compute failed")

		err := scope.Execute(ctx, func(repos appalloc.TransactionalRepositories) error {
			if _, err := repos.Publisher().Replace(ctx, allocation.ExpenseTypeDirect, march, []allocation.Row{
				allocRow(allocation.ExpenseTypeDirect, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), "1.00"),
			}); err != nil {
				return err
			}
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.Zero(t, countAllocations(t, db, allocation.ExpenseTypeDirect))
	})
}

func TestGormAllocationPublisher_Lock(t *testing.T) {
	ctx := context.Background()
	window := allocation.MonthOf(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	t.Run("takes an advisory lock on postgres", func(t *testing.T) {
		db, mock := newMockPostgresDB(t)
		mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
			WithArgs("alloc:direct:2024-03").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewGormAllocationPublisher(db, 0).Lock(ctx, allocation.ExpenseTypeDirect, window)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports lock errors", func(t *testing.T) {
		db, mock := newMockPostgresDB(t)
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
			WillReturnError(errors.New("canceling statement due to lock timeout"))

		err := NewGormAllocationPublisher(db, 0).Lock(ctx, allocation.ExpenseTypeGeneral, window)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "alloc:general:2024-03")
	})

	t.Run("is a no-op on sqlite", func(t *testing.T) {
		db := newSQLiteDB(t)
		assert.NoError(t, NewGormAllocationPublisher(db, 0).Lock(ctx, allocation.ExpenseTypeDirect, window))
	})
}

func TestSliceLockKey(t *testing.T) {
	window := allocation.MonthOf(time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "alloc:warehouse:2025-11", SliceLockKey(allocation.ExpenseTypeWarehouse, window))
}
