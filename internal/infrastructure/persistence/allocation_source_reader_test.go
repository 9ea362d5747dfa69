package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/erp/costalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testFilter = SourceFilter{
	GeneralTransferType: "Погрузка в машину",
	OriginCountry:       "КИТАЙ",
}

// warehouseFixture is a small warehouse with one fact for every expense class in March 2024
type warehouseFixture struct {
	deptOut, deptOrigin             uuid.UUID
	category                        uuid.UUID
	transfer, loading               uuid.UUID
	goodsA, goodsB, goodsNull       uuid.UUID
	goodsExport                     uuid.UUID
	directReg, warehouseReg, genReg uuid.UUID
}

func strPtr(s string) *string { return &s }

func idPtr(id uuid.UUID) *uuid.UUID { return &id }

func amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func march(day int) time.Time {
	return time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC)
}

func seedWarehouse(t *testing.T, db *gorm.DB) warehouseFixture {
	t.Helper()
	f := warehouseFixture{
		deptOut: uuid.New(), deptOrigin: uuid.New(), category: uuid.New(),
		transfer: uuid.New(), loading: uuid.New(),
		goodsA: uuid.New(), goodsB: uuid.New(), goodsNull: uuid.New(), goodsExport: uuid.New(),
		directReg: uuid.New(), warehouseReg: uuid.New(), genReg: uuid.New(),
	}
	china, kazakhstan := uuid.New(), uuid.New()
	whOut, whOrigin, whAbroad, whChinaIn := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	status := int64(models.GoodsStatusDeparted)
	arrived := int64(1)
	loadType := testFilter.GeneralTransferType

	fixtures := []any{
		&models.DepartmentModel{ID: f.deptOut, Name: strPtr("Урумчи")},
		&models.CountryModel{ID: china, Name: strPtr(" Китай ")},
		&models.CountryModel{ID: kazakhstan, Name: strPtr("Казахстан")},
		&models.WarehouseModel{ID: whOut, DepartmentID: idPtr(f.deptOut), CountryID: idPtr(china)},
		&models.WarehouseModel{ID: whOrigin, DepartmentID: idPtr(f.deptOrigin), CountryID: idPtr(china)},
		&models.WarehouseModel{ID: whAbroad, DepartmentID: idPtr(uuid.New()), CountryID: idPtr(kazakhstan)},
		&models.WarehouseModel{ID: whChinaIn, CountryID: idPtr(china)},
		&models.GoodsModel{ID: f.goodsA, Amount: amount(30)},
		&models.GoodsModel{ID: f.goodsB, Amount: amount(70)},
		&models.GoodsModel{ID: f.goodsNull},
		&models.GoodsModel{ID: f.goodsExport, Amount: amount(10)},
		&models.TransferModel{ID: f.transfer, Date: march(3), OutWarehouseID: idPtr(whOut), InWarehouseID: idPtr(whChinaIn)},
		&models.TransferModel{ID: f.loading, Date: march(7), TypeTransfer: &loadType, OutWarehouseID: idPtr(whOrigin), InWarehouseID: idPtr(whAbroad)},
		&models.GoodsTransferModel{TransferID: f.transfer, GoodsID: f.goodsA},
		&models.GoodsTransferModel{TransferID: f.transfer, GoodsID: f.goodsB},
		&models.GoodsTransferModel{TransferID: f.transfer, GoodsID: f.goodsNull},
		&models.GoodsTransferModel{TransferID: f.loading, GoodsID: f.goodsExport},
		&models.GoodsLocationModel{RegistrarID: f.transfer, Date: march(20), GoodsID: f.goodsA,
			RegistrarType: "Документ.тп_ПеремещениеТовара", SenderWarehouseID: idPtr(whOut), GoodsStatus: &status},
		&models.GoodsLocationModel{RegistrarID: f.transfer, Date: march(21), GoodsID: f.goodsB,
			RegistrarType: "Документ.тп_ПеремещениеТовара", SenderWarehouseID: idPtr(whOut), GoodsStatus: &arrived},
		&models.GoodsLocationModel{RegistrarID: uuid.New(), Date: march(22), GoodsID: f.goodsB,
			RegistrarType: "Документ.тп_ПриемТовара", SenderWarehouseID: idPtr(whOut), GoodsStatus: &status},
		&models.DirectExpenseModel{RegistrarID: f.directReg, GoodsDocID: f.transfer, Date: march(10),
			RegistrarType: "Документ.Расход", CostCategoryID: f.category, Amount: amount(100)},
		&models.DirectExpenseModel{RegistrarID: uuid.New(), GoodsDocID: f.transfer, Date: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
			RegistrarType: "Документ.Расход", CostCategoryID: f.category, Amount: amount(5)},
		&models.WarehouseExpenseModel{RegistrarID: f.warehouseReg, Date: march(15), CostCategoryID: f.category,
			DepartmentID: idPtr(f.deptOut), Amount: amount(50)},
		&models.WarehouseExpenseModel{RegistrarID: uuid.New(), Date: march(15), CostCategoryID: f.category,
			DepartmentID: idPtr(uuid.New()), Amount: amount(20)},
		&models.GeneralExpenseModel{RegistrarID: f.genReg, Date: march(1), CostCategoryID: f.category, Amount: amount(40)},
		&models.GeneralExpenseModel{RegistrarID: uuid.New(), Date: march(2), CostCategoryID: f.category},
	}
	for _, m := range fixtures {
		require.NoError(t, db.Create(m).Error)
	}
	return f
}

func TestGormAllocationSourceReader_LoadSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	f := seedWarehouse(t, db)
	reader := NewGormAllocationSourceReader(db, testFilter)
	window := allocation.MonthOf(march(1))

	t.Run("direct expenses draw from the goods of their document", func(t *testing.T) {
		snap, err := reader.LoadSnapshot(ctx, allocation.ExpenseTypeDirect, window)
		require.NoError(t, err)

		require.Len(t, snap.Lines, 1)
		line := snap.Lines[0]
		assert.Equal(t, allocation.Key{RegistrarID: f.directReg, CostCategoryID: f.category, GoodsDocID: f.transfer}, line.Key)
		assert.Equal(t, f.transfer, line.LinkID)
		assert.True(t, decimal.NewFromInt(100).Equal(line.Amount))
		assert.True(t, march(10).Equal(line.Date))

		require.Len(t, snap.Candidates, 2)
		weights := map[uuid.UUID]decimal.Decimal{}
		for _, c := range snap.Candidates {
			assert.Equal(t, f.transfer, c.LinkID)
			assert.Equal(t, f.deptOut, c.DepartmentID)
			weights[c.GoodsID] = c.Weight.Decimal
		}
		assert.True(t, decimal.NewFromInt(30).Equal(weights[f.goodsA]))
		assert.True(t, decimal.NewFromInt(70).Equal(weights[f.goodsB]))
	})

	t.Run("warehouse expenses draw from goods departed by transfer", func(t *testing.T) {
		snap, err := reader.LoadSnapshot(ctx, allocation.ExpenseTypeWarehouse, window)
		require.NoError(t, err)

		require.Len(t, snap.Lines, 1)
		assert.Equal(t, f.warehouseReg, snap.Lines[0].Key.RegistrarID)
		assert.Equal(t, uuid.Nil, snap.Lines[0].Key.GoodsDocID)
		assert.Equal(t, f.deptOut, snap.Lines[0].LinkID)

		require.Len(t, snap.Candidates, 1)
		assert.Equal(t, f.goodsA, snap.Candidates[0].GoodsID)
		assert.Equal(t, f.deptOut, snap.Candidates[0].LinkID)
		assert.Equal(t, f.deptOut, snap.Candidates[0].DepartmentID)
	})

	t.Run("general expenses draw from loadings leaving the origin country", func(t *testing.T) {
		snap, err := reader.LoadSnapshot(ctx, allocation.ExpenseTypeGeneral, window)
		require.NoError(t, err)

		require.Len(t, snap.Lines, 1)
		assert.Equal(t, f.genReg, snap.Lines[0].Key.RegistrarID)
		assert.Equal(t, uuid.Nil, snap.Lines[0].LinkID)

		require.Len(t, snap.Candidates, 1)
		assert.Equal(t, f.goodsExport, snap.Candidates[0].GoodsID)
		assert.Equal(t, f.deptOrigin, snap.Candidates[0].DepartmentID)
		assert.Equal(t, uuid.Nil, snap.Candidates[0].LinkID)
	})

	t.Run("unknown origin country yields no general candidates", func(t *testing.T) {
		other := NewGormAllocationSourceReader(db, SourceFilter{GeneralTransferType: testFilter.GeneralTransferType, OriginCountry: "Монголия"})
		snap, err := other.LoadSnapshot(ctx, allocation.ExpenseTypeGeneral, window)
		require.NoError(t, err)
		assert.Len(t, snap.Lines, 1)
		assert.Empty(t, snap.Candidates)
	})

	t.Run("empty month", func(t *testing.T) {
		snap, err := reader.LoadSnapshot(ctx, allocation.ExpenseTypeDirect, allocation.MonthOf(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
		require.NoError(t, err)
		assert.Empty(t, snap.Lines)
		assert.Empty(t, snap.Candidates)
	})

	t.Run("rejects unknown class", func(t *testing.T) {
		_, err := reader.LoadSnapshot(ctx, allocation.ExpenseType("other"), window)
		assert.Error(t, err)
	})
}

func TestGormAllocationSourceReader_ChangedMonths(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	f := seedWarehouse(t, db)
	reader := NewGormAllocationSourceReader(db, testFilter)

	t.Run("without a watermark lists every month with expenses", func(t *testing.T) {
		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeDirect, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03", "2024-04"}, labels(months))

		months, err = reader.ChangedMonths(ctx, allocation.ExpenseTypeGeneral, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))
	})

	since := time.Now().UTC().Add(time.Hour)

	t.Run("nothing changed after the watermark", func(t *testing.T) {
		for _, et := range allocation.AllExpenseTypes() {
			months, err := reader.ChangedMonths(ctx, et, &since)
			require.NoError(t, err)
			assert.Empty(t, months, et.Code())
		}
	})

	t.Run("a changed goods weight marks the linked months", func(t *testing.T) {
		touched := since.Add(time.Minute)
		require.NoError(t, db.Exec("UPDATE ref_goods SET updated_at = ? WHERE id IN ?",
			touched, []uuid.UUID{f.goodsA, f.goodsExport}).Error)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeDirect, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03", "2024-04"}, labels(months))

		months, err = reader.ChangedMonths(ctx, allocation.ExpenseTypeWarehouse, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))

		months, err = reader.ChangedMonths(ctx, allocation.ExpenseTypeGeneral, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))
	})

	t.Run("a changed expense row marks its month", func(t *testing.T) {
		later := since.Add(2 * time.Hour)
		require.NoError(t, db.Exec("UPDATE reg_warehouse_expenses SET updated_at = ? WHERE registrar_id = ?",
			later.Add(time.Minute), f.warehouseReg).Error)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeWarehouse, &later)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))
	})
}

func TestGormAllocationSourceReader_ChangedMonths_PublishedRows(t *testing.T) {
	ctx := context.Background()
	since := time.Now().UTC().Add(time.Hour)

	t.Run("a month vacated by a scope replace is reported and republished empty", func(t *testing.T) {
		db := newSQLiteDB(t)
		f := seedWarehouse(t, db)
		reader := NewGormAllocationSourceReader(db, testFilter)
		publisher := NewGormAllocationPublisher(db, 0)
		window := allocation.MonthOf(march(1))

		_, err := publisher.Replace(ctx, allocation.ExpenseTypeDirect, window, []allocation.Row{{
			Type: allocation.ExpenseTypeDirect, RegistrarID: f.directReg, GoodsID: f.goodsA,
			DepartmentID: f.deptOut, CostCategoryID: f.category, Date: march(10), Amount: decimal.NewFromInt(100),
		}})
		require.NoError(t, err)

		replacer := NewGormScopeReplacer(db, 0)
		replacer.now = func() time.Time { return since.Add(time.Minute) }
		_, err = replacer.ReplaceScope(ctx, mustSchema(t, "ПрямыеЗатраты"), []ingest.Record{{
			"registrar_id":     f.directReg,
			"goods_doc_id":     f.transfer,
			"date":             time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
			"registrar_type":   "Документ.Расход",
			"cost_category_id": f.category,
			"goods_doc_type":   nil,
			"route_id":         nil,
			"department_id":    nil,
			"amount":           decimal.NewFromInt(100),
		}})
		require.NoError(t, err)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeDirect, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03", "2024-04"}, labels(months))

		snap, err := reader.LoadSnapshot(ctx, allocation.ExpenseTypeDirect, window)
		require.NoError(t, err)
		assert.Empty(t, snap.Lines)
		_, err = publisher.Replace(ctx, allocation.ExpenseTypeDirect, window, nil)
		require.NoError(t, err)
		assert.Zero(t, countAllocations(t, db, allocation.ExpenseTypeDirect))
	})

	t.Run("rows of a removed registrar are reported", func(t *testing.T) {
		db := newSQLiteDB(t)
		f := seedWarehouse(t, db)
		reader := NewGormAllocationSourceReader(db, testFilter)
		may := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

		_, err := NewGormAllocationPublisher(db, 0).Replace(ctx, allocation.ExpenseTypeGeneral, allocation.MonthOf(may), []allocation.Row{{
			Type: allocation.ExpenseTypeGeneral, RegistrarID: uuid.New(), GoodsID: f.goodsExport,
			DepartmentID: f.deptOrigin, CostCategoryID: f.category, Date: may, Amount: decimal.NewFromInt(7),
		}})
		require.NoError(t, err)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeGeneral, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-05"}, labels(months))

		months, err = reader.ChangedMonths(ctx, allocation.ExpenseTypeGeneral, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03", "2024-05"}, labels(months))
	})
}

func TestGormAllocationSourceReader_ChangedMonths_CandidateInputs(t *testing.T) {
	ctx := context.Background()
	since := time.Now().UTC().Add(time.Hour)
	touched := since.Add(time.Minute)

	t.Run("a warehouse moved to another department marks its departures", func(t *testing.T) {
		db := newSQLiteDB(t)
		seedWarehouse(t, db)
		reader := NewGormAllocationSourceReader(db, testFilter)

		require.NoError(t, db.Exec(`UPDATE ref_warehouses SET department_id = ?, updated_at = ?
			WHERE id IN (SELECT sender_warehouse_id FROM reg_goods_location)`, uuid.New(), touched).Error)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeWarehouse, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))

		months, err = reader.ChangedMonths(ctx, allocation.ExpenseTypeDirect, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03", "2024-04"}, labels(months))
	})

	t.Run("a transfer arriving after its departures marks them", func(t *testing.T) {
		db := newSQLiteDB(t)
		f := seedWarehouse(t, db)
		reader := NewGormAllocationSourceReader(db, testFilter)

		require.NoError(t, db.Exec("UPDATE doc_transfers SET updated_at = ? WHERE id = ?", touched, f.transfer).Error)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeWarehouse, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))
	})

	t.Run("a renamed department marks its warehouse expenses", func(t *testing.T) {
		db := newSQLiteDB(t)
		f := seedWarehouse(t, db)
		reader := NewGormAllocationSourceReader(db, testFilter)

		require.NoError(t, db.Exec("UPDATE ref_departments SET updated_at = ? WHERE id = ?", touched, f.deptOut).Error)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeWarehouse, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))
	})

	t.Run("a changed country marks every general month", func(t *testing.T) {
		db := newSQLiteDB(t)
		seedWarehouse(t, db)
		reader := NewGormAllocationSourceReader(db, testFilter)

		require.NoError(t, db.Exec("UPDATE ref_countries SET updated_at = ?", touched).Error)

		months, err := reader.ChangedMonths(ctx, allocation.ExpenseTypeGeneral, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03"}, labels(months))
	})
}

func labels(ws []allocation.Window) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Label()
	}
	return out
}

func TestMonthsOf(t *testing.T) {
	rows := []dateRow{
		{Date: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)},
		{Date: time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)},
		{Date: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)},
	}
	months := monthsOf(rows)
	require.Len(t, months, 2)
	assert.Equal(t, "2024-01", months[0].Label())
	assert.Equal(t, "2024-05", months[1].Label())
	assert.Nil(t, monthsOf(nil))
}
