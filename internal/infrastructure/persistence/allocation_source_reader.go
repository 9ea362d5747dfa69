package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

// SourceFilter holds the class-specific constants of candidate resolution
type SourceFilter struct {
	// GeneralTransferType is the transfer type of loading operations
	GeneralTransferType string
	// OriginCountry is the name of the country general expenses are charged from
	OriginCountry string
}

// GormAllocationSourceReader reads expense lines and candidate goods from the warehouse
type GormAllocationSourceReader struct {
	db     *gorm.DB
	filter SourceFilter
}

// NewGormAllocationSourceReader creates a new source reader
func NewGormAllocationSourceReader(db *gorm.DB, filter SourceFilter) *GormAllocationSourceReader {
	return &GormAllocationSourceReader{
		db:     db,
		filter: filter,
	}
}

type dateRow struct {
	Date time.Time
}

type lineRow struct {
	RegistrarID    uuid.UUID
	CostCategoryID uuid.UUID
	LinkID         *uuid.UUID
	Date           time.Time
	Amount         decimal.NullDecimal
}

type candidateRow struct {
	LinkID       uuid.UUID
	GoodsID      uuid.UUID
	DepartmentID uuid.UUID
	Weight       decimal.NullDecimal
}

// LoadSnapshot implements allocation.SourceReader
func (r *GormAllocationSourceReader) LoadSnapshot(ctx context.Context, expenseType allocation.ExpenseType, window allocation.Window) (*allocation.Snapshot, error) {
	db := r.db.WithContext(ctx)

	var (
		lines      []lineRow
		candidates []candidateRow
		err        error
	)
	switch expenseType {
	case allocation.ExpenseTypeDirect:
		lines, candidates, err = r.loadDirect(db, window)
	case allocation.ExpenseTypeWarehouse:
		lines, candidates, err = r.loadWarehouse(db, window)
	case allocation.ExpenseTypeGeneral:
		lines, candidates, err = r.loadGeneral(db, window)
	default:
		return nil, fmt.Errorf("unknown expense type %q", expenseType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s snapshot for %s: %w", expenseType.Code(), window.Label(), err)
	}

	snapshot := &allocation.Snapshot{
		Type:       expenseType,
		Window:     window,
		Lines:      make([]allocation.ExpenseLine, 0, len(lines)),
		Candidates: make([]allocation.Candidate, 0, len(candidates)),
	}
	for _, l := range lines {
		if !l.Amount.Valid {
			continue
		}
		line := allocation.ExpenseLine{
			Key:    allocation.Key{RegistrarID: l.RegistrarID, CostCategoryID: l.CostCategoryID},
			Date:   l.Date.UTC(),
			Amount: l.Amount.Decimal,
		}
		if l.LinkID != nil {
			line.LinkID = *l.LinkID
		}
		if expenseType == allocation.ExpenseTypeDirect {
			line.Key.GoodsDocID = line.LinkID
		}
		snapshot.Lines = append(snapshot.Lines, line)
	}
	for _, c := range candidates {
		snapshot.Candidates = append(snapshot.Candidates, allocation.Candidate{
			LinkID:       c.LinkID,
			GoodsID:      c.GoodsID,
			DepartmentID: c.DepartmentID,
			Weight:       c.Weight,
		})
	}
	return snapshot, nil
}

// loadDirect links each expense to the goods of its goods document; the
// department is the one of the document's out warehouse
func (r *GormAllocationSourceReader) loadDirect(db *gorm.DB, w allocation.Window) ([]lineRow, []candidateRow, error) {
	var lines []lineRow
	if err := db.Raw(`SELECT registrar_id, cost_category_id, goods_doc_id AS link_id, date, amount
		FROM reg_direct_expenses
		WHERE date >= ? AND date < ? AND amount IS NOT NULL`, w.Start, w.End).Scan(&lines).Error; err != nil {
		return nil, nil, err
	}

	var candidates []candidateRow
	err := db.Raw(`SELECT gt.transfer_id AS link_id, g.id AS goods_id, wh.department_id AS department_id, g.amount AS weight
		FROM doc_link_goods_transfers gt
		JOIN doc_transfers tf ON tf.id = gt.transfer_id
		JOIN ref_warehouses wh ON wh.id = tf.out_warehouse_id
		JOIN ref_goods g ON g.id = gt.goods_id
		WHERE wh.department_id IS NOT NULL AND g.amount IS NOT NULL
		AND gt.transfer_id IN (
			SELECT DISTINCT goods_doc_id FROM reg_direct_expenses
			WHERE date >= ? AND date < ? AND amount IS NOT NULL
		)`, w.Start, w.End).Scan(&candidates).Error
	if err != nil {
		return nil, nil, err
	}
	return lines, candidates, nil
}

// loadWarehouse links each expense to the goods that departed during the
// month from a warehouse of the expense's department by a transfer
func (r *GormAllocationSourceReader) loadWarehouse(db *gorm.DB, w allocation.Window) ([]lineRow, []candidateRow, error) {
	var lines []lineRow
	if err := db.Raw(`SELECT we.registrar_id, we.cost_category_id, we.department_id AS link_id, we.date, we.amount
		FROM reg_warehouse_expenses we
		JOIN ref_departments d ON d.id = we.department_id
		WHERE we.date >= ? AND we.date < ? AND we.amount IS NOT NULL`, w.Start, w.End).Scan(&lines).Error; err != nil {
		return nil, nil, err
	}

	var candidates []candidateRow
	err := db.Raw(`SELECT wh.department_id AS link_id, g.id AS goods_id, wh.department_id AS department_id, g.amount AS weight
		FROM reg_goods_location gl
		JOIN ref_warehouses wh ON wh.id = gl.sender_warehouse_id
		JOIN ref_goods g ON g.id = gl.goods_id
		WHERE gl.goods_status = ? AND gl.date >= ? AND gl.date < ?
		AND wh.department_id IS NOT NULL AND g.amount IS NOT NULL
		AND EXISTS (SELECT 1 FROM doc_transfers tf WHERE tf.id = gl.registrar_id)`,
		goodsStatusDeparted, w.Start, w.End).Scan(&candidates).Error
	if err != nil {
		return nil, nil, err
	}
	return lines, candidates, nil
}

// loadGeneral shares every general expense of the month over the goods
// loaded in the month from the origin country to any other country
func (r *GormAllocationSourceReader) loadGeneral(db *gorm.DB, w allocation.Window) ([]lineRow, []candidateRow, error) {
	var lines []lineRow
	if err := db.Raw(`SELECT registrar_id, cost_category_id, date, amount
		FROM reg_general_expenses
		WHERE date >= ? AND date < ? AND amount IS NOT NULL`, w.Start, w.End).Scan(&lines).Error; err != nil {
		return nil, nil, err
	}

	origin, err := r.originCountryIDs(db)
	if err != nil {
		return nil, nil, err
	}
	if len(origin) == 0 {
		return lines, nil, nil
	}

	var candidates []candidateRow
	err = db.Raw(`SELECT wo.department_id AS department_id, g.id AS goods_id, g.amount AS weight
		FROM doc_transfers tf
		JOIN ref_warehouses wo ON wo.id = tf.out_warehouse_id
		JOIN ref_warehouses wi ON wi.id = tf.in_warehouse_id
		JOIN doc_link_goods_transfers gt ON gt.transfer_id = tf.id
		JOIN ref_goods g ON g.id = gt.goods_id
		WHERE tf.date >= ? AND tf.date < ? AND tf.type_transfer = ?
		AND wo.country_id IN ? AND wi.country_id IS NOT NULL AND wi.country_id NOT IN ?
		AND wo.department_id IS NOT NULL AND g.amount IS NOT NULL`,
		w.Start, w.End, r.filter.GeneralTransferType, origin, origin).Scan(&candidates).Error
	if err != nil {
		return nil, nil, err
	}
	return lines, candidates, nil
}

// originCountryIDs resolves the origin country by case-folded name
func (r *GormAllocationSourceReader) originCountryIDs(db *gorm.DB) ([]uuid.UUID, error) {
	var countries []struct {
		ID   uuid.UUID
		Name *string
	}
	if err := db.Raw(`SELECT id, name FROM ref_countries WHERE name IS NOT NULL`).Scan(&countries).Error; err != nil {
		return nil, err
	}
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(r.filter.OriginCountry))
	var ids []uuid.UUID
	for _, c := range countries {
		if fold.String(strings.TrimSpace(*c.Name)) == want {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

// ChangedMonths implements allocation.SourceReader.
// Besides the months of changed expense and candidate rows, it reports the
// months of published rows whose registrar was re-sent or removed, so a
// month vacated by a scope replace is republished empty.
func (r *GormAllocationSourceReader) ChangedMonths(ctx context.Context, expenseType allocation.ExpenseType, since *time.Time) ([]allocation.Window, error) {
	db := r.db.WithContext(ctx)

	table, err := expenseTable(expenseType)
	if err != nil {
		return nil, err
	}

	var queries []monthQuery
	if since == nil {
		queries = []monthQuery{
			{"expense", fmt.Sprintf(`SELECT DISTINCT date FROM %s`, table), nil},
			{"published", `SELECT DISTINCT date FROM dm_goods_expense_alloc WHERE type_expense = ?`,
				[]any{string(expenseType)}},
		}
	} else {
		queries = r.changeQueries(expenseType, table, *since)
	}

	var dates []dateRow
	for _, q := range queries {
		var found []dateRow
		if err := db.Raw(q.sql, q.args...).Scan(&found).Error; err != nil {
			return nil, fmt.Errorf("failed to list %s months with changed %s rows: %w", expenseType.Code(), q.name, err)
		}
		dates = append(dates, found...)
	}
	return monthsOf(dates), nil
}

type monthQuery struct {
	name string
	sql  string
	args []any
}

// changeQueries lists the months whose inputs of one class changed since t
func (r *GormAllocationSourceReader) changeQueries(expenseType allocation.ExpenseType, table string, t time.Time) []monthQuery {
	queries := []monthQuery{
		{"expense", fmt.Sprintf(`SELECT DISTINCT date FROM %s WHERE updated_at >= ?`, table), []any{t}},
		{"published", fmt.Sprintf(`SELECT DISTINCT a.date FROM dm_goods_expense_alloc a
			WHERE a.type_expense = ? AND (
				a.registrar_id IN (SELECT registrar_id FROM %[1]s WHERE updated_at >= ?)
				OR NOT EXISTS (SELECT 1 FROM %[1]s e WHERE e.registrar_id = a.registrar_id))`, table),
			[]any{string(expenseType), t}},
	}

	switch expenseType {
	case allocation.ExpenseTypeDirect:
		queries = append(queries, monthQuery{"candidate", `SELECT DISTINCT e.date FROM reg_direct_expenses e
			JOIN doc_link_goods_transfers gt ON gt.transfer_id = e.goods_doc_id
			JOIN ref_goods g ON g.id = gt.goods_id
			LEFT JOIN doc_transfers tf ON tf.id = e.goods_doc_id
			LEFT JOIN ref_warehouses wh ON wh.id = tf.out_warehouse_id
			WHERE gt.updated_at >= ? OR g.updated_at >= ? OR tf.updated_at >= ? OR wh.updated_at >= ?`,
			[]any{t, t, t, t}})
	case allocation.ExpenseTypeWarehouse:
		queries = append(queries,
			monthQuery{"candidate", `SELECT DISTINCT gl.date FROM reg_goods_location gl
				JOIN ref_goods g ON g.id = gl.goods_id
				LEFT JOIN ref_warehouses wh ON wh.id = gl.sender_warehouse_id
				LEFT JOIN doc_transfers tf ON tf.id = gl.registrar_id
				WHERE gl.goods_status = ?
				AND (gl.updated_at >= ? OR g.updated_at >= ? OR wh.updated_at >= ? OR tf.updated_at >= ?)`,
				[]any{goodsStatusDeparted, t, t, t, t}},
			monthQuery{"department", `SELECT DISTINCT we.date FROM reg_warehouse_expenses we
				JOIN ref_departments d ON d.id = we.department_id
				WHERE d.updated_at >= ?`, []any{t}},
		)
	case allocation.ExpenseTypeGeneral:
		// a transfer retyped away from loading still marks its month
		queries = append(queries,
			monthQuery{"candidate", `SELECT DISTINCT tf.date FROM doc_transfers tf
				JOIN doc_link_goods_transfers gt ON gt.transfer_id = tf.id
				JOIN ref_goods g ON g.id = gt.goods_id
				LEFT JOIN ref_warehouses wo ON wo.id = tf.out_warehouse_id
				LEFT JOIN ref_warehouses wi ON wi.id = tf.in_warehouse_id
				WHERE tf.updated_at >= ? OR gt.updated_at >= ? OR g.updated_at >= ?
				OR wo.updated_at >= ? OR wi.updated_at >= ?`, []any{t, t, t, t, t}},
			monthQuery{"country", `SELECT DISTINCT e.date FROM reg_general_expenses e
				WHERE EXISTS (SELECT 1 FROM ref_countries c WHERE c.updated_at >= ?)`, []any{t}},
		)
	}
	return queries
}

const goodsStatusDeparted = 2

func expenseTable(expenseType allocation.ExpenseType) (string, error) {
	switch expenseType {
	case allocation.ExpenseTypeDirect:
		return "reg_direct_expenses", nil
	case allocation.ExpenseTypeWarehouse:
		return "reg_warehouse_expenses", nil
	case allocation.ExpenseTypeGeneral:
		return "reg_general_expenses", nil
	}
	return "", fmt.Errorf("unknown expense type %q", expenseType)
}

// monthsOf returns the distinct month windows of dates, oldest first
func monthsOf(rows []dateRow) []allocation.Window {
	if len(rows) == 0 {
		return nil
	}
	oldest, newest := rows[0].Date.UTC(), rows[0].Date.UTC()
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		d := row.Date.UTC()
		seen[allocation.MonthOf(d).Label()] = true
		if d.Before(oldest) {
			oldest = d
		}
		if d.After(newest) {
			newest = d
		}
	}
	var out []allocation.Window
	for _, w := range allocation.Months(oldest, newest) {
		if seen[w.Label()] {
			out = append(out, w)
		}
	}
	return out
}

var _ allocation.SourceReader = (*GormAllocationSourceReader)(nil)
