package models

import (
	"time"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TableExpenseAllocation is the published allocation table
const TableExpenseAllocation = "dm_goods_expense_alloc"

// TableJobStatus is the job watermark table
const TableJobStatus = "etl_job_status"

// ExpenseAllocationModel is one allocated share of an expense
type ExpenseAllocationModel struct {
	TypeExpense    string          `gorm:"size:50;primaryKey;index:idx_alloc_type_date,priority:1"`
	RegistrarID    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	GoodsID        uuid.UUID       `gorm:"type:uuid;primaryKey;index"`
	DepartmentID   uuid.UUID       `gorm:"type:uuid;primaryKey"`
	CostCategoryID uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Date           time.Time       `gorm:"type:timestamp;primaryKey;index:idx_alloc_type_date,priority:2"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt      time.Time       `gorm:"type:timestamp;not null"`
}

func (ExpenseAllocationModel) TableName() string { return TableExpenseAllocation }

// FromDomain maps an allocation row to its persistence model
func (m *ExpenseAllocationModel) FromDomain(r allocation.Row, now time.Time) {
	m.TypeExpense = string(r.Type)
	m.RegistrarID = r.RegistrarID
	m.GoodsID = r.GoodsID
	m.DepartmentID = r.DepartmentID
	m.CostCategoryID = r.CostCategoryID
	m.Date = r.Date.UTC()
	m.Amount = r.Amount
	m.CreatedAt = now
}

// ToDomain maps the persistence model back to an allocation row
func (m *ExpenseAllocationModel) ToDomain() allocation.Row {
	return allocation.Row{
		Type:           allocation.ExpenseType(m.TypeExpense),
		RegistrarID:    m.RegistrarID,
		GoodsID:        m.GoodsID,
		DepartmentID:   m.DepartmentID,
		CostCategoryID: m.CostCategoryID,
		Date:           m.Date,
		Amount:         m.Amount,
	}
}

// JobStatusModel stores the last successful run of a named job
type JobStatusModel struct {
	JobName       string    `gorm:"size:100;primaryKey"`
	LastSuccessAt time.Time `gorm:"type:timestamp;not null"`
	UpdatedAt     time.Time `gorm:"type:timestamp;not null"`
}

func (JobStatusModel) TableName() string { return TableJobStatus }

// ToDomain maps the persistence model to a job status
func (m *JobStatusModel) ToDomain() *allocation.JobStatus {
	return &allocation.JobStatus{JobName: m.JobName, LastSuccessAt: m.LastSuccessAt}
}
