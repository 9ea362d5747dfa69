package models

import (
	"time"

	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GoodsStatusDeparted marks a goods location row as a departure from a warehouse
const GoodsStatusDeparted = 2

// GoodsLocationModel is a movement of a goods item between locations
type GoodsLocationModel struct {
	RegistrarID       uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Date              time.Time  `gorm:"type:timestamp;primaryKey;index"`
	GoodsID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RegistrarType     string     `gorm:"size:128;primaryKey"`
	WarehouseID       *uuid.UUID `gorm:"type:uuid"`
	CarID             *uuid.UUID `gorm:"type:uuid"`
	ArrivalRouteID    *uuid.UUID `gorm:"type:uuid"`
	SenderWarehouseID *uuid.UUID `gorm:"type:uuid"`
	GoodsStatus       *int64
	Timestamps
}

func (GoodsLocationModel) TableName() string { return ingest.TableGoodsLocation }

// DirectExpenseModel is an expense charged to a goods document
type DirectExpenseModel struct {
	RegistrarID    uuid.UUID           `gorm:"type:uuid;primaryKey"`
	GoodsDocID     uuid.UUID           `gorm:"type:uuid;primaryKey;index"`
	Date           time.Time           `gorm:"type:timestamp;primaryKey;index"`
	RegistrarType  string              `gorm:"size:128;primaryKey"`
	CostCategoryID uuid.UUID           `gorm:"type:uuid;primaryKey"`
	GoodsDocType   *string             `gorm:"size:128"`
	RouteID        *uuid.UUID          `gorm:"type:uuid"`
	DepartmentID   *uuid.UUID          `gorm:"type:uuid"`
	Amount         decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	Timestamps
}

func (DirectExpenseModel) TableName() string { return ingest.TableDirectExpenses }

// GeneralExpenseModel is an expense shared by every export shipment of a month
type GeneralExpenseModel struct {
	RegistrarID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Date             time.Time `gorm:"type:timestamp;primaryKey;index"`
	CostCategoryID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	IsPreviousPeriod *bool
	Amount           decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	Timestamps
}

func (GeneralExpenseModel) TableName() string { return ingest.TableGeneralExpenses }

// WarehouseExpenseModel is an expense of a department's warehouses
type WarehouseExpenseModel struct {
	RegistrarID    uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Date           time.Time           `gorm:"type:timestamp;primaryKey;index"`
	CostCategoryID uuid.UUID           `gorm:"type:uuid;primaryKey"`
	MovementType   *string             `gorm:"size:50"`
	OrganizationID *uuid.UUID          `gorm:"type:uuid"`
	DepartmentID   *uuid.UUID          `gorm:"type:uuid;index"`
	Amount         decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	Storno         *bool
	Timestamps
}

func (WarehouseExpenseModel) TableName() string { return ingest.TableWarehouseExpenses }
