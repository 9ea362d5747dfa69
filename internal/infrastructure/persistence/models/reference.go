package models

import (
	"time"

	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepartmentModel is a department of the organization
type DepartmentModel struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code *string   `gorm:"size:50"`
	Name *string   `gorm:"size:50"`
	Timestamps
}

func (DepartmentModel) TableName() string { return ingest.TableDepartments }

// CostCategoryModel is an expense article
type CostCategoryModel struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code *string   `gorm:"size:50"`
	Name *string   `gorm:"size:50"`
	Timestamps
}

func (CostCategoryModel) TableName() string { return ingest.TableCostCategories }

// CountryModel is a country of the world reference
type CountryModel struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code *string   `gorm:"size:50"`
	Name *string   `gorm:"size:50"`
	Timestamps
}

func (CountryModel) TableName() string { return ingest.TableCountries }

// CityModel is a city reference
type CityModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Code      *string    `gorm:"size:50"`
	Name      *string    `gorm:"size:50"`
	CountryID *uuid.UUID `gorm:"type:uuid"`
	Timestamps
}

func (CityModel) TableName() string { return ingest.TableCities }

// WarehouseModel is a warehouse; its department receives allocated expenses
type WarehouseModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Code            *string    `gorm:"size:50"`
	Name            *string    `gorm:"size:50"`
	CityID          *uuid.UUID `gorm:"type:uuid"`
	CountryID       *uuid.UUID `gorm:"type:uuid;index"`
	DepartmentID    *uuid.UUID `gorm:"type:uuid;index"`
	TelegramAddress *string
	Customs         *bool
	Timestamps
}

func (WarehouseModel) TableName() string { return ingest.TableWarehouses }

// GoodsModel is a goods item. Amount is its allocation weight.
type GoodsModel struct {
	ID            uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Barcode       *string             `gorm:"column:barcode"`
	ReceiptID     *uuid.UUID          `gorm:"type:uuid"`
	ClientID      *uuid.UUID          `gorm:"type:uuid"`
	PackageTypeID *uuid.UUID          `gorm:"type:uuid"`
	GoodsTypeID   *uuid.UUID          `gorm:"type:uuid"`
	Volume        *float64            `gorm:"type:double precision"`
	Weight        *float64            `gorm:"type:double precision"`
	Price         *float64            `gorm:"type:double precision"`
	Amount        decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	IsMail        *bool
	IsReturn      *bool
	PlaceNumber   *int64
	TotalPlaces   *int64
	ArrivalDate   *time.Time          `gorm:"type:timestamp"`
	TotalAmount   decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	Timestamps
}

func (GoodsModel) TableName() string { return ingest.TableGoods }

// DeletedObjectModel records objects deleted in the source system
type DeletedObjectModel struct {
	ObjectID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	NameMetadata string    `gorm:"size:255;primaryKey"`
	Timestamps
}

func (DeletedObjectModel) TableName() string { return ingest.TableDeletedObjects }
