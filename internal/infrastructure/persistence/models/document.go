package models

import (
	"time"

	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/google/uuid"
)

// TransferModel is a goods transfer document between warehouses
type TransferModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Date            time.Time  `gorm:"type:timestamp;primaryKey;index"`
	Number          *string    `gorm:"size:50"`
	TypeTransfer    *string    `gorm:"size:50;index"`
	OutWarehouseID  *uuid.UUID `gorm:"type:uuid"`
	InWarehouseID   *uuid.UUID `gorm:"type:uuid"`
	RouteID         *uuid.UUID `gorm:"type:uuid"`
	TransportID     *uuid.UUID `gorm:"type:uuid"`
	DocumentID      *uuid.UUID `gorm:"type:uuid"`
	CargoCategoryID *uuid.UUID `gorm:"type:uuid"`
	ViewName        *string    `gorm:"size:100"`
	Timestamps
}

func (TransferModel) TableName() string { return ingest.TableTransfers }

// GoodsTransferModel links a goods item to a transfer document
type GoodsTransferModel struct {
	TransferID uuid.UUID `gorm:"type:uuid;primaryKey"`
	GoodsID    uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Timestamps
}

func (GoodsTransferModel) TableName() string { return ingest.TableGoodsTransfers }

// ReceiptModel is a goods receipt document
type ReceiptModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Date        time.Time  `gorm:"type:timestamp;primaryKey"`
	Number      *string    `gorm:"size:50"`
	WarehouseID *uuid.UUID `gorm:"type:uuid"`
	ClientID    *uuid.UUID `gorm:"type:uuid"`
	ShopName    *string    `gorm:"size:100"`
	ViewName    *string    `gorm:"size:100"`
	Timestamps
}

func (ReceiptModel) TableName() string { return ingest.TableReceipts }

// GoodsReceiptModel links a goods item to a receipt document
type GoodsReceiptModel struct {
	ReceiptID uuid.UUID `gorm:"type:uuid;primaryKey"`
	GoodsID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Timestamps
}

func (GoodsReceiptModel) TableName() string { return ingest.TableGoodsReceipts }
