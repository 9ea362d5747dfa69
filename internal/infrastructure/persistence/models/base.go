package models

import "time"

// Timestamps are maintained by the stager and the publisher
type Timestamps struct {
	CreatedAt time.Time `gorm:"type:timestamp;not null"`
	UpdatedAt time.Time `gorm:"type:timestamp;not null;index"`
}

// All returns every model, in an order that satisfies references
func All() []any {
	return []any{
		&DepartmentModel{},
		&CostCategoryModel{},
		&CountryModel{},
		&CityModel{},
		&WarehouseModel{},
		&GoodsModel{},
		&TransferModel{},
		&GoodsTransferModel{},
		&ReceiptModel{},
		&GoodsReceiptModel{},
		&GoodsLocationModel{},
		&DirectExpenseModel{},
		&GeneralExpenseModel{},
		&WarehouseExpenseModel{},
		&DeletedObjectModel{},
		&ExpenseAllocationModel{},
		&JobStatusModel{},
	}
}
