package ingest

// Source tables fed by ingestion and read by the allocation engine
const (
	TableDepartments       = "ref_departments"
	TableCostCategories    = "ref_cost_categories"
	TableCountries         = "ref_countries"
	TableCities            = "ref_cities"
	TableWarehouses        = "ref_warehouses"
	TableGoods             = "ref_goods"
	TableTransfers         = "doc_transfers"
	TableGoodsTransfers    = "doc_link_goods_transfers"
	TableReceipts          = "doc_receipts"
	TableGoodsReceipts     = "doc_link_goods_receipts"
	TableGoodsLocation     = "reg_goods_location"
	TableDirectExpenses    = "reg_direct_expenses"
	TableGeneralExpenses   = "reg_general_expenses"
	TableWarehouseExpenses = "reg_warehouse_expenses"
	TableDeletedObjects    = "deleted_object"
)

// DefaultRegistry returns the registry of the warehouse entity types
func DefaultRegistry() (*Registry, error) {
	return NewRegistry(DefaultSchemas()...)
}

// DefaultSchemas declares the external types understood by the warehouse
func DefaultSchemas() []*EntitySchema {
	return []*EntitySchema{
		NewEntitySchema("Справочник.ПодразделенияОрганизаций", TableDepartments,
			Column("Ссылка", "id").UUID().PrimaryKey(),
			Column("Код", "code").MaxLength(50),
			Column("Наименование", "name").MaxLength(50),
		),
		NewEntitySchema("Справочник.тп_СтатьиЗатрат", TableCostCategories,
			Column("Ссылка", "id").UUID().PrimaryKey(),
			Column("Код", "code").MaxLength(50),
			Column("Наименование", "name").MaxLength(50),
		),
		NewEntitySchema("Справочник.СтраныМира", TableCountries,
			Column("Ссылка", "id").UUID().PrimaryKey(),
			Column("Код", "code").MaxLength(50),
			Column("Наименование", "name").MaxLength(50),
		),
		NewEntitySchema("Справочник.тп_Города", TableCities,
			Column("Ссылка", "id").UUID().PrimaryKey(),
			Column("Код", "code").MaxLength(50),
			Column("Наименование", "name").MaxLength(50),
			Column("Страна", "country_id").UUID(),
		),
		NewEntitySchema("Справочник.тп_Склады", TableWarehouses,
			Column("Ссылка", "id").UUID().PrimaryKey(),
			Column("Код", "code").MaxLength(50),
			Column("Наименование", "name").MaxLength(50),
			Column("Город", "city_id").UUID(),
			Column("Страна", "country_id").UUID(),
			Column("Подразделение", "department_id").UUID(),
			Column("АдресСкладаТелеграм", "telegram_address"),
			Column("Таможня", "customs").Bool(),
		),
		NewEntitySchema("Товары", TableGoods,
			Column("Товар", "id").UUID().PrimaryKey(),
			Column("ШК", "barcode"),
			Column("ПриемТовара", "receipt_id").UUID(),
			Column("Клиент", "client_id").UUID(),
			Column("ТипУпаковки", "package_type_id").UUID(),
			Column("ВидТовара", "goods_type_id").UUID(),
			Column("Объем", "volume").Float(),
			Column("Вес", "weight").Float(),
			Column("Цена", "price").Float(),
			Column("Сумма", "amount").Decimal(),
			Column("ЭтоПочта", "is_mail").Bool(),
			Column("ВозвратТовара", "is_return").Bool(),
			Column("НомерМеста", "place_number").Int(),
			Column("ВсегоМест", "total_places").Int(),
			Column("ДатаПрибытияИлиТекущая", "arrival_date").Timestamp(),
			Column("СуммаВсего", "total_amount").Decimal(),
		),
		NewEntitySchema("Документ.тп_ПеремещениеТовара", TableTransfers,
			Column("Ссылка", "id").UUID().PrimaryKey(),
			Column("Дата", "date").Timestamp().PrimaryKey(),
			Column("Номер", "number").MaxLength(50),
			Column("ВидПеремещения", "type_transfer").MaxLength(50),
			Column("СкладОтправитель", "out_warehouse_id").UUID(),
			Column("СкладПолучатель", "in_warehouse_id").UUID(),
			Column("Маршрут", "route_id").UUID(),
			Column("ТранспортноеСредство", "transport_id").UUID(),
			Column("ДокументОснование", "document_id").UUID(),
			Column("КатегорияГруза", "cargo_category_id").UUID(),
			Column("Представление", "view_name").MaxLength(100),
		).WithScope("id"),
		NewEntitySchema("Документ.тп_ПеремещениеТовара.Товары", TableGoodsTransfers,
			Column("СсылкаДокумента", "transfer_id").UUID().PrimaryKey(),
			Column("Товар", "goods_id").UUID().PrimaryKey(),
		).WithScope("transfer_id"),
		NewEntitySchema("Документ.тп_ПриемТовара", TableReceipts,
			Column("Ссылка", "id").UUID().PrimaryKey(),
			Column("Дата", "date").Timestamp().PrimaryKey(),
			Column("Номер", "number").MaxLength(50),
			Column("Склад", "warehouse_id").UUID(),
			Column("Клиент", "client_id").UUID(),
			Column("НаименованиеМагазина", "shop_name").MaxLength(100),
			Column("Представление", "view_name").MaxLength(100),
		).WithScope("id"),
		NewEntitySchema("Документ.тп_ПриемТовара.Товары", TableGoodsReceipts,
			Column("СсылкаДокумента", "receipt_id").UUID().PrimaryKey(),
			Column("Товар", "goods_id").UUID().PrimaryKey(),
		).WithScope("receipt_id"),
		NewEntitySchema("Регистр.Сведения.МестонахождениеТовара", TableGoodsLocation,
			Column("Регистратор", "registrar_id").UUID().PrimaryKey(),
			Column("Период", "date").Timestamp().PrimaryKey(),
			Column("Товар", "goods_id").UUID().PrimaryKey(),
			Column("ТипРегистратора", "registrar_type").PrimaryKey().MaxLength(128),
			Column("Склад", "warehouse_id").UUID(),
			Column("Машина", "car_id").UUID(),
			Column("МаршрутПрихода", "arrival_route_id").UUID(),
			Column("СкладОтправитель", "sender_warehouse_id").UUID(),
			Column("СтатусТовара", "goods_status").Int(),
		).WithScope("registrar_id"),
		NewEntitySchema("ПрямыеЗатраты", TableDirectExpenses,
			Column("Регистратор", "registrar_id").UUID().PrimaryKey(),
			Column("ДокументСТоварами", "goods_doc_id").UUID().PrimaryKey(),
			Column("Дата", "date").Timestamp().PrimaryKey(),
			Column("ТипРегистратора", "registrar_type").PrimaryKey().MaxLength(128),
			Column("СтатьяЗатрат", "cost_category_id").UUID().PrimaryKey(),
			Column("ТипДокументаСТоварами", "goods_doc_type").MaxLength(128),
			Column("Маршрут", "route_id").UUID(),
			Column("Подразделение", "department_id").UUID(),
			Column("СуммаСтавка", "amount").Decimal(),
		).WithScope("registrar_id"),
		NewEntitySchema("ОбщиеЗатраты", TableGeneralExpenses,
			Column("Регистратор", "registrar_id").UUID().PrimaryKey(),
			Column("Период", "date").Timestamp().PrimaryKey(),
			Column("СтатьяЗатрат", "cost_category_id").UUID().PrimaryKey(),
			Column("ЭтоРасходПрошлогоПериода", "is_previous_period").Bool(),
			Column("СуммаUSD", "amount").Decimal(),
		).WithScope("registrar_id"),
		NewEntitySchema("СкладскиеЗатраты", TableWarehouseExpenses,
			Column("Регистратор", "registrar_id").UUID().PrimaryKey(),
			Column("Период", "date").Timestamp().PrimaryKey(),
			Column("СтатьяЗатрат", "cost_category_id").UUID().PrimaryKey(),
			Column("ВидДвижения", "movement_type").MaxLength(50),
			Column("Организация", "organization_id").UUID(),
			Column("Подразделение", "department_id").UUID(),
			Column("СуммаUSD", "amount").Decimal(),
			Column("Сторно", "storno").Bool(),
		).WithScope("registrar_id"),
		NewEntitySchema("ТП_ДанныеНаУдаление", TableDeletedObjects,
			Column("Данные", "object_id").UUID().PrimaryKey(),
			Column("НаименованиеМетаданных", "name_metadata").PrimaryKey().MaxLength(255),
		),
	}
}
