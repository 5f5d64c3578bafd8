package models

import (
	"gorm.io/gorm"
)

// AllModels lists every table owned by this service, in creation order.
func AllModels() []interface{} {
	return []interface{}{
		&Business{}, &Location{}, &Product{},
		&StockEntry{}, &StockHistory{},
		&Sale{}, &SaleItem{}, &SaleReturn{}, &SaleStockDraw{},
		&History{}, &PubSubMessageRecord{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
