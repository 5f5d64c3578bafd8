package models

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleStockDraw is the stock a sale still holds out of the ledger for one product. It is
// written when the sale decrements stock, reduced by restocking returns and released on
// delete. Editing sale lines never changes it.
type SaleStockDraw struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;index;not null" json:"business_id"`
	SaleId     int             `gorm:"not null;uniqueIndex:idx_sale_stock_draw,priority:1" json:"sale_id"`
	ProductId  string          `gorm:"size:64;not null;uniqueIndex:idx_sale_stock_draw,priority:2" json:"product_id"`
	LocationId int             `gorm:"not null" json:"location_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
}

func recordSaleDraw(tx *gorm.DB, sale *Sale, productId string, quantity decimal.Decimal) error {
	draw := SaleStockDraw{
		BusinessId: sale.BusinessId,
		SaleId:     sale.ID,
		ProductId:  productId,
		LocationId: *sale.LocationId,
		Quantity:   quantity,
	}
	if err := tx.Create(&draw).Error; err != nil {
		return fmt.Errorf("record stock drawn for %s: %w", productId, err)
	}
	return nil
}

// saleDraws returns the sale's outstanding draws in product id order. The sale row must
// already be locked by the caller.
func saleDraws(tx *gorm.DB, sale *Sale) ([]SaleStockDraw, error) {
	var draws []SaleStockDraw
	err := tx.Where("sale_id = ? AND business_id = ?", sale.ID, sale.BusinessId).
		Order("product_id").Find(&draws).Error
	return draws, err
}

// takeBackDraw reduces the product's draw by up to quantity and returns how much was taken;
// that is the amount a return may put back on the shelf.
func takeBackDraw(tx *gorm.DB, sale *Sale, productId string, quantity decimal.Decimal) (decimal.Decimal, error) {
	var draw SaleStockDraw
	res := tx.Where("sale_id = ? AND business_id = ? AND product_id = ?", sale.ID, sale.BusinessId, productId).
		Limit(1).Find(&draw)
	if res.Error != nil {
		return decimal.Zero, res.Error
	}
	if res.RowsAffected == 0 || !draw.Quantity.IsPositive() {
		return decimal.Zero, nil
	}
	taken := decimal.Min(quantity, draw.Quantity)
	if err := tx.Model(&SaleStockDraw{}).Where("id = ?", draw.ID).
		Update("quantity", draw.Quantity.Sub(taken)).Error; err != nil {
		return decimal.Zero, err
	}
	return taken, nil
}
