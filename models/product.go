package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Product is the catalog row. The catalog service owns every field except Stock,
// which only RecomputeProductStock writes.
type Product struct {
	ID         string          `gorm:"primaryKey;size:64" json:"id"`
	BusinessId string          `gorm:"primaryKey;size:64" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Unit       string          `gorm:"size:50" json:"unit"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"price"`
	IsService  bool            `gorm:"not null;default:false" json:"is_service"`
	Stock      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"stock"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func fetchProducts(tx *gorm.DB, businessId string, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []Product
	if err := tx.Where("business_id = ? AND id IN ?", businessId, ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// fetchStockProduct loads a stock-tracked product; services and unknown ids are rejected.
func fetchStockProduct(tx *gorm.DB, businessId string, productId string) (*Product, error) {
	products, err := fetchProducts(tx, businessId, []string{productId})
	if err != nil {
		return nil, err
	}
	p, ok := products[productId]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productId, ErrProductNotFound)
	}
	if p.IsService {
		return nil, invalid("product_id", fmt.Sprintf("product %s is a service and has no stock", productId))
	}
	return &p, nil
}

// upsertServicePlaceholder makes sure a service line's product id exists in the catalog.
// An existing row is left untouched.
func upsertServicePlaceholder(tx *gorm.DB, businessId string, s serviceProduct) error {
	placeholder := Product{
		ID:         s.id,
		BusinessId: businessId,
		Name:       s.name,
		Price:      s.price,
		IsService:  true,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&placeholder).Error
}
