package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecomputeProductStock sets Product.stock to the sum of the product's ledger rows.
// Call it in the same transaction as the ledger mutation.
func RecomputeProductStock(tx *gorm.DB, businessId string, productId string) (decimal.Decimal, error) {
	var sum struct {
		Total decimal.Decimal
	}
	if err := tx.Model(&StockEntry{}).
		Select("COALESCE(SUM(quantity), 0) AS total").
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Scan(&sum).Error; err != nil {
		return decimal.Zero, err
	}
	if err := tx.Model(&Product{}).
		Where("business_id = ? AND id = ?", businessId, productId).
		Update("stock", sum.Total).Error; err != nil {
		return decimal.Zero, err
	}
	return sum.Total, nil
}

// RebuildBusinessStock recomputes the aggregate of every stock-tracked product of a business.
// It returns the number of products touched.
func RebuildBusinessStock(ctx context.Context, businessId string) (int, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	var productIds []string
	if err := db.WithContext(ctx).Model(&Product{}).
		Where("business_id = ? AND is_service = ?", businessId, false).
		Order("id").
		Pluck("id", &productIds).Error; err != nil {
		return 0, err
	}

	rebuilt := 0
	for _, productId := range productIds {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := RecomputeProductStock(tx, businessId, productId)
			return err
		})
		if err != nil {
			config.LogError(logger, "models", "RebuildBusinessStock", "recompute", productId, err)
			return rebuilt, fmt.Errorf("rebuild product %s: %w", productId, err)
		}
		rebuilt++
	}
	return rebuilt, nil
}
