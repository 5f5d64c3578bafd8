package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Business is the tenant row. Settings are maintained by the settings service; this
// service only reads the VAT rate.
type Business struct {
	ID      string          `gorm:"primaryKey;size:64" json:"id"`
	Name    string          `gorm:"size:255;not null" json:"name"`
	VatRate decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"vat_rate"` // percent
}

func businessCacheKey(id string) string {
	return "Business:" + id
}

// getBusiness reads through the redis cache. tx must be the caller's transaction so
// no second connection is taken while it is open.
func getBusiness(ctx context.Context, tx *gorm.DB, businessId string) (*Business, error) {
	var business Business
	logger := config.GetLogger()
	if ok, err := config.GetRedisObject(ctx, businessCacheKey(businessId), &business); err != nil {
		config.LogWarn(logger, "models", "getBusiness", "redis get", businessId, err)
	} else if ok {
		return &business, nil
	}

	err := tx.Where("id = ?", businessId).First(&business).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("business %s: %w", businessId, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(ctx, businessCacheKey(businessId), &business, config.BusinessCacheTTL()); err != nil {
		config.LogWarn(logger, "models", "getBusiness", "redis set", businessId, err)
	}
	return &business, nil
}

// vatFor applies the percent rate to amount, rounded to 4 places.
func (b *Business) vatFor(amount decimal.Decimal) decimal.Decimal {
	if b == nil || b.VatRate.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(b.VatRate).Div(decimal.NewFromInt(100)).Round(4)
}
