package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Location is a place of sale with its own stock per product. Maintained by the
// locations CRUD service.
type Location struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`
	Name       string `gorm:"size:255;not null" json:"name"`
	IsActive   bool   `gorm:"not null;default:true" json:"is_active"`
}

func ensureLocation(tx *gorm.DB, businessId string, locationId int) error {
	var count int64
	if err := tx.Model(&Location{}).
		Where("business_id = ? AND id = ? AND is_active = ?", businessId, locationId, true).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("location %d: %w", locationId, ErrLocationNotFound)
	}
	return nil
}
