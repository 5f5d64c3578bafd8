package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/pos_backend/config"
	"gorm.io/gorm"
)

// DeleteSale removes a sale and its lines. Only the owning business or a super-admin may
// delete. Stock sold by a located, non-proforma sale is put back.
func DeleteSale(ctx context.Context, saleId int) error {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return err
	}

	logger := config.GetLogger()
	tx := config.GetDB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	sale, err := lockSale(tx, saleId)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !caller.CanAccessBusiness(sale.BusinessId) {
		tx.Rollback()
		return fmt.Errorf("sale %d: %w", saleId, ErrForbidden)
	}

	var items []SaleItem
	if err := tx.Where("sale_id = ? AND business_id = ?", sale.ID, sale.BusinessId).Order("line_no").Find(&items).Error; err != nil {
		tx.Rollback()
		return err
	}
	sale.Items = items

	if !sale.IsProforma && sale.LocationId != nil {
		if err := restoreSaleStock(tx, sale); err != nil {
			tx.Rollback()
			config.LogError(logger, "models", "DeleteSale", "restore stock", saleId, err)
			return err
		}
	}

	if err := tx.Where("sale_id = ? AND business_id = ?", sale.ID, sale.BusinessId).Delete(&SaleItem{}).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "DeleteSale", "delete items", saleId, err)
		return err
	}
	if err := tx.Where("id = ? AND business_id = ?", sale.ID, sale.BusinessId).Delete(&Sale{}).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "DeleteSale", "delete header", saleId, err)
		return err
	}

	if err := publishPosEvent(ctx, tx, sale.BusinessId, EventSaleDeleted, ReferenceTypeSale, sale.ID, PubSubMessageActionDelete, sale); err != nil {
		tx.Rollback()
		return err
	}
	createHistory(tx, sale.BusinessId, HistoryActionDelete, sale.ID, ReferenceTypeSale, sale, nil,
		fmt.Sprintf("Sale deleted with %d item(s).", len(items)))

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "models", "DeleteSale", "commit", saleId, err)
		return err
	}
	return nil
}

// restoreSaleStock puts back the stock the sale still holds, one product at a time in
// product id order, and releases the draws. Line quantities are not used: edits change
// them without touching the ledger.
func restoreSaleStock(tx *gorm.DB, sale *Sale) error {
	draws, err := saleDraws(tx, sale)
	if err != nil {
		return err
	}
	meta := StockMeta{ReferenceType: ReferenceTypeSale, ReferenceId: sale.ID, Notes: "sale deleted"}
	for _, d := range draws {
		if !d.Quantity.IsPositive() {
			continue
		}
		key := StockKey{BusinessId: sale.BusinessId, ProductId: d.ProductId, LocationId: d.LocationId}
		if _, err := IncrementStock(tx, key, d.Quantity, meta); err != nil {
			return err
		}
		if _, err := RecomputeProductStock(tx, sale.BusinessId, d.ProductId); err != nil {
			return err
		}
	}
	return tx.Where("sale_id = ? AND business_id = ?", sale.ID, sale.BusinessId).Delete(&SaleStockDraw{}).Error
}
