package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// SaleReturn is the insert-only record of an item returned against a sale.
type SaleReturn struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"size:64;index;not null" json:"business_id"`
	SaleId       int             `gorm:"index;not null" json:"sale_id"`
	SaleItemId   string          `gorm:"size:36;not null" json:"sale_item_id"`
	ProductId    string          `gorm:"size:64;index;not null" json:"product_id"`
	LocationId   *int            `json:"location_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	VatAmount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"vat_amount"`
	RefundAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"refund_amount"`
	Restocked    bool            `gorm:"not null;default:false" json:"restocked"`
	RestockedQty decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"restocked_quantity"`
	Reason       string          `gorm:"type:text" json:"reason"`
	UserId       int             `gorm:"index" json:"user_id"`
	UserName     string          `gorm:"size:100" json:"user_name"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (r *SaleReturn) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("sale returns are immutable")
}

type NewSaleReturn struct {
	SaleItemId string          `json:"sale_item_id" validate:"omitempty,max=36"`
	ProductId  string          `json:"product_id" validate:"required,max=64"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason" validate:"max=1000"`
}

type SaleReturnResult struct {
	ReturnId int   `json:"return_id"`
	Sale     *Sale `json:"sale"`
}

// ReturnSaleItem takes quantity of a product back from a sale: the line shrinks (or goes),
// totals are recomputed, stock is restored at the sale's location, and a SaleReturn is kept.
func ReturnSaleItem(ctx context.Context, saleId int, input *NewSaleReturn) (*SaleReturnResult, error) {
	ctx, span := tracer.Start(ctx, "models.ReturnSaleItem")
	defer span.End()
	span.SetAttributes(attribute.Int("sale_id", saleId))

	if input == nil {
		return nil, invalid("", "return input is required")
	}
	if !input.Quantity.IsPositive() {
		return nil, &ValidationError{Field: "quantity", Reason: "quantity must be greater than 0", Kind: ErrInvalidQuantity}
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	tx := config.GetDB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	result, err := returnSaleItemTx(ctx, tx, caller, saleId, input)
	if err != nil {
		tx.Rollback()
		failSpan(span, err)
		if ErrorKind(err) == ErrorKindStorage {
			config.LogError(logger, "models", "ReturnSaleItem", "return item", input, err)
		}
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		failSpan(span, err)
		config.LogError(logger, "models", "ReturnSaleItem", "commit", input, err)
		return nil, err
	}
	return result, nil
}

func returnSaleItemTx(ctx context.Context, tx *gorm.DB, caller *Caller, saleId int, input *NewSaleReturn) (*SaleReturnResult, error) {
	sale, err := lockSale(tx, saleId)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessBusiness(sale.BusinessId) {
		return nil, fmt.Errorf("sale %d: %w", saleId, ErrNotFound)
	}

	line, err := pickReturnLine(tx, sale, input)
	if err != nil {
		return nil, err
	}

	amount := line.Price.Mul(input.Quantity)
	remaining := line.Quantity.Sub(input.Quantity)
	if remaining.IsZero() {
		err = tx.Where("id = ? AND business_id = ?", line.ID, sale.BusinessId).Delete(&SaleItem{}).Error
	} else {
		err = tx.Model(&SaleItem{}).Where("id = ? AND business_id = ?", line.ID, sale.BusinessId).Updates(map[string]interface{}{
			"quantity":   remaining,
			"line_total": line.Price.Mul(remaining),
		}).Error
	}
	if err != nil {
		return nil, fmt.Errorf("adjust sale item %s: %w", line.ID, err)
	}

	var items []SaleItem
	if err := tx.Where("sale_id = ? AND business_id = ?", sale.ID, sale.BusinessId).Order("line_no").Find(&items).Error; err != nil {
		return nil, err
	}
	business, err := getBusiness(ctx, tx, sale.BusinessId)
	if err != nil {
		return nil, err
	}
	oldVat := sale.Vat
	sale.Subtotal, sale.Vat, sale.Total = computeSaleTotals(items, business, sale.DeliveryFee)
	if err := tx.Model(&Sale{}).Where("id = ? AND business_id = ?", sale.ID, sale.BusinessId).Updates(map[string]interface{}{
		"subtotal": sale.Subtotal,
		"vat":      sale.Vat,
		"total":    sale.Total,
	}).Error; err != nil {
		return nil, fmt.Errorf("update sale totals: %w", err)
	}
	sale.Items = items

	restockQty := decimal.Zero
	if !line.IsService && !sale.IsProforma && sale.LocationId != nil {
		if restockQty, err = takeBackDraw(tx, sale, line.ProductId, input.Quantity); err != nil {
			return nil, fmt.Errorf("release drawn stock: %w", err)
		}
	}
	restock := restockQty.IsPositive()
	vatAmount := oldVat.Sub(sale.Vat)
	record := SaleReturn{
		BusinessId:   sale.BusinessId,
		SaleId:       sale.ID,
		SaleItemId:   line.ID,
		ProductId:    line.ProductId,
		LocationId:   sale.LocationId,
		Quantity:     input.Quantity,
		Amount:       amount,
		VatAmount:    vatAmount,
		RefundAmount: amount.Add(vatAmount),
		Restocked:    restock,
		RestockedQty: restockQty,
		Reason:       input.Reason,
		UserId:       caller.UserId,
		UserName:     caller.UserName,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("insert sale return: %w", err)
	}

	if restock {
		key := StockKey{BusinessId: sale.BusinessId, ProductId: line.ProductId, LocationId: *sale.LocationId}
		meta := StockMeta{ReferenceType: ReferenceTypeSaleReturn, ReferenceId: record.ID, Notes: input.Reason}
		if _, err := IncrementStock(tx, key, restockQty, meta); err != nil {
			return nil, fmt.Errorf("restore stock: %w", err)
		}
		if _, err := RecomputeProductStock(tx, sale.BusinessId, line.ProductId); err != nil {
			return nil, fmt.Errorf("recompute stock: %w", err)
		}
	}

	if err := publishPosEvent(ctx, tx, sale.BusinessId, EventItemReturned, ReferenceTypeSaleReturn, record.ID, PubSubMessageActionCreate, record); err != nil {
		return nil, fmt.Errorf("queue return event: %w", err)
	}
	createHistory(tx, sale.BusinessId, HistoryActionReturn, sale.ID, ReferenceTypeSale, nil, record,
		fmt.Sprintf("Returned %s x %s, refund %s.", input.Quantity.String(), line.ProductId, record.RefundAmount.String()))

	return &SaleReturnResult{ReturnId: record.ID, Sale: sale}, nil
}

// pickReturnLine finds the line being returned: the requested one, or the first line of the
// product that still holds enough quantity.
func pickReturnLine(tx *gorm.DB, sale *Sale, input *NewSaleReturn) (*SaleItem, error) {
	q := tx.Where("sale_id = ? AND business_id = ? AND product_id = ?", sale.ID, sale.BusinessId, input.ProductId)
	if input.SaleItemId != "" {
		q = q.Where("id = ?", input.SaleItemId)
	}
	var lines []SaleItem
	if err := q.Order("line_no").Find(&lines).Error; err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("product %s on sale %d: %w", input.ProductId, sale.ID, ErrNotFound)
	}
	for i := range lines {
		if lines[i].Quantity.GreaterThanOrEqual(input.Quantity) {
			return &lines[i], nil
		}
	}
	return nil, &ValidationError{
		Field:  "quantity",
		Reason: fmt.Sprintf("return quantity %s exceeds the sold quantity", input.Quantity.String()),
		Kind:   ErrInvalidQuantity,
	}
}
