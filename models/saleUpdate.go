package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SaleUpdate replaces a sale's lines and optionally its header fields. Nil header
// fields are left as they are.
type SaleUpdate struct {
	Items         []NewSaleItem    `json:"items"`
	CustomerId    *int             `json:"customer_id"`
	PaymentMethod *PaymentMethod   `json:"payment_method"`
	Particulars   *string          `json:"particulars"`
	DeliveryFee   *decimal.Decimal `json:"delivery_fee"`
}

type RejectedItem struct {
	Index     int    `json:"index"`
	ProductId string `json:"product_id"`
	Reason    string `json:"reason"`
}

type SaleUpdateResult struct {
	SaleId        int            `json:"sale_id"`
	InsertedCount int            `json:"inserted_count"`
	RejectedItems []RejectedItem `json:"rejected_items"`
	Sale          *Sale          `json:"sale,omitempty"`
}

func validateSaleUpdateHeader(input *SaleUpdate) error {
	if input.PaymentMethod != nil && !input.PaymentMethod.IsValid() {
		return invalid("payment_method", fmt.Sprintf("unknown payment method %q", *input.PaymentMethod))
	}
	if input.DeliveryFee != nil && input.DeliveryFee.IsNegative() {
		return invalid("delivery_fee", "delivery_fee must not be less than 0")
	}
	return nil
}

// UpdateSale validates every supplied line, then swaps the sale's lines for the valid ones.
// Invalid lines are reported, not inserted. When no line is valid the sale is left untouched
// and ErrNoValidItems is returned together with the rejections. Stock is never adjusted.
func UpdateSale(ctx context.Context, saleId int, input *SaleUpdate) (*SaleUpdateResult, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if input == nil {
		return nil, invalid("", "update input is required")
	}
	if err := validateSaleUpdateHeader(input); err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	tx := config.GetDB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	sale, err := lockSale(tx, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !caller.CanAccessBusiness(sale.BusinessId) {
		tx.Rollback()
		return nil, fmt.Errorf("sale %d: %w", saleId, ErrNotFound)
	}

	result := &SaleUpdateResult{SaleId: saleId, RejectedItems: []RejectedItem{}}
	targets, accepted, err := screenUpdateItems(tx, sale.BusinessId, input.Items, result)
	if err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "UpdateSale", "screen items", input, err)
		return nil, err
	}
	if len(accepted) == 0 {
		tx.Rollback()
		return result, ErrNoValidItems
	}

	before := *sale
	if err := tx.Where("sale_id = ? AND business_id = ?", sale.ID, sale.BusinessId).Delete(&SaleItem{}).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "UpdateSale", "delete items", saleId, err)
		return nil, err
	}

	items := buildSaleItems(sale.BusinessId, targets, accepted)
	placed := make(map[string]bool)
	for i := range items {
		if s, ok := targets[i].(serviceProduct); ok && !s.inCatalog && !placed[s.id] {
			if err := upsertServicePlaceholder(tx, sale.BusinessId, s); err != nil {
				tx.Rollback()
				config.LogError(logger, "models", "UpdateSale", fmt.Sprintf("service placeholder for item %d", i), accepted[i], err)
				return nil, err
			}
			placed[s.id] = true
		}
		items[i].SaleId = sale.ID
		if err := tx.Create(&items[i]).Error; err != nil {
			tx.Rollback()
			config.LogError(logger, "models", "UpdateSale", fmt.Sprintf("insert item %d", i), items[i], err)
			return nil, err
		}
	}

	if input.CustomerId != nil {
		sale.CustomerId = input.CustomerId
	}
	if input.PaymentMethod != nil {
		sale.PaymentMethod = *input.PaymentMethod
	}
	if input.Particulars != nil {
		sale.Particulars = *input.Particulars
	}
	if input.DeliveryFee != nil {
		sale.DeliveryFee = *input.DeliveryFee
	}
	business, err := getBusiness(ctx, tx, sale.BusinessId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	sale.Subtotal, sale.Vat, sale.Total = computeSaleTotals(items, business, sale.DeliveryFee)

	if err := tx.Model(&Sale{}).Where("id = ? AND business_id = ?", sale.ID, sale.BusinessId).Updates(map[string]interface{}{
		"customer_id":    sale.CustomerId,
		"payment_method": sale.PaymentMethod,
		"particulars":    sale.Particulars,
		"delivery_fee":   sale.DeliveryFee,
		"subtotal":       sale.Subtotal,
		"vat":            sale.Vat,
		"total":          sale.Total,
	}).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "UpdateSale", "update header", saleId, err)
		return nil, err
	}

	sale.Items = items
	if err := publishPosEvent(ctx, tx, sale.BusinessId, EventSaleUpdated, ReferenceTypeSale, sale.ID, PubSubMessageActionUpdate, sale); err != nil {
		tx.Rollback()
		return nil, err
	}
	createHistory(tx, sale.BusinessId, HistoryActionUpdate, sale.ID, ReferenceTypeSale, before, sale,
		fmt.Sprintf("Sale items replaced: %d inserted, %d rejected.", len(items), len(result.RejectedItems)))

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "models", "UpdateSale", "commit", saleId, err)
		return nil, err
	}
	result.InsertedCount = len(items)
	result.Sale = sale
	return result, nil
}

// screenUpdateItems splits the supplied lines into accepted ones (with their targets) and
// rejections recorded on result.
func screenUpdateItems(tx *gorm.DB, businessId string, items []NewSaleItem, result *SaleUpdateResult) ([]LineTarget, []NewSaleItem, error) {
	logger := config.GetLogger()
	reject := func(i int, item NewSaleItem, reason string) {
		result.RejectedItems = append(result.RejectedItems, RejectedItem{Index: i, ProductId: item.ProductId, Reason: reason})
		logger.WithFields(logrus.Fields{
			"module":     "models",
			"funcName":   "UpdateSale",
			"sale_id":    result.SaleId,
			"item_index": i,
			"product_id": item.ProductId,
			"quantity":   item.Quantity.String(),
			"price":      item.Price.String(),
		}).Warn("sale item rejected: " + reason)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductId != "" {
			ids = append(ids, item.ProductId)
		}
	}
	products, err := fetchProducts(tx, businessId, ids)
	if err != nil {
		return nil, nil, err
	}

	var (
		targets  []LineTarget
		accepted []NewSaleItem
	)
	for i, item := range items {
		if err := utils.ValidateStruct(item); err != nil {
			reject(i, item, utils.DescribeValidationError(err))
			continue
		}
		p, known := products[item.ProductId]
		switch {
		case known && !p.IsService:
			targets = append(targets, physicalProduct{product: p, price: item.Price})
		case known:
			targets = append(targets, serviceProduct{id: p.ID, name: firstNonEmpty(item.Name, p.Name), price: item.Price, inCatalog: true})
		case item.IsService:
			targets = append(targets, serviceProduct{id: item.ProductId, name: firstNonEmpty(item.Name, item.ProductId), price: item.Price})
		default:
			reject(i, item, fmt.Sprintf("product %s does not exist", item.ProductId))
			continue
		}
		accepted = append(accepted, item)
	}
	return targets, accepted, nil
}
