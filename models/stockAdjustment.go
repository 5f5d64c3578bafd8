package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockAdjustmentInput struct {
	ProductId  string          `json:"product_id" validate:"required,max=64"`
	LocationId int             `json:"location_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	Metadata   StockMeta       `json:"metadata"`
}

type StockMoveInput struct {
	ProductId      string          `json:"product_id" validate:"required,max=64"`
	FromLocationId int             `json:"from_location_id" validate:"required,gt=0"`
	ToLocationId   int             `json:"to_location_id" validate:"required,gt=0,nefield=FromLocationId"`
	Quantity       decimal.Decimal `json:"quantity" validate:"gt=0"`
	Metadata       StockMeta       `json:"metadata"`
}

type LocationQuantity struct {
	LocationId int             `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// StockTotal is the aggregate stock of a product after an operation.
type StockTotal struct {
	ProductId string             `json:"product_id"`
	Total     decimal.Decimal    `json:"total"`
	Locations []LocationQuantity `json:"locations"`
}

func IncreaseStock(ctx context.Context, input *StockAdjustmentInput) (*StockTotal, error) {
	return adjustStock(ctx, input, StockHistoryTypeIn)
}

// DecreaseStock removes stock, floored at zero.
func DecreaseStock(ctx context.Context, input *StockAdjustmentInput) (*StockTotal, error) {
	return adjustStock(ctx, input, StockHistoryTypeOut)
}

func adjustStock(ctx context.Context, input *StockAdjustmentInput, direction StockHistoryType) (*StockTotal, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if input == nil {
		return nil, invalid("", "stock input is required")
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	businessId := caller.BusinessId
	result := &StockTotal{ProductId: input.ProductId}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := fetchStockProduct(tx, businessId, input.ProductId); err != nil {
			return err
		}
		if err := ensureLocation(tx, businessId, input.LocationId); err != nil {
			return err
		}
		key := StockKey{BusinessId: businessId, ProductId: input.ProductId, LocationId: input.LocationId}
		var (
			qty decimal.Decimal
			err error
		)
		if direction == StockHistoryTypeIn {
			qty, err = IncrementStock(tx, key, input.Quantity, input.Metadata)
		} else {
			qty, err = DecrementStock(tx, key, input.Quantity, input.Metadata)
		}
		if err != nil {
			return err
		}
		if result.Total, err = RecomputeProductStock(tx, businessId, input.ProductId); err != nil {
			return err
		}
		result.Locations = []LocationQuantity{{LocationId: input.LocationId, Quantity: qty}}

		return publishPosEvent(ctx, tx, businessId, EventStockAdjusted, ReferenceTypeStock, input.LocationId, PubSubMessageActionUpdate,
			map[string]interface{}{"direction": direction, "input": input, "result": result})
	})
	if err != nil {
		if ErrorKind(err) == ErrorKindStorage {
			config.LogError(logger, "models", "adjustStock", string(direction), input, err)
		}
		return nil, err
	}
	return result, nil
}

// MoveStock transfers stock between two locations of the caller's business.
func MoveStock(ctx context.Context, input *StockMoveInput) (*StockTotal, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !caller.CanMoveStock() {
		return nil, fmt.Errorf("move stock: %w", ErrForbidden)
	}
	if input == nil {
		return nil, invalid("", "move input is required")
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	businessId := caller.BusinessId
	result := &StockTotal{ProductId: input.ProductId}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := fetchStockProduct(tx, businessId, input.ProductId); err != nil {
			return err
		}
		for _, loc := range []int{input.FromLocationId, input.ToLocationId} {
			if err := ensureLocation(tx, businessId, loc); err != nil {
				return err
			}
		}
		if err := MoveStockEntries(tx, businessId, input.ProductId, input.FromLocationId, input.ToLocationId, input.Quantity, input.Metadata); err != nil {
			return err
		}
		var err error
		if result.Total, err = RecomputeProductStock(tx, businessId, input.ProductId); err != nil {
			return err
		}
		var entries []StockEntry
		if err := tx.Where("business_id = ? AND product_id = ? AND location_id IN ?", businessId, input.ProductId,
			[]int{input.FromLocationId, input.ToLocationId}).Order("location_id").Find(&entries).Error; err != nil {
			return err
		}
		for _, e := range entries {
			result.Locations = append(result.Locations, LocationQuantity{LocationId: e.LocationId, Quantity: e.Quantity})
		}

		return publishPosEvent(ctx, tx, businessId, EventStockMoved, ReferenceTypeStock, input.FromLocationId, PubSubMessageActionUpdate,
			map[string]interface{}{"input": input, "result": result})
	})
	if err != nil {
		if ErrorKind(err) == ErrorKindStorage {
			config.LogError(logger, "models", "MoveStock", "move", input, err)
		}
		return nil, err
	}
	return result, nil
}

type ProductStock struct {
	Product Product      `json:"product"`
	Entries []StockEntry `json:"entries"`
}

func GetProductStock(ctx context.Context, productId string) (*ProductStock, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	var out ProductStock
	err = db.Where("business_id = ? AND id = ?", caller.BusinessId, productId).First(&out.Product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", productId, ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Where("business_id = ? AND product_id = ?", caller.BusinessId, productId).
		Order("location_id").Find(&out.Entries).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

type StockHistoryFilter struct {
	ProductId  string           `form:"product_id"`
	LocationId int              `form:"location_id"`
	Type       StockHistoryType `form:"type"`
	From       *time.Time       `form:"from" time_format:"2006-01-02"`
	To         *time.Time       `form:"to" time_format:"2006-01-02"`
	Limit      int              `form:"limit"`
	Offset     int              `form:"offset"`
}

const maxStockHistoryPage = 500

// ListStockHistory returns history rows of the caller's business, newest first.
// A zero Limit means one full page; a negative Limit means no limit (exports).
func ListStockHistory(ctx context.Context, filter StockHistoryFilter) ([]StockHistory, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, invalid("type", fmt.Sprintf("unknown history type %q", filter.Type))
	}

	q := config.GetDB().WithContext(ctx).Where("business_id = ?", caller.BusinessId)
	if filter.ProductId != "" {
		q = q.Where("product_id = ?", filter.ProductId)
	}
	if filter.LocationId > 0 {
		q = q.Where("location_id = ?", filter.LocationId)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", filter.To.AddDate(0, 0, 1))
	}
	switch {
	case filter.Limit == 0 || filter.Limit > maxStockHistoryPage:
		q = q.Limit(maxStockHistoryPage)
	case filter.Limit > 0:
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []StockHistory
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
