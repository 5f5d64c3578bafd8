package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockEntry is the current quantity of one product at one location.
type StockEntry struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;not null;uniqueIndex:idx_stock_entry_key,priority:1" json:"business_id"`
	ProductId  string          `gorm:"size:64;not null;uniqueIndex:idx_stock_entry_key,priority:2" json:"product_id"`
	LocationId int             `gorm:"not null;uniqueIndex:idx_stock_entry_key,priority:3" json:"location_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockHistory is the append-only trail of ledger mutations.
type StockHistory struct {
	ID            int              `gorm:"primary_key" json:"id"`
	BusinessId    string           `gorm:"size:64;not null;index:idx_stock_history_product,priority:1" json:"business_id"`
	ProductId     string           `gorm:"size:64;not null;index:idx_stock_history_product,priority:2" json:"product_id"`
	LocationId    int              `gorm:"not null;index" json:"location_id"`
	ChangeAmount  decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"change_amount"`
	Type          StockHistoryType `gorm:"size:10;not null" json:"type"`
	SupplierId    *int             `json:"supplier_id,omitempty"`
	BatchNumber   string           `gorm:"size:100" json:"batch_number,omitempty"`
	ReferenceType ReferenceType    `gorm:"size:20;index:idx_stock_history_reference,priority:1" json:"reference_type,omitempty"`
	ReferenceId   int              `gorm:"index:idx_stock_history_reference,priority:2" json:"reference_id,omitempty"`
	UserId        int              `gorm:"index" json:"user_id"`
	UserName      string           `gorm:"size:100" json:"user_name"`
	Notes         string           `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt     time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}

var errStockHistoryAppendOnly = errors.New("stock history is append-only")

func (h *StockHistory) BeforeUpdate(tx *gorm.DB) error {
	return errStockHistoryAppendOnly
}

func (h *StockHistory) BeforeDelete(tx *gorm.DB) error {
	return errStockHistoryAppendOnly
}

// StockKey identifies one ledger row.
type StockKey struct {
	BusinessId string
	ProductId  string
	LocationId int
}

// StockMeta is the optional provenance recorded with a mutation.
type StockMeta struct {
	SupplierId    *int          `json:"supplier_id,omitempty"`
	BatchNumber   string        `json:"batch_number,omitempty" validate:"max=100"`
	ReferenceType ReferenceType `json:"reference_type,omitempty"`
	ReferenceId   int           `json:"reference_id,omitempty"`
	Notes         string        `json:"notes,omitempty"`
}

const stockHistorySavePoint = "stock_history"

// appendStockHistory writes h inside a savepoint of tx. A failed write is rolled back to
// the savepoint and logged; the surrounding mutation carries on.
func appendStockHistory(tx *gorm.DB, key StockKey, change decimal.Decimal, typ StockHistoryType, meta StockMeta) {
	ctx := tx.Statement.Context
	h := StockHistory{
		BusinessId:    key.BusinessId,
		ProductId:     key.ProductId,
		LocationId:    key.LocationId,
		ChangeAmount:  change,
		Type:          typ,
		SupplierId:    meta.SupplierId,
		BatchNumber:   meta.BatchNumber,
		ReferenceType: meta.ReferenceType,
		ReferenceId:   meta.ReferenceId,
		Notes:         meta.Notes,
	}
	if ctx != nil {
		h.UserId, _ = utils.GetUserIdFromContext(ctx)
		h.UserName, _ = utils.GetUserNameFromContext(ctx)
	}

	logger := config.GetLogger()
	sp := tx.Session(&gorm.Session{})
	if err := sp.SavePoint(stockHistorySavePoint).Error; err != nil {
		config.LogWarn(logger, "models", "appendStockHistory", "savepoint", h, err)
		return
	}
	if err := sp.Create(&h).Error; err != nil {
		if rbErr := tx.Session(&gorm.Session{}).RollbackTo(stockHistorySavePoint).Error; rbErr != nil {
			config.LogWarn(logger, "models", "appendStockHistory", "rollback to savepoint", h, rbErr)
		}
		config.LogWarn(logger, "models", "appendStockHistory", "stock history write failed", h, err)
	}
}
