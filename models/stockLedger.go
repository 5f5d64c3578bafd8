package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var lockingUpdate = clause.Locking{Strength: "UPDATE"}

// Ledger primitives. All of them run inside the caller's transaction and hold the
// row lock they take until that transaction ends.

func lockStockEntry(tx *gorm.DB, key StockKey) (*StockEntry, error) {
	var entry StockEntry
	err := tx.Clauses(lockingUpdate).
		Where("business_id = ? AND product_id = ? AND location_id = ?", key.BusinessId, key.ProductId, key.LocationId).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func lockOrCreateStockEntry(tx *gorm.DB, key StockKey) (*StockEntry, error) {
	var entry StockEntry
	err := tx.Clauses(lockingUpdate).
		Where(StockEntry{BusinessId: key.BusinessId, ProductId: key.ProductId, LocationId: key.LocationId}).
		Attrs(StockEntry{Quantity: decimal.Zero}).
		FirstOrCreate(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func setStockQuantity(tx *gorm.DB, entry *StockEntry, qty decimal.Decimal) error {
	if err := tx.Model(&StockEntry{}).Where("id = ?", entry.ID).Update("quantity", qty).Error; err != nil {
		return err
	}
	entry.Quantity = qty
	return nil
}

// CheckStockAvailable locks the (product, location) row and reports whether quantity
// units are on hand. A missing row counts as zero.
func CheckStockAvailable(tx *gorm.DB, key StockKey, quantity decimal.Decimal) (bool, decimal.Decimal, error) {
	entry, err := lockStockEntry(tx, key)
	if err != nil {
		return false, decimal.Zero, err
	}
	available := decimal.Zero
	if entry != nil {
		available = entry.Quantity
	}
	return available.GreaterThanOrEqual(quantity), available, nil
}

// DecrementStock subtracts quantity, floored at zero. It never fails for a shortfall;
// availability is checked beforehand with CheckStockAvailable.
func DecrementStock(tx *gorm.DB, key StockKey, quantity decimal.Decimal, meta StockMeta) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "quantity", Reason: "must be greater than 0", Kind: ErrInvalidQuantity}
	}
	entry, err := lockStockEntry(tx, key)
	if err != nil {
		return decimal.Zero, err
	}
	current := decimal.Zero
	if entry != nil {
		current = entry.Quantity
	}
	applied := decimal.Min(quantity, current)
	if applied.LessThan(quantity) {
		meta.Notes = joinNote(meta.Notes, fmt.Sprintf("clamped at zero: requested %s, on hand %s", quantity.String(), current.String()))
	}
	next := current.Sub(applied)
	if entry != nil && applied.IsPositive() {
		if err := setStockQuantity(tx, entry, next); err != nil {
			return decimal.Zero, err
		}
	}
	appendStockHistory(tx, key, applied.Neg(), StockHistoryTypeOut, meta)
	return next, nil
}

// IncrementStock adds quantity, creating the row when the pair has never been stocked.
func IncrementStock(tx *gorm.DB, key StockKey, quantity decimal.Decimal, meta StockMeta) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "quantity", Reason: "must be greater than 0", Kind: ErrInvalidQuantity}
	}
	entry, err := lockOrCreateStockEntry(tx, key)
	if err != nil {
		return decimal.Zero, err
	}
	next := entry.Quantity.Add(quantity)
	if err := setStockQuantity(tx, entry, next); err != nil {
		return decimal.Zero, err
	}
	appendStockHistory(tx, key, quantity, StockHistoryTypeIn, meta)
	return next, nil
}

// MoveStockEntries moves quantity between two locations of the same product. Both rows are
// locked in ascending location id order so opposite moves cannot deadlock.
func MoveStockEntries(tx *gorm.DB, businessId string, productId string, fromLocationId int, toLocationId int, quantity decimal.Decimal, meta StockMeta) error {
	if !quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be greater than 0", Kind: ErrInvalidQuantity}
	}
	if fromLocationId == toLocationId {
		return invalid("to_location_id", "source and destination must differ")
	}
	from := StockKey{BusinessId: businessId, ProductId: productId, LocationId: fromLocationId}
	to := StockKey{BusinessId: businessId, ProductId: productId, LocationId: toLocationId}

	entries := make(map[int]*StockEntry, 2)
	for _, key := range orderedStockKeys(from, to) {
		e, err := lockOrCreateStockEntry(tx, key)
		if err != nil {
			return err
		}
		entries[key.LocationId] = e
	}

	src, dst := entries[fromLocationId], entries[toLocationId]
	if src.Quantity.LessThan(quantity) {
		return &InsufficientStockError{
			ProductId:  productId,
			LocationId: fromLocationId,
			Requested:  quantity,
			Available:  src.Quantity,
		}
	}
	if err := setStockQuantity(tx, src, src.Quantity.Sub(quantity)); err != nil {
		return err
	}
	if err := setStockQuantity(tx, dst, dst.Quantity.Add(quantity)); err != nil {
		return err
	}

	outMeta, inMeta := meta, meta
	outMeta.Notes = joinNote(meta.Notes, fmt.Sprintf("to location %d", toLocationId))
	inMeta.Notes = joinNote(meta.Notes, fmt.Sprintf("from location %d", fromLocationId))
	appendStockHistory(tx, from, quantity.Neg(), StockHistoryTypeMoveOut, outMeta)
	appendStockHistory(tx, to, quantity, StockHistoryTypeMoveIn, inMeta)
	return nil
}

func orderedStockKeys(a, b StockKey) []StockKey {
	if a.LocationId > b.LocationId {
		return []StockKey{b, a}
	}
	return []StockKey{a, b}
}

func joinNote(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "; " + extra
}
