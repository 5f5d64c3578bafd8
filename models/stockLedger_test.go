package models

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCheckStockAvailable(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "5")
	ctx := callerCtx(bizA)

	tests := []struct {
		name     string
		location int
		qty      string
		ok       bool
		avail    string
	}{
		{"exact", f.main, "5", true, "5"},
		{"short", f.main, "6", false, "5"},
		{"missing row counts as zero", f.branch, "1", false, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				ok, available, err := CheckStockAvailable(tx, StockKey{BusinessId: bizA, ProductId: "P1", LocationId: tt.location}, dec(tt.qty))
				require.NoError(t, err)
				assert.Equal(t, tt.ok, ok)
				requireDecimal(t, tt.avail, available)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestDecrementStockClampsAtZero(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "3")
	ctx := callerCtx(bizA)
	key := StockKey{BusinessId: bizA, ProductId: "P1", LocationId: f.main}

	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := DecrementStock(tx, key, dec("5"), StockMeta{ReferenceType: ReferenceTypeStock})
		require.NoError(t, err)
		requireDecimal(t, "0", next)
		return nil
	})
	require.NoError(t, err)
	requireDecimal(t, "0", f.onHand(t, bizA, "P1", f.main))

	var rows []StockHistory
	require.NoError(t, f.db.Where("business_id = ? AND product_id = ?", bizA, "P1").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, StockHistoryTypeOut, rows[0].Type)
	requireDecimal(t, "-3", rows[0].ChangeAmount)
	assert.True(t, strings.Contains(rows[0].Notes, "clamped"), rows[0].Notes)
	assert.Equal(t, 7, rows[0].UserId)
}

func TestDecrementStockRejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	key := StockKey{BusinessId: bizA, ProductId: "P1", LocationId: f.main}
	err := f.db.WithContext(callerCtx(bizA)).Transaction(func(tx *gorm.DB) error {
		_, err := DecrementStock(tx, key, dec("0"), StockMeta{})
		return err
	})
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestIncrementStockCreatesEntry(t *testing.T) {
	f := newFixture(t)
	key := StockKey{BusinessId: bizA, ProductId: "P2", LocationId: f.branch}

	for _, qty := range []string{"4", "1.5"} {
		err := f.db.WithContext(callerCtx(bizA)).Transaction(func(tx *gorm.DB) error {
			_, err := IncrementStock(tx, key, dec(qty), StockMeta{BatchNumber: "B-1"})
			return err
		})
		require.NoError(t, err)
	}
	requireDecimal(t, "5.5", f.onHand(t, bizA, "P2", f.branch))
	assert.EqualValues(t, 1, f.count(t, &StockEntry{}, "business_id = ? AND product_id = ?", bizA, "P2"))
	assert.EqualValues(t, 2, f.count(t, &StockHistory{}, "product_id = ? AND type = ? AND batch_number = ?", "P2", StockHistoryTypeIn, "B-1"))
}

func TestStockHistoryIsAppendOnly(t *testing.T) {
	f := newFixture(t)
	key := StockKey{BusinessId: bizA, ProductId: "P1", LocationId: f.main}
	require.NoError(t, f.db.WithContext(callerCtx(bizA)).Transaction(func(tx *gorm.DB) error {
		_, err := IncrementStock(tx, key, dec("2"), StockMeta{})
		return err
	}))

	var h StockHistory
	require.NoError(t, f.db.First(&h).Error)
	assert.Error(t, f.db.Model(&h).Update("notes", "edited").Error)
	assert.Error(t, f.db.Delete(&h).Error)
	assert.EqualValues(t, 1, f.count(t, &StockHistory{}, "id = ?", h.ID))
}

func TestMoveStockRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "10")
	ctx := callerCtx(bizA, withPermissions(string(PermissionMoveStock)))

	out, err := MoveStock(ctx, &StockMoveInput{ProductId: "P1", FromLocationId: f.main, ToLocationId: f.branch, Quantity: dec("4")})
	require.NoError(t, err)
	requireDecimal(t, "10", out.Total)
	require.Len(t, out.Locations, 2)
	requireDecimal(t, "6", f.onHand(t, bizA, "P1", f.main))
	requireDecimal(t, "4", f.onHand(t, bizA, "P1", f.branch))

	back, err := MoveStock(ctx, &StockMoveInput{ProductId: "P1", FromLocationId: f.branch, ToLocationId: f.main, Quantity: dec("4")})
	require.NoError(t, err)
	requireDecimal(t, "10", back.Total)
	requireDecimal(t, "10", f.onHand(t, bizA, "P1", f.main))
	requireDecimal(t, "0", f.onHand(t, bizA, "P1", f.branch))
	requireDecimal(t, "10", f.aggregate(t, bizA, "P1"))

	assert.EqualValues(t, 2, f.count(t, &StockHistory{}, "type = ?", StockHistoryTypeMoveOut))
	assert.EqualValues(t, 2, f.count(t, &StockHistory{}, "type = ?", StockHistoryTypeMoveIn))
	assert.EqualValues(t, 2, f.count(t, &PubSubMessageRecord{}, "event_type = ?", EventStockMoved))
}

func TestMoveStockInsufficientLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "2")
	ctx := callerCtx(bizA, withRole(UserRoleAdmin))

	_, err := MoveStock(ctx, &StockMoveInput{ProductId: "P1", FromLocationId: f.main, ToLocationId: f.branch, Quantity: dec("5")})
	require.Error(t, err)
	assert.Equal(t, "INSUFFICIENT_STOCK", ErrorCode(err))

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	requireDecimal(t, "2", stockErr.Available)

	requireDecimal(t, "2", f.onHand(t, bizA, "P1", f.main))
	assert.EqualValues(t, 0, f.count(t, &StockEntry{}, "location_id = ?", f.branch))
	assert.EqualValues(t, 0, f.count(t, &StockHistory{}, "product_id = ?", "P1"))
}

func TestMoveStockRules(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "5")

	_, err := MoveStock(callerCtx(bizA), &StockMoveInput{ProductId: "P1", FromLocationId: f.main, ToLocationId: f.branch, Quantity: dec("1")})
	assert.True(t, errors.Is(err, ErrForbidden), "cashier without inventory:move")

	mover := callerCtx(bizA, withPermissions("inventory:*"))
	_, err = MoveStock(mover, &StockMoveInput{ProductId: "P1", FromLocationId: f.main, ToLocationId: f.main, Quantity: dec("1")})
	assert.True(t, errors.Is(err, ErrInvalidInput), "same location")

	_, err = MoveStock(mover, &StockMoveInput{ProductId: "P1", FromLocationId: f.main, ToLocationId: f.foreign, Quantity: dec("1")})
	assert.True(t, errors.Is(err, ErrLocationNotFound), "location of another business")

	_, err = MoveStock(mover, &StockMoveInput{ProductId: "SVC", FromLocationId: f.main, ToLocationId: f.branch, Quantity: dec("1")})
	assert.True(t, errors.Is(err, ErrInvalidInput), "services carry no stock")
}

func TestAdjustStockKeepsAggregateInSync(t *testing.T) {
	f := newFixture(t)
	ctx := callerCtx(bizA)

	_, err := IncreaseStock(ctx, &StockAdjustmentInput{ProductId: "P1", LocationId: f.main, Quantity: dec("5")})
	require.NoError(t, err)
	_, err = IncreaseStock(ctx, &StockAdjustmentInput{ProductId: "P1", LocationId: f.branch, Quantity: dec("3")})
	require.NoError(t, err)
	res, err := DecreaseStock(ctx, &StockAdjustmentInput{ProductId: "P1", LocationId: f.main, Quantity: dec("2")})
	require.NoError(t, err)

	requireDecimal(t, "6", res.Total)
	requireDecimal(t, "3", res.Locations[0].Quantity)
	requireDecimal(t, "6", f.aggregate(t, bizA, "P1"))

	// decrease beyond what is on hand floors the row at zero
	res, err = DecreaseStock(ctx, &StockAdjustmentInput{ProductId: "P1", LocationId: f.branch, Quantity: dec("50")})
	require.NoError(t, err)
	requireDecimal(t, "3", res.Total)
	requireDecimal(t, "0", f.onHand(t, bizA, "P1", f.branch))
}

func TestAdjustStockErrors(t *testing.T) {
	f := newFixture(t)
	ctx := callerCtx(bizA)

	tests := []struct {
		name  string
		input StockAdjustmentInput
		want  error
	}{
		{"zero quantity", StockAdjustmentInput{ProductId: "P1", LocationId: f.main, Quantity: dec("0")}, ErrInvalidQuantity},
		{"unknown product", StockAdjustmentInput{ProductId: "NOPE", LocationId: f.main, Quantity: dec("1")}, ErrProductNotFound},
		{"location of another business", StockAdjustmentInput{ProductId: "P2", LocationId: f.foreign, Quantity: dec("1")}, ErrLocationNotFound},
		{"service", StockAdjustmentInput{ProductId: "SVC", LocationId: f.main, Quantity: dec("1")}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			_, err := IncreaseStock(ctx, &input)
			assert.Truef(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := IncreaseStock(context.Background(), &StockAdjustmentInput{ProductId: "P1", LocationId: f.main, Quantity: dec("1")})
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestRebuildBusinessStock(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "4")
	f.stock(t, bizA, "P1", f.branch, "6")
	// drift the aggregate by hand
	require.NoError(t, f.db.Model(&Product{}).Where("business_id = ? AND id = ?", bizA, "P1").Update("stock", dec("99")).Error)

	n, err := RebuildBusinessStock(callerCtx(bizA), bizA)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	requireDecimal(t, "10", f.aggregate(t, bizA, "P1"))
	requireDecimal(t, "0", f.aggregate(t, bizA, "P2"))
}

func TestStockChangesSurviveHistoryFailure(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "10")
	require.NoError(t, f.db.Migrator().DropTable(&StockHistory{}))

	res, err := IncreaseStock(callerCtx(bizA), &StockAdjustmentInput{ProductId: "P1", LocationId: f.main, Quantity: dec("5")})
	require.NoError(t, err)
	requireDecimal(t, "15", res.Total)
	requireDecimal(t, "15", f.onHand(t, bizA, "P1", f.main))

	sale, err := CreateSale(callerCtx(bizA, atLocation(f.main)), &NewSale{
		Items: []NewSaleItem{{ProductId: "P1", Quantity: dec("3"), Price: dec("10")}},
	})
	require.NoError(t, err)
	assert.NotZero(t, sale.ID)
	requireDecimal(t, "12", f.onHand(t, bizA, "P1", f.main))
	requireDecimal(t, "12", f.aggregate(t, bizA, "P1"))
	assert.EqualValues(t, 1, f.count(t, &PubSubMessageRecord{}, "event_type = ?", EventSaleCreated))
}
