package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnFullLine(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "10")
	f.stock(t, bizA, "P2", f.main, "10")
	sale := seedSale(t, f,
		NewSaleItem{ProductId: "P1", Quantity: dec("3"), Price: dec("10")},
		NewSaleItem{ProductId: "P2", Quantity: dec("1"), Price: dec("4")},
	)
	requireDecimal(t, "34", sale.Subtotal)
	requireDecimal(t, "37.4", sale.Total)

	res, err := ReturnSaleItem(callerCtx(bizA), sale.ID, &NewSaleReturn{ProductId: "P1", Quantity: dec("3"), Reason: "damaged"})
	require.NoError(t, err)
	require.NotZero(t, res.ReturnId)

	assert.EqualValues(t, 0, f.count(t, &SaleItem{}, "sale_id = ? AND product_id = ?", sale.ID, "P1"))
	require.Len(t, res.Sale.Items, 1)
	requireDecimal(t, "4", res.Sale.Subtotal)
	requireDecimal(t, "0.4", res.Sale.Vat)
	requireDecimal(t, "4.4", res.Sale.Total)
	requireDecimal(t, "30", sale.Subtotal.Sub(res.Sale.Subtotal))

	requireDecimal(t, "10", f.onHand(t, bizA, "P1", f.main))
	requireDecimal(t, "10", f.aggregate(t, bizA, "P1"))

	var record SaleReturn
	require.NoError(t, f.db.First(&record, res.ReturnId).Error)
	assert.True(t, record.Restocked)
	requireDecimal(t, "30", record.Amount)
	requireDecimal(t, "3", record.VatAmount)
	requireDecimal(t, "33", record.RefundAmount)
	assert.Equal(t, "damaged", record.Reason)
	assert.Error(t, f.db.Model(&record).Update("reason", "changed").Error)

	assert.EqualValues(t, 1, f.count(t, &StockHistory{}, "reference_type = ? AND reference_id = ?", ReferenceTypeSaleReturn, res.ReturnId))
}

func TestReturnPartialLine(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "10")
	sale := seedSale(t, f, NewSaleItem{ProductId: "P1", Quantity: dec("3"), Price: dec("10")})

	res, err := ReturnSaleItem(callerCtx(bizA), sale.ID, &NewSaleReturn{ProductId: "P1", Quantity: dec("1")})
	require.NoError(t, err)
	require.Len(t, res.Sale.Items, 1)
	requireDecimal(t, "2", res.Sale.Items[0].Quantity)
	requireDecimal(t, "20", res.Sale.Items[0].LineTotal)
	requireDecimal(t, "22", res.Sale.Total)
	requireDecimal(t, "8", f.onHand(t, bizA, "P1", f.main))

	// the remaining two can still be returned against the specific line
	_, err = ReturnSaleItem(callerCtx(bizA), sale.ID, &NewSaleReturn{SaleItemId: res.Sale.Items[0].ID, ProductId: "P1", Quantity: dec("2")})
	require.NoError(t, err)
	requireDecimal(t, "10", f.onHand(t, bizA, "P1", f.main))
	assert.EqualValues(t, 0, f.count(t, &SaleItem{}, "sale_id = ?", sale.ID))
}

func TestReturnErrors(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "10")
	sale := seedSale(t, f, NewSaleItem{ProductId: "P1", Quantity: dec("3"), Price: dec("10")})
	ctx := callerCtx(bizA)

	tests := []struct {
		name   string
		saleId int
		input  NewSaleReturn
		code   string
	}{
		{"zero quantity", sale.ID, NewSaleReturn{ProductId: "P1", Quantity: dec("0")}, "INVALID_QUANTITY"},
		{"negative quantity", sale.ID, NewSaleReturn{ProductId: "P1", Quantity: dec("-2")}, "INVALID_QUANTITY"},
		{"more than sold", sale.ID, NewSaleReturn{ProductId: "P1", Quantity: dec("4")}, "INVALID_QUANTITY"},
		{"product not on sale", sale.ID, NewSaleReturn{ProductId: "P2", Quantity: dec("1")}, "NOT_FOUND"},
		{"missing sale", sale.ID + 50, NewSaleReturn{ProductId: "P1", Quantity: dec("1")}, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			_, err := ReturnSaleItem(ctx, tt.saleId, &input)
			assert.Equal(t, tt.code, ErrorCode(err), "err: %v", err)
		})
	}

	_, err := ReturnSaleItem(callerCtx(bizB), sale.ID, &NewSaleReturn{ProductId: "P1", Quantity: dec("1")})
	assert.Equal(t, "NOT_FOUND", ErrorCode(err))

	requireDecimal(t, "7", f.onHand(t, bizA, "P1", f.main))
	assert.EqualValues(t, 0, f.count(t, &SaleReturn{}, "sale_id = ?", sale.ID))
}

func TestReturnWithoutLocationDoesNotRestock(t *testing.T) {
	f := newFixture(t)
	f.stock(t, bizA, "P1", f.main, "4")
	sale, err := CreateSale(callerCtx(bizA), &NewSale{
		IsProforma: true,
		Items:      []NewSaleItem{{ProductId: "P1", Quantity: dec("2"), Price: dec("10")}},
	})
	require.NoError(t, err)

	res, err := ReturnSaleItem(callerCtx(bizA), sale.ID, &NewSaleReturn{ProductId: "P1", Quantity: dec("2")})
	require.NoError(t, err)

	var record SaleReturn
	require.NoError(t, f.db.First(&record, res.ReturnId).Error)
	assert.False(t, record.Restocked)
	requireDecimal(t, "4", f.onHand(t, bizA, "P1", f.main))
	assert.EqualValues(t, 0, f.count(t, &StockHistory{}, "business_id = ?", bizA))
}
