package models

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	bizA = "biz-a"
	bizB = "biz-b"
)

type fixture struct {
	db *gorm.DB

	// locations of bizA
	main, branch int
	// location of bizB
	foreign int
}

// newFixture opens a private in-memory database with one connection, so transactions
// run one at a time, and seeds two businesses.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, config.RegisterPlugins(db))
	require.NoError(t, MigrateTable(db))

	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})

	f := &fixture{db: db}
	require.NoError(t, db.Create(&Business{ID: bizA, Name: "Shop A", VatRate: dec("10")}).Error)
	require.NoError(t, db.Create(&Business{ID: bizB, Name: "Shop B", VatRate: decimal.Zero}).Error)

	main := Location{BusinessId: bizA, Name: "Main", IsActive: true}
	branch := Location{BusinessId: bizA, Name: "Branch", IsActive: true}
	foreign := Location{BusinessId: bizB, Name: "Elsewhere", IsActive: true}
	require.NoError(t, db.Create(&main).Error)
	require.NoError(t, db.Create(&branch).Error)
	require.NoError(t, db.Create(&foreign).Error)
	f.main, f.branch, f.foreign = main.ID, branch.ID, foreign.ID

	products := []Product{
		{ID: "P1", BusinessId: bizA, Name: "Rice 1kg", Price: dec("10")},
		{ID: "P2", BusinessId: bizA, Name: "Oil 1L", Price: dec("4")},
		{ID: "SVC", BusinessId: bizA, Name: "Delivery", Price: dec("5"), IsService: true},
		{ID: "P1", BusinessId: bizB, Name: "Other rice", Price: dec("9")},
	}
	require.NoError(t, db.Create(&products).Error)
	return f
}

func (f *fixture) stock(t *testing.T, businessId, productId string, locationId int, qty string) {
	t.Helper()
	entry := StockEntry{BusinessId: businessId, ProductId: productId, LocationId: locationId, Quantity: dec(qty)}
	require.NoError(t, f.db.Create(&entry).Error)
	_, err := RecomputeProductStock(f.db, businessId, productId)
	require.NoError(t, err)
}

// onHand is the ledger quantity; a missing row reads as zero.
func (f *fixture) onHand(t *testing.T, businessId, productId string, locationId int) decimal.Decimal {
	t.Helper()
	var entries []StockEntry
	require.NoError(t, f.db.Where("business_id = ? AND product_id = ? AND location_id = ?", businessId, productId, locationId).
		Find(&entries).Error)
	if len(entries) == 0 {
		return decimal.Zero
	}
	return entries[0].Quantity
}

func (f *fixture) aggregate(t *testing.T, businessId, productId string) decimal.Decimal {
	t.Helper()
	var p Product
	require.NoError(t, f.db.Where("business_id = ? AND id = ?", businessId, productId).First(&p).Error)
	return p.Stock
}

func (f *fixture) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

type ctxOption func(context.Context) context.Context

func atLocation(id int) ctxOption {
	return func(ctx context.Context) context.Context { return utils.SetLocationIdInContext(ctx, id) }
}

func withPermissions(p ...string) ctxOption {
	return func(ctx context.Context) context.Context { return utils.SetPermissionsInContext(ctx, p) }
}

func withRole(r UserRole) ctxOption {
	return func(ctx context.Context) context.Context { return utils.SetRoleInContext(ctx, string(r)) }
}

func superAdmin() ctxOption {
	return func(ctx context.Context) context.Context { return utils.SetIsAdminInContext(ctx, true) }
}

// callerCtx is a cashier of businessId (custom role, no permissions) unless options say otherwise.
func callerCtx(businessId string, opts ...ctxOption) context.Context {
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)
	ctx = utils.SetUserIdInContext(ctx, 7)
	ctx = utils.SetUserNameInContext(ctx, "cashier")
	ctx = utils.SetRoleInContext(ctx, string(UserRoleCustom))
	for _, o := range opts {
		ctx = o(ctx)
	}
	return ctx
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func intPtr(v int) *int { return &v }
