package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmdatafocus/pos_backend/appctx"
	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/mmdatafocus/pos_backend/models")

type Sale struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:64;index;not null" json:"business_id"`
	LocationId    *int            `gorm:"index" json:"location_id"`
	CustomerId    *int            `gorm:"index" json:"customer_id"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	UserId        int             `gorm:"index;not null" json:"user_id"`
	UserName      string          `gorm:"size:100" json:"user_name"`
	IsProforma    bool            `gorm:"not null;default:false" json:"is_proforma"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"subtotal"`
	Vat           decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"vat"`
	DeliveryFee   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"delivery_fee"`
	Total         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total"`
	Particulars   string          `gorm:"type:text" json:"particulars"`
	Items         []SaleItem      `gorm:"foreignKey:SaleId;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaleItem is one line. Price and IsService are snapshots taken when the line was written.
type SaleItem struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	SaleId     int             `gorm:"index;not null" json:"sale_id"`
	BusinessId string          `gorm:"size:64;index;not null" json:"business_id"`
	LineNo     int             `gorm:"not null" json:"line_no"`
	ProductId  string          `gorm:"size:64;index;not null" json:"product_id"`
	Name       string          `gorm:"size:255" json:"name"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	LineTotal  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
	IsService  bool            `gorm:"not null;default:false" json:"is_service"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewSale struct {
	Items         []NewSaleItem    `json:"items" validate:"required,min=1,dive"`
	Total         *decimal.Decimal `json:"total" validate:"omitempty,gte=0"`
	CustomerId    *int             `json:"customer_id"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	LocationId    *int             `json:"location_id"`
	IsProforma    bool             `json:"is_proforma"`
	DeliveryFee   decimal.Decimal  `json:"delivery_fee" validate:"gte=0"`
	Particulars   string           `json:"particulars"`
}

type NewSaleItem struct {
	ProductId string          `json:"product_id" validate:"required,max=64"`
	Name      string          `json:"name" validate:"max=255"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	IsService bool            `json:"is_service"`
}

// Sellable is what a sale line points at.
type Sellable interface {
	SellableID() string
	UnitPrice() decimal.Decimal
	DisplayName() string
}

// LineTarget is either a physicalProduct (stock-backed) or a serviceProduct.
type LineTarget interface {
	Sellable
	tracksStock() bool
}

type physicalProduct struct {
	product Product
	price   decimal.Decimal
}

func (p physicalProduct) SellableID() string         { return p.product.ID }
func (p physicalProduct) UnitPrice() decimal.Decimal { return p.price }
func (p physicalProduct) DisplayName() string        { return p.product.Name }
func (p physicalProduct) tracksStock() bool          { return true }

type serviceProduct struct {
	id        string
	name      string
	price     decimal.Decimal
	inCatalog bool
}

func (s serviceProduct) SellableID() string         { return s.id }
func (s serviceProduct) UnitPrice() decimal.Decimal { return s.price }
func (s serviceProduct) DisplayName() string        { return s.name }
func (s serviceProduct) tracksStock() bool          { return false }

// classifySaleItems resolves every line against the catalog. The catalog decides whether a
// known product is a service; unknown ids are accepted only as services.
func classifySaleItems(tx *gorm.DB, businessId string, items []NewSaleItem) ([]LineTarget, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductId)
	}
	products, err := fetchProducts(tx, businessId, ids)
	if err != nil {
		return nil, err
	}

	targets := make([]LineTarget, len(items))
	for i, item := range items {
		p, known := products[item.ProductId]
		switch {
		case known && !p.IsService:
			targets[i] = physicalProduct{product: p, price: item.Price}
		case known:
			targets[i] = serviceProduct{id: p.ID, name: firstNonEmpty(item.Name, p.Name), price: item.Price, inCatalog: true}
		case item.IsService:
			targets[i] = serviceProduct{id: item.ProductId, name: firstNonEmpty(item.Name, item.ProductId), price: item.Price}
		default:
			return nil, &ValidationError{
				Field:  fmt.Sprintf("items[%d].product_id", i),
				Reason: fmt.Sprintf("product %s does not exist", item.ProductId),
				Kind:   ErrProductNotFound,
			}
		}
	}
	return targets, nil
}

type stockDemand struct {
	productId string
	firstItem int
	quantity  decimal.Decimal
}

// physicalDemand sums requested quantity per product, ordered by product id so every
// transaction takes row locks in the same order.
func physicalDemand(targets []LineTarget, items []NewSaleItem) []stockDemand {
	byProduct := make(map[string]*stockDemand)
	for i, t := range targets {
		if !t.tracksStock() {
			continue
		}
		d, ok := byProduct[t.SellableID()]
		if !ok {
			d = &stockDemand{productId: t.SellableID(), firstItem: i, quantity: decimal.Zero}
			byProduct[t.SellableID()] = d
		}
		d.quantity = d.quantity.Add(items[i].Quantity)
	}
	out := make([]stockDemand, 0, len(byProduct))
	for _, d := range byProduct {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productId < out[j].productId })
	return out
}

func validateNewSale(input *NewSale) error {
	if input == nil {
		return invalid("", "sale input is required")
	}
	if err := validateStruct(input); err != nil {
		return err
	}
	if input.PaymentMethod != "" && !input.PaymentMethod.IsValid() {
		return invalid("payment_method", fmt.Sprintf("unknown payment method %q", input.PaymentMethod))
	}
	return nil
}

func validateStruct(s interface{}) error {
	if err := utils.ValidateStruct(s); err != nil {
		return validationFailure(err)
	}
	return nil
}

// validationFailure converts validator output into a ValidationError; quantity failures
// carry ErrInvalidQuantity.
func validationFailure(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return invalid("", err.Error())
	}
	fe := ve[0]
	kind := ErrInvalidInput
	if fe.Field() == "quantity" {
		kind = ErrInvalidQuantity
	}
	return &ValidationError{Field: trimNamespace(fe.Namespace()), Reason: utils.DescribeValidationError(err), Kind: kind}
}

// CreateSale records a sale and its ledger effects in one transaction.
func CreateSale(ctx context.Context, input *NewSale) (*Sale, error) {
	ctx, span := tracer.Start(ctx, "models.CreateSale")
	defer span.End()

	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateNewSale(input); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("business_id", caller.BusinessId),
		attribute.Int("item_count", len(input.Items)),
		attribute.Bool("is_proforma", input.IsProforma),
	)

	logger := config.GetLogger()
	tx := config.GetDB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	sale, err := createSaleTx(ctx, tx, caller, input)
	if err != nil {
		tx.Rollback()
		failSpan(span, err)
		if ErrorKind(err) == ErrorKindStorage {
			config.LogError(logger, "models", "CreateSale", "create sale", input, err)
		}
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		failSpan(span, err)
		config.LogError(logger, "models", "CreateSale", "commit", input, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("sale_id", sale.ID))
	return sale, nil
}

func createSaleTx(ctx context.Context, tx *gorm.DB, caller *Caller, input *NewSale) (*Sale, error) {
	logger := config.GetLogger()
	businessId := caller.BusinessId

	targets, err := classifySaleItems(tx, businessId, input.Items)
	if err != nil {
		return nil, err
	}
	demand := physicalDemand(targets, input.Items)

	locationId := input.LocationId
	if locationId == nil {
		locationId = caller.DefaultLocationId
	}
	if len(demand) > 0 && locationId == nil && !input.IsProforma {
		return nil, ErrLocationRequired
	}
	if err := caller.authorizeSaleLocation(locationId); err != nil {
		return nil, err
	}
	if input.LocationId != nil {
		if err := ensureLocation(tx, businessId, *input.LocationId); err != nil {
			return nil, err
		}
	}

	moveStock := !input.IsProforma && locationId != nil && len(demand) > 0
	if moveStock {
		for _, d := range demand {
			key := StockKey{BusinessId: businessId, ProductId: d.productId, LocationId: *locationId}
			ok, available, err := CheckStockAvailable(tx, key, d.quantity)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &InsufficientStockError{
					ItemIndex:  d.firstItem,
					ProductId:  d.productId,
					LocationId: *locationId,
					Requested:  d.quantity,
					Available:  available,
				}
			}
		}
	}

	business, err := getBusiness(ctx, tx, businessId)
	if err != nil {
		return nil, err
	}

	paymentMethod := input.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = PaymentMethodCash
	}
	sale := Sale{
		BusinessId:    businessId,
		LocationId:    locationId,
		CustomerId:    input.CustomerId,
		PaymentMethod: paymentMethod,
		UserId:        caller.UserId,
		UserName:      caller.UserName,
		IsProforma:    input.IsProforma,
		DeliveryFee:   input.DeliveryFee,
		Particulars:   input.Particulars,
	}
	items := buildSaleItems(businessId, targets, input.Items)
	sale.Subtotal, sale.Vat, sale.Total = computeSaleTotals(items, business, input.DeliveryFee)
	if input.Total != nil {
		sale.Total = *input.Total
	}
	if err := tx.Omit("Items").Create(&sale).Error; err != nil {
		return nil, fmt.Errorf("insert sale header: %w", err)
	}

	placed := make(map[string]bool)
	for i := range items {
		if s, ok := targets[i].(serviceProduct); ok && !s.inCatalog && !placed[s.id] {
			if err := upsertServicePlaceholder(tx, businessId, s); err != nil {
				config.LogError(logger, "models", "CreateSale", fmt.Sprintf("service placeholder for item %d", i), input.Items[i], err)
				return nil, fmt.Errorf("service placeholder %s: %w", s.id, err)
			}
			placed[s.id] = true
		}
		items[i].SaleId = sale.ID
		if err := tx.Create(&items[i]).Error; err != nil {
			config.LogError(logger, "models", "CreateSale", fmt.Sprintf("insert item %d", i), items[i], err)
			return nil, fmt.Errorf("insert sale item %d: %w", i, err)
		}
	}

	if moveStock {
		meta := StockMeta{ReferenceType: ReferenceTypeSale, ReferenceId: sale.ID}
		for i, t := range targets {
			if !t.tracksStock() {
				continue
			}
			key := StockKey{BusinessId: businessId, ProductId: t.SellableID(), LocationId: *locationId}
			if _, err := DecrementStock(tx, key, items[i].Quantity, meta); err != nil {
				return nil, fmt.Errorf("decrement stock for item %d: %w", i, err)
			}
		}
		for _, d := range demand {
			if err := recordSaleDraw(tx, &sale, d.productId, d.quantity); err != nil {
				return nil, err
			}
			if _, err := RecomputeProductStock(tx, businessId, d.productId); err != nil {
				return nil, fmt.Errorf("recompute stock %s: %w", d.productId, err)
			}
		}
	}

	sale.Items = items
	if err := publishPosEvent(ctx, tx, businessId, EventSaleCreated, ReferenceTypeSale, sale.ID, PubSubMessageActionCreate, sale); err != nil {
		return nil, fmt.Errorf("queue sale event: %w", err)
	}
	createHistory(tx, businessId, HistoryActionCreate, sale.ID, ReferenceTypeSale, nil, sale,
		fmt.Sprintf("Sale created with %d item(s), total %s.", len(items), sale.Total.String()))
	return &sale, nil
}

func buildSaleItems(businessId string, targets []LineTarget, input []NewSaleItem) []SaleItem {
	items := make([]SaleItem, len(targets))
	for i, t := range targets {
		qty := input[i].Quantity
		items[i] = SaleItem{
			ID:         uuid.NewString(),
			BusinessId: businessId,
			LineNo:     i + 1,
			ProductId:  t.SellableID(),
			Name:       t.DisplayName(),
			Quantity:   qty,
			Price:      t.UnitPrice(),
			LineTotal:  t.UnitPrice().Mul(qty),
			IsService:  !t.tracksStock(),
		}
	}
	return items
}

// computeSaleTotals returns subtotal (sum of line totals), VAT on the subtotal, and
// subtotal + VAT + delivery fee.
func computeSaleTotals(items []SaleItem, business *Business, deliveryFee decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	vat := business.vatFor(subtotal)
	return subtotal, vat, subtotal.Add(vat).Add(deliveryFee)
}

// GetSale loads a sale with its lines, scoped to the caller's business unless super-admin.
func GetSale(ctx context.Context, saleId int) (*Sale, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var sale Sale
	q := config.GetDB().WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_no ASC")
	})
	if !caller.IsSuperAdmin {
		q = q.Where("business_id = ?", caller.BusinessId)
	}
	err = q.Where("id = ?", saleId).First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("sale %d: %w", saleId, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// lockSale reads the sale row FOR UPDATE without tenant filtering; callers check ownership.
func lockSale(tx *gorm.DB, saleId int) (*Sale, error) {
	var sale Sale
	unscoped := tx.WithContext(appctx.Set(tx.Statement.Context, appctx.ContextKeySkipTenantScope, true))
	err := unscoped.Clauses(lockingUpdate).Where("id = ?", saleId).Take(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("sale %d: %w", saleId, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, ErrorCode(err))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func trimNamespace(ns string) string {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return ns
}
