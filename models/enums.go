package models

type UserRole string

const (
	UserRoleAdmin  UserRole = "A"
	UserRoleOwner  UserRole = "O"
	UserRoleCustom UserRole = "C"
)

func (r UserRole) IsAdminTier() bool {
	return r == UserRoleAdmin || r == UserRoleOwner
}

// Permission strings carried in the caller's role.
const (
	PermissionSellAnyLocation = "pos:any_location"
	PermissionMoveStock       = "inventory:move"
	PermissionAll             = "*"
)

type StockHistoryType string

const (
	StockHistoryTypeIn      StockHistoryType = "IN"
	StockHistoryTypeOut     StockHistoryType = "OUT"
	StockHistoryTypeMoveIn  StockHistoryType = "MOVE_IN"
	StockHistoryTypeMoveOut StockHistoryType = "MOVE_OUT"
)

func (t StockHistoryType) IsValid() bool {
	switch t {
	case StockHistoryTypeIn, StockHistoryTypeOut, StockHistoryTypeMoveIn, StockHistoryTypeMoveOut:
		return true
	}
	return false
}

// ReferenceType links history and outbox rows to the document that caused them.
type ReferenceType string

const (
	ReferenceTypeSale       ReferenceType = "SALE"
	ReferenceTypeSaleReturn ReferenceType = "SALE_RETURN"
	ReferenceTypeStock      ReferenceType = "STOCK"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodCard     PaymentMethod = "CARD"
	PaymentMethodMobile   PaymentMethod = "MOBILE"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
	PaymentMethodCredit   PaymentMethod = "CREDIT"
)

func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobile, PaymentMethodTransfer, PaymentMethodCredit:
		return true
	}
	return false
}
