package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrLocationRequired       = errors.New("location is required for a sale with stock items")
	ErrForbiddenCrossLocation = errors.New("caller may not sell at a location other than their own")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrNotFound               = errors.New("record not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrNoValidItems           = errors.New("no valid items supplied")
	ErrProductNotFound        = errors.New("product not found")
	ErrLocationNotFound       = errors.New("location not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthenticated        = errors.New("caller identity is missing")
)

// InsufficientStockError names the line that failed the stock check.
type InsufficientStockError struct {
	ItemIndex  int
	ProductId  string
	LocationId int
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s at location %d: requested %s, available %s",
		e.ProductId, e.LocationId, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ValidationError is a rejected input field; it unwraps to its kind (ErrInvalidInput,
// ErrInvalidQuantity ...).
type ValidationError struct {
	Field  string
	Reason string
	Kind   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrInvalidInput
	}
	return e.Kind
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, Kind: ErrInvalidInput}
}

type ErrorKindType string

const (
	ErrorKindValidation    ErrorKindType = "validation"
	ErrorKindAuthorization ErrorKindType = "authorization"
	ErrorKindAvailability  ErrorKindType = "availability"
	ErrorKindNotFound      ErrorKindType = "not_found"
	ErrorKindStorage       ErrorKindType = "storage"
)

// ErrorCode is the stable code reported to API clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocationRequired):
		return "LOCATION_REQUIRED"
	case errors.Is(err, ErrForbiddenCrossLocation):
		return "FORBIDDEN_CROSS_LOCATION"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrInvalidQuantity):
		return "INVALID_QUANTITY"
	case errors.Is(err, ErrNoValidItems):
		return "NO_VALID_ITEMS"
	case errors.Is(err, ErrProductNotFound):
		return "PRODUCT_NOT_FOUND"
	case errors.Is(err, ErrLocationNotFound):
		return "LOCATION_NOT_FOUND"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	}
	return "INTERNAL"
}

func ErrorKind(err error) ErrorKindType {
	switch {
	case errors.Is(err, ErrForbiddenCrossLocation), errors.Is(err, ErrForbidden), errors.Is(err, ErrUnauthenticated):
		return ErrorKindAuthorization
	case errors.Is(err, ErrInsufficientStock):
		return ErrorKindAvailability
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLocationNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrLocationRequired), errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrNoValidItems), errors.Is(err, ErrInvalidInput):
		return ErrorKindValidation
	}
	return ErrorKindStorage
}
