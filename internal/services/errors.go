package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderProductNotFound indicates a line item references a product missing from the catalog.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderMissingWarehouseAssignment indicates a product has no source warehouse.
	ErrOrderMissingWarehouseAssignment = errors.New("order: product has no warehouse assignment")
	// ErrOrderUnsupportedUnit indicates a product is packaged in a unit outside the supported set.
	ErrOrderUnsupportedUnit = errors.New("order: unsupported package unit")
	// ErrOrderInsufficientStock indicates a warehouse cannot cover the requested debit.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderPermissionDenied indicates the actor may not perform the operation on the order.
	ErrOrderPermissionDenied = errors.New("order: permission denied")
	// ErrOrderInvalidState indicates an invalid state transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderTransactionConflict indicates a concurrent writer won; the operation may be retried.
	ErrOrderTransactionConflict = errors.New("order: transaction conflict")
	// ErrOrderUnavailable indicates the store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: store unavailable")

	// ErrWarehouseInvalidInput signals invalid warehouse data.
	ErrWarehouseInvalidInput = errors.New("warehouse: invalid input")
	// ErrWarehouseNotFound indicates a referenced warehouse does not exist.
	ErrWarehouseNotFound = errors.New("warehouse: not found")
	// ErrWarehouseCapacityExceeded indicates a deposit would overflow the warehouse.
	ErrWarehouseCapacityExceeded = errors.New("warehouse: capacity exceeded")

	// ErrCatalogInvalidInput signals invalid product data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the product could not be located.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
)

var displayPrinter = message.NewPrinter(language.English)

// InsufficientStockError reports the warehouse that blocked a debit. Required and
// Available are exact kilogram amounts; Error rounds them for display.
type InsufficientStockError struct {
	WarehouseID   string
	WarehouseName string
	Material      string
	Required      decimal.Decimal
	Available     decimal.Decimal
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	location := e.WarehouseName
	if location == "" {
		location = e.WarehouseID
	}
	return fmt.Sprintf("insufficient %s in %s: required %s kg, available %s kg",
		e.Material, location, FormatKilograms(e.Required), FormatKilograms(e.Available))
}

// Unwrap lets errors.Is match ErrOrderInsufficientStock.
func (e *InsufficientStockError) Unwrap() error { return ErrOrderInsufficientStock }

// FormatKilograms renders a kilogram amount rounded to a whole number with digit grouping.
func FormatKilograms(kg decimal.Decimal) string {
	return displayPrinter.Sprintf("%d", kg.Round(0).IntPart())
}

// IsRetryable reports whether err is a transient conflict the caller may retry unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOrderTransactionConflict)
}
