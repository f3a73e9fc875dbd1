package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState enumerates valid lifecycle states for orders.
type OrderState string

const (
	// OrderStatePending indicates the order awaits an approval decision.
	OrderStatePending OrderState = "pending"
	// OrderStateApproved indicates stock was debited and the order awaits pickup or delivery.
	OrderStateApproved OrderState = "approved"
	// OrderStateCompleted indicates the owner confirmed receipt.
	OrderStateCompleted OrderState = "completed"
	// OrderStateRejected indicates the order was declined without touching stock.
	OrderStateRejected OrderState = "rejected"
)

// Valid reports whether the state belongs to the closed set.
func (s OrderState) Valid() bool {
	switch s {
	case OrderStatePending, OrderStateApproved, OrderStateCompleted, OrderStateRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	return s == OrderStateCompleted || s == OrderStateRejected
}

// Order captures an order header together with its immutable line items.
type Order struct {
	ID              string
	OwnerID         string
	OwnerName       string
	Items           []LineItem
	TotalAmount     decimal.Decimal
	DeliveryAddress string
	PaymentMethod   string
	PaymentDetail   *string
	State           OrderState
	RejectionReason *string
	OwnerNotified   bool
	ApprovedBy      string
	RejectedBy      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	CompletedAt     *time.Time
}

// ProductIDs returns the distinct product identifiers referenced by the order in line order.
func (o Order) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// LineItem is the snapshot of a product taken when the order was placed.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// Warehouse holds a single material measured in kilograms.
type Warehouse struct {
	ID        string
	Name      string
	Material  string
	Capacity  decimal.Decimal
	Quantity  decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is a sellable package drawn from one warehouse.
type Product struct {
	ID              string
	Name            string
	UnitPrice       decimal.Decimal
	PackageQuantity decimal.Decimal
	PackageUnit     Unit
	WarehouseID     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	OwnerID string
	States  []OrderState
	Limit   int
}
