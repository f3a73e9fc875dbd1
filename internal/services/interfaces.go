package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order       = domain.Order
	OrderState  = domain.OrderState
	OrderFilter = domain.OrderFilter
	LineItem    = domain.LineItem
	Warehouse   = domain.Warehouse
	Product     = domain.Product
	Unit        = domain.Unit
)

// OrderService drives the order lifecycle: placement, approval with stock debit,
// rejection, completion by the owner, and owner acknowledgement of updates.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	ApproveOrder(ctx context.Context, cmd ApproveOrderCommand) (Order, error)
	RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error)
	CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (Order, error)
	AcknowledgeOrder(ctx context.Context, cmd AcknowledgeOrderCommand) (Order, error)
}

// WarehouseService manages storage locations and manual stock movements.
type WarehouseService interface {
	CreateWarehouse(ctx context.Context, cmd CreateWarehouseCommand) (Warehouse, error)
	GetWarehouse(ctx context.Context, warehouseID string) (Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	Deposit(ctx context.Context, cmd StockMovementCommand) (Warehouse, error)
	Withdraw(ctx context.Context, cmd StockMovementCommand) (Warehouse, error)
}

// CatalogService manages the products customers order.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// OrderItemInput is one requested line when placing an order.
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderCommand struct {
	OwnerID         string
	OwnerName       string
	Items           []OrderItemInput
	DeliveryAddress string
	PaymentMethod   string
	PaymentDetail   *string
}

// ApproveOrderCommand approves a pending order. Catalog, when non-nil, is the product
// snapshot used to compute debits; otherwise the referenced products are loaded.
type ApproveOrderCommand struct {
	OrderID string
	ActorID string
	Catalog []Product
}

type RejectOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type CompleteOrderCommand struct {
	OrderID string
	ActorID string
}

type AcknowledgeOrderCommand struct {
	OrderID string
	ActorID string
}

type CreateWarehouseCommand struct {
	Name     string
	Material string
	Capacity decimal.Decimal
	Unit     string
}

// StockMovementCommand moves Quantity expressed in Unit into or out of a warehouse.
type StockMovementCommand struct {
	WarehouseID string
	ActorID     string
	Quantity    decimal.Decimal
	Unit        string
}

type CreateProductCommand struct {
	Name            string
	UnitPrice       decimal.Decimal
	PackageQuantity decimal.Decimal
	PackageUnit     string
	WarehouseID     string
}
