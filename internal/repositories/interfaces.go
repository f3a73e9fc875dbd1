package repositories

import (
	"context"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Orders() OrderRepository
	Warehouses() WarehouseRepository
	Products() ProductRepository
	Transactor
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Transactor runs fn atomically against the store. All reads through tx must happen
// before the first write. Implementations may invoke fn more than once when the commit
// conflicts with a concurrent writer, so fn must confine its side effects to tx and to
// variables it resets on entry.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view over the documents the fulfillment workflows touch.
// Missing documents are reported as a RepositoryError with IsNotFound.
type Tx interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetWarehouse(ctx context.Context, warehouseID string) (domain.Warehouse, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	SetOrder(ctx context.Context, order domain.Order) error
	SetWarehouse(ctx context.Context, warehouse domain.Warehouse) error
}

// OrderRepository persists order documents outside transactions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

// WarehouseRepository persists warehouse documents. Balance changes go through Tx.
type WarehouseRepository interface {
	Insert(ctx context.Context, warehouse domain.Warehouse) error
	FindByID(ctx context.Context, warehouseID string) (domain.Warehouse, error)
	List(ctx context.Context) ([]domain.Warehouse, error)
}

// ProductRepository exposes the product catalog.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs returns the products that exist among ids; missing ids are omitted.
	FindByIDs(ctx context.Context, productIDs []string) ([]domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}
