// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	pfirestore "github.com/MeltyDeays/AgroApp-sub000/internal/platform/firestore"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/requestctx"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
)

// Registry exposes the Firestore repositories and transactions behind repositories.Registry.
type Registry struct {
	provider   *pfirestore.Provider
	orders     *pfirestore.Collection[orderDocument]
	warehouses *pfirestore.Collection[warehouseDocument]
	products   *pfirestore.Collection[productDocument]
}

// NewRegistry binds the collections to provider. The registry owns the provider and
// closes it on Close.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	return &Registry{
		provider:   provider,
		orders:     pfirestore.NewCollection[orderDocument](provider, ordersCollection, decodeOrder),
		warehouses: pfirestore.NewCollection[warehouseDocument](provider, warehousesCollection, decodeWarehouse),
		products:   pfirestore.NewCollection[productDocument](provider, productsCollection, decodeProduct),
	}, nil
}

var _ repositories.Registry = (*Registry)(nil)

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

// Ping checks connectivity with a single-document read.
func (r *Registry) Ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(warehousesCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("ping", err)
	}
	return nil
}

func (r *Registry) Orders() repositories.OrderRepository         { return &OrderRepository{orders: r.orders} }
func (r *Registry) Warehouses() repositories.WarehouseRepository { return &WarehouseRepository{warehouses: r.warehouses} }
func (r *Registry) Products() repositories.ProductRepository     { return &ProductRepository{products: r.products} }

// RunInTx implements repositories.Transactor on a Firestore transaction. Firestore
// re-runs fn when the commit is contended.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction function is nil")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &transaction{tx: tx, registry: r})
	}, pfirestore.WithTxName("fulfillment.tx"), pfirestore.WithTxRetryHook(logContention))
}

func logContention(ctx context.Context, attempt int) {
	requestctx.Logger(ctx).Debug("firestore transaction contended, re-running", zap.Int("retry", attempt))
}

type transaction struct {
	tx       *firestore.Transaction
	registry *Registry
}

func (t *transaction) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := txGet(ctx, t.tx, t.registry.orders, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (t *transaction) GetWarehouse(ctx context.Context, warehouseID string) (domain.Warehouse, error) {
	doc, err := txGet(ctx, t.tx, t.registry.warehouses, warehouseID)
	if err != nil {
		return domain.Warehouse{}, err
	}
	return doc.toDomain(), nil
}

func (t *transaction) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := txGet(ctx, t.tx, t.registry.products, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(), nil
}

func (t *transaction) SetOrder(ctx context.Context, order domain.Order) error {
	return txSet(ctx, t.tx, t.registry.orders, order.ID, newOrderDocument(order))
}

func (t *transaction) SetWarehouse(ctx context.Context, warehouse domain.Warehouse) error {
	return txSet(ctx, t.tx, t.registry.warehouses, warehouse.ID, newWarehouseDocument(warehouse))
}

func txGet[T any](ctx context.Context, tx *firestore.Transaction, coll *pfirestore.Collection[T], id string) (T, error) {
	var zero T
	ref, err := coll.Ref(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		return zero, pfirestore.WrapError(coll.Name()+".tx_get", err)
	}
	return coll.Decode(snap)
}

func txSet[T any](ctx context.Context, tx *firestore.Transaction, coll *pfirestore.Collection[T], id string, value T) error {
	ref, err := coll.Ref(ctx, id)
	if err != nil {
		return err
	}
	if err := tx.Set(ref, value); err != nil {
		return pfirestore.WrapError(coll.Name()+".tx_set", err)
	}
	return nil
}
