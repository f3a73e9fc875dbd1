// Package memory provides an in-process implementation of the repositories with
// optimistic transactions. It backs the test suites and FARM_STORE_BACKEND=memory.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
)

const (
	defaultMaxAttempts = 5

	ordersCollection     = "orders"
	warehousesCollection = "warehouses"
	productsCollection   = "products"
)

var errReadAfterWrite = errors.New("memory: transaction reads must precede writes")

type record[T any] struct {
	value   T
	version uint64
}

type docKey struct {
	collection string
	id         string
}

// Store keeps documents in maps guarded by a single mutex. Every document carries a
// version; a transaction commits only if none of the documents it read changed since.
type Store struct {
	mu         sync.Mutex
	orders     map[string]record[domain.Order]
	warehouses map[string]record[domain.Warehouse]
	products   map[string]record[domain.Product]
	seq        uint64

	maxAttempts  int
	beforeCommit func(attempt int)
}

// Option customises the Store.
type Option func(*Store)

// WithMaxAttempts bounds how often a conflicting transaction function is re-run.
func WithMaxAttempts(attempts int) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithBeforeCommit installs a hook invoked after the transaction function returns and
// before the commit is validated. Tests use it to interleave competing writers.
func WithBeforeCommit(hook func(attempt int)) Option {
	return func(s *Store) {
		s.beforeCommit = hook
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		orders:      make(map[string]record[domain.Order]),
		warehouses:  make(map[string]record[domain.Warehouse]),
		products:    make(map[string]record[domain.Product]),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ repositories.Registry = (*Store)(nil)

func (s *Store) Close(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error  { return nil }

func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{s} }
func (s *Store) Warehouses() repositories.WarehouseRepository { return warehouseRepository{s} }
func (s *Store) Products() repositories.ProductRepository     { return productRepository{s} }

// RunInTx implements repositories.Transactor.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{
			store:      s,
			reads:      make(map[docKey]uint64),
			orders:     make(map[string]domain.Order),
			warehouses: make(map[string]domain.Warehouse),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit(attempt)
		}
		err := s.commit(tx)
		if err == nil {
			return nil
		}
		if attempt >= s.maxAttempts {
			return err
		}
	}
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.versionLocked(key) != seen {
			return repositories.NewConflictError("memory.commit", key.collection+"/"+key.id+" changed during transaction")
		}
	}
	for id, order := range tx.orders {
		s.orders[id] = record[domain.Order]{value: order, version: s.nextVersionLocked()}
	}
	for id, warehouse := range tx.warehouses {
		s.warehouses[id] = record[domain.Warehouse]{value: warehouse, version: s.nextVersionLocked()}
	}
	return nil
}

// nextVersionLocked hands out store-wide increasing versions so a deleted and
// re-created document never repeats a version a transaction observed.
func (s *Store) nextVersionLocked() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) versionLocked(key docKey) uint64 {
	switch key.collection {
	case ordersCollection:
		return s.orders[key.id].version
	case warehousesCollection:
		return s.warehouses[key.id].version
	case productsCollection:
		return s.products[key.id].version
	}
	return 0
}

type memTx struct {
	store      *Store
	reads      map[docKey]uint64
	orders     map[string]domain.Order
	warehouses map[string]domain.Warehouse
	wrote      bool
}

func (t *memTx) GetOrder(_ context.Context, id string) (domain.Order, error) {
	if t.wrote {
		return domain.Order{}, errReadAfterWrite
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rec, ok := t.store.orders[id]
	t.reads[docKey{ordersCollection, id}] = rec.version
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("memory.tx.get", ordersCollection, id)
	}
	return cloneOrder(rec.value), nil
}

func (t *memTx) GetWarehouse(_ context.Context, id string) (domain.Warehouse, error) {
	if t.wrote {
		return domain.Warehouse{}, errReadAfterWrite
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rec, ok := t.store.warehouses[id]
	t.reads[docKey{warehousesCollection, id}] = rec.version
	if !ok {
		return domain.Warehouse{}, repositories.NewNotFoundError("memory.tx.get", warehousesCollection, id)
	}
	return rec.value, nil
}

func (t *memTx) GetProduct(_ context.Context, id string) (domain.Product, error) {
	if t.wrote {
		return domain.Product{}, errReadAfterWrite
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rec, ok := t.store.products[id]
	t.reads[docKey{productsCollection, id}] = rec.version
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("memory.tx.get", productsCollection, id)
	}
	return rec.value, nil
}

func (t *memTx) SetOrder(_ context.Context, order domain.Order) error {
	if order.ID == "" {
		return errors.New("memory: order id is required")
	}
	t.wrote = true
	t.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *memTx) SetWarehouse(_ context.Context, warehouse domain.Warehouse) error {
	if warehouse.ID == "" {
		return errors.New("memory: warehouse id is required")
	}
	t.wrote = true
	t.warehouses[warehouse.ID] = warehouse
	return nil
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.NewConflictError("memory.orders.insert", "order "+order.ID+" already exists")
	}
	r.s.orders[order.ID] = record[domain.Order]{value: cloneOrder(order), version: r.s.nextVersionLocked()}
	return nil
}

func (r orderRepository) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("memory.orders.get", ordersCollection, id)
	}
	return cloneOrder(rec.value), nil
}

func (r orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	states := make(map[domain.OrderState]struct{}, len(filter.States))
	for _, state := range filter.States {
		states[state] = struct{}{}
	}

	r.s.mu.Lock()
	out := make([]domain.Order, 0, len(r.s.orders))
	for _, rec := range r.s.orders {
		if filter.OwnerID != "" && rec.value.OwnerID != filter.OwnerID {
			continue
		}
		if len(states) > 0 {
			if _, ok := states[rec.value.State]; !ok {
				continue
			}
		}
		out = append(out, cloneOrder(rec.value))
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type warehouseRepository struct{ s *Store }

func (r warehouseRepository) Insert(_ context.Context, warehouse domain.Warehouse) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.warehouses[warehouse.ID]; exists {
		return repositories.NewConflictError("memory.warehouses.insert", "warehouse "+warehouse.ID+" already exists")
	}
	r.s.warehouses[warehouse.ID] = record[domain.Warehouse]{value: warehouse, version: r.s.nextVersionLocked()}
	return nil
}

func (r warehouseRepository) FindByID(_ context.Context, id string) (domain.Warehouse, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.warehouses[id]
	if !ok {
		return domain.Warehouse{}, repositories.NewNotFoundError("memory.warehouses.get", warehousesCollection, id)
	}
	return rec.value, nil
}

func (r warehouseRepository) List(context.Context) ([]domain.Warehouse, error) {
	r.s.mu.Lock()
	out := make([]domain.Warehouse, 0, len(r.s.warehouses))
	for _, rec := range r.s.warehouses {
		out = append(out, rec.value)
	}
	r.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type productRepository struct{ s *Store }

func (r productRepository) Insert(_ context.Context, product domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.products[product.ID]; exists {
		return repositories.NewConflictError("memory.products.insert", "product "+product.ID+" already exists")
	}
	r.s.products[product.ID] = record[domain.Product]{value: product, version: r.s.nextVersionLocked()}
	return nil
}

func (r productRepository) FindByID(_ context.Context, id string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.products[id]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("memory.products.get", productsCollection, id)
	}
	return rec.value, nil
}

func (r productRepository) FindByIDs(_ context.Context, ids []string) ([]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.s.products[id]; ok {
			out = append(out, rec.value)
		}
	}
	return out, nil
}

func (r productRepository) List(context.Context) ([]domain.Product, error) {
	r.s.mu.Lock()
	out := make([]domain.Product, 0, len(r.s.products))
	for _, rec := range r.s.products {
		out = append(out, rec.value)
	}
	r.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteProduct removes a product from the catalog. The product repository does not
// expose deletion; tests use this to simulate catalog edits racing an approval.
func (s *Store) DeleteProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	if order.Items != nil {
		out.Items = append([]domain.LineItem(nil), order.Items...)
	}
	out.PaymentDetail = clonePtr(order.PaymentDetail)
	out.RejectionReason = clonePtr(order.RejectionReason)
	out.ApprovedAt = clonePtr(order.ApprovedAt)
	out.RejectedAt = clonePtr(order.RejectedAt)
	out.CompletedAt = clonePtr(order.CompletedAt)
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	copied := *v
	return &copied
}
