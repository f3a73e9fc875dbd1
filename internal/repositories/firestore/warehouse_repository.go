package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	pfirestore "github.com/MeltyDeays/AgroApp-sub000/internal/platform/firestore"
)

// WarehouseRepository persists warehouses in the "warehouses" collection.
type WarehouseRepository struct {
	warehouses *pfirestore.Collection[warehouseDocument]
}

func (r *WarehouseRepository) Insert(ctx context.Context, warehouse domain.Warehouse) error {
	if warehouse.ID == "" {
		return errors.New("warehouse repository: warehouse id is required")
	}
	return r.warehouses.Create(ctx, warehouse.ID, newWarehouseDocument(warehouse))
}

func (r *WarehouseRepository) FindByID(ctx context.Context, warehouseID string) (domain.Warehouse, error) {
	doc, err := r.warehouses.Get(ctx, warehouseID)
	if err != nil {
		return domain.Warehouse{}, err
	}
	return doc.toDomain(), nil
}

func (r *WarehouseRepository) List(ctx context.Context) ([]domain.Warehouse, error) {
	docs, err := r.warehouses.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Warehouse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}
