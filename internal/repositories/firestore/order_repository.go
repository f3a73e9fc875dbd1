package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	pfirestore "github.com/MeltyDeays/AgroApp-sub000/internal/platform/firestore"
)

// OrderRepository persists orders in the "orders" collection.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

// List returns orders newest first. Filtering by owner together with state needs the
// composite index (ownerId, state, createdAt desc).
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.OwnerID != "" {
			q = q.Where("ownerId", "==", filter.OwnerID)
		}
		switch len(filter.States) {
		case 0:
		case 1:
			q = q.Where("state", "==", string(filter.States[0]))
		default:
			states := make([]string, 0, len(filter.States))
			for _, state := range filter.States {
				states = append(states, string(state))
			}
			q = q.Where("state", "in", states)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}
