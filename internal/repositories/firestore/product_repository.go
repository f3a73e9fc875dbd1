package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	pfirestore "github.com/MeltyDeays/AgroApp-sub000/internal/platform/firestore"
)

// ProductRepository reads and writes the "products" catalog collection.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if product.ID == "" {
		return errors.New("product repository: product id is required")
	}
	return r.products.Create(ctx, product.ID, newProductDocument(product))
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(), nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	docs, err := r.products.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}
