package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
)

const productIDPrefix = "prd_"

// CatalogServiceDeps bundles the collaborators required to construct a catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Warehouses  repositories.WarehouseRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	warehouses repositories.WarehouseRepository
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Warehouses == nil {
		return nil, errors.New("catalog service: warehouse repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products:   deps.Products,
		warehouses: deps.Warehouses,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if cmd.UnitPrice.IsNegative() {
		return Product{}, fmt.Errorf("%w: unit price must not be negative", ErrCatalogInvalidInput)
	}
	if !cmd.PackageQuantity.IsPositive() {
		return Product{}, fmt.Errorf("%w: package quantity must be positive", ErrCatalogInvalidInput)
	}
	unit, err := domain.ParseUnit(cmd.PackageUnit)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	warehouseID := strings.TrimSpace(cmd.WarehouseID)
	if warehouseID == "" {
		return Product{}, fmt.Errorf("%w: warehouse id is required", ErrCatalogInvalidInput)
	}
	if _, err := s.warehouses.FindByID(ctx, warehouseID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Product{}, fmt.Errorf("%w: %s", ErrWarehouseNotFound, warehouseID)
		}
		return Product{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	product := Product{
		ID:              productIDPrefix + s.newID(),
		Name:            name,
		UnitPrice:       cmd.UnitPrice,
		PackageQuantity: cmd.PackageQuantity,
		PackageUnit:     unit,
		WarehouseID:     warehouseID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"product":   product.ID,
		"warehouse": warehouseID,
		"unit":      string(unit),
	})
	return product, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return products, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderTransactionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
