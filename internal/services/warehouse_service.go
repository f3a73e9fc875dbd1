package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
)

const warehouseIDPrefix = "wh_"

// WarehouseServiceDeps bundles the collaborators required to construct a warehouse service.
type WarehouseServiceDeps struct {
	Warehouses  repositories.WarehouseRepository
	Transactor  repositories.Transactor
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Meter       metric.Meter
}

type warehouseService struct {
	repo       repositories.WarehouseRepository
	transactor repositories.Transactor
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	telemetry  serviceTelemetry
}

// NewWarehouseService wires dependencies into a concrete WarehouseService implementation.
func NewWarehouseService(deps WarehouseServiceDeps) (WarehouseService, error) {
	if deps.Warehouses == nil {
		return nil, errors.New("warehouse service: warehouse repository is required")
	}
	if deps.Transactor == nil {
		return nil, errors.New("warehouse service: transactor is required")
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

	return &warehouseService{
		repo:       deps.Warehouses,
		transactor: deps.Transactor,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		telemetry: newServiceTelemetry(deps.Meter),
	}, nil
}

func (s *warehouseService) CreateWarehouse(ctx context.Context, cmd CreateWarehouseCommand) (Warehouse, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Warehouse{}, fmt.Errorf("%w: name is required", ErrWarehouseInvalidInput)
	}
	material := strings.TrimSpace(cmd.Material)
	if material == "" {
		return Warehouse{}, fmt.Errorf("%w: material is required", ErrWarehouseInvalidInput)
	}
	capacity, err := toKilograms(cmd.Capacity, cmd.Unit)
	if err != nil {
		return Warehouse{}, err
	}
	if !capacity.IsPositive() {
		return Warehouse{}, fmt.Errorf("%w: capacity must be positive", ErrWarehouseInvalidInput)
	}

	now := s.clock()
	warehouse := Warehouse{
		ID:        warehouseIDPrefix + s.newID(),
		Name:      name,
		Material:  material,
		Capacity:  capacity,
		Quantity:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, warehouse); err != nil {
		return Warehouse{}, s.mapRepositoryError(err, warehouse.ID)
	}

	s.logger(ctx, "warehouse.created", map[string]any{
		"warehouse":  warehouse.ID,
		"material":   material,
		"capacityKg": capacity.String(),
	})
	return warehouse, nil
}

func (s *warehouseService) GetWarehouse(ctx context.Context, warehouseID string) (Warehouse, error) {
	warehouseID = strings.TrimSpace(warehouseID)
	if warehouseID == "" {
		return Warehouse{}, fmt.Errorf("%w: warehouse id is required", ErrWarehouseInvalidInput)
	}
	warehouse, err := s.repo.FindByID(ctx, warehouseID)
	if err != nil {
		return Warehouse{}, s.mapRepositoryError(err, warehouseID)
	}
	return warehouse, nil
}

func (s *warehouseService) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	warehouses, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err, "")
	}
	return warehouses, nil
}

// Deposit adds stock, refusing to exceed the warehouse capacity.
func (s *warehouseService) Deposit(ctx context.Context, cmd StockMovementCommand) (Warehouse, error) {
	return s.move(ctx, "deposit", cmd, func(w Warehouse, kg decimal.Decimal) (decimal.Decimal, error) {
		next := w.Quantity.Add(kg)
		if next.GreaterThan(w.Capacity) {
			return decimal.Zero, fmt.Errorf("%w: %s holds %s of %s kg", ErrWarehouseCapacityExceeded,
				w.Name, FormatKilograms(w.Quantity), FormatKilograms(w.Capacity))
		}
		return next, nil
	})
}

// Withdraw removes stock, refusing to go below zero.
func (s *warehouseService) Withdraw(ctx context.Context, cmd StockMovementCommand) (Warehouse, error) {
	return s.move(ctx, "withdraw", cmd, func(w Warehouse, kg decimal.Decimal) (decimal.Decimal, error) {
		next := w.Quantity.Sub(kg)
		if next.IsNegative() {
			return decimal.Zero, &InsufficientStockError{
				WarehouseID:   w.ID,
				WarehouseName: w.Name,
				Material:      w.Material,
				Required:      kg,
				Available:     w.Quantity,
			}
		}
		return next, nil
	})
}

func (s *warehouseService) move(ctx context.Context, op string, cmd StockMovementCommand, apply func(Warehouse, decimal.Decimal) (decimal.Decimal, error)) (Warehouse, error) {
	warehouseID := strings.TrimSpace(cmd.WarehouseID)
	if warehouseID == "" {
		return Warehouse{}, fmt.Errorf("%w: warehouse id is required", ErrWarehouseInvalidInput)
	}
	kg, err := toKilograms(cmd.Quantity, cmd.Unit)
	if err != nil {
		return Warehouse{}, err
	}
	if !kg.IsPositive() {
		return Warehouse{}, fmt.Errorf("%w: quantity must be positive", ErrWarehouseInvalidInput)
	}

	ctx, span := startSpan(ctx, "warehouses."+op, attribute.String("warehouse.id", warehouseID))
	var updated Warehouse
	err = s.transactor.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		warehouse, err := tx.GetWarehouse(ctx, warehouseID)
		if err != nil {
			return s.mapRepositoryError(err, warehouseID)
		}
		next, err := apply(warehouse, kg)
		if err != nil {
			return err
		}
		warehouse.Quantity = next
		warehouse.UpdatedAt = s.clock()
		if err := tx.SetWarehouse(ctx, warehouse); err != nil {
			return s.mapRepositoryError(err, warehouseID)
		}
		updated = warehouse
		return nil
	})
	err = s.mapRepositoryError(err, warehouseID)
	s.telemetry.record(ctx, op, err)
	endSpan(span, err)
	if err != nil {
		return Warehouse{}, err
	}

	s.logger(ctx, "warehouse."+op, map[string]any{
		"warehouse":  warehouseID,
		"actor":      strings.TrimSpace(cmd.ActorID),
		"amountKg":   kg.String(),
		"quantityKg": updated.Quantity.String(),
	})
	return updated, nil
}

func (s *warehouseService) mapRepositoryError(err error, warehouseID string) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrWarehouseNotFound, warehouseID)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderTransactionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

// toKilograms parses unit strictly; unknown units are rejected rather than passed through.
func toKilograms(quantity decimal.Decimal, rawUnit string) (decimal.Decimal, error) {
	if quantity.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: quantity must not be negative", ErrWarehouseInvalidInput)
	}
	unit := domain.UnitKilograms
	if strings.TrimSpace(rawUnit) != "" {
		parsed, err := domain.ParseUnit(rawUnit)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrWarehouseInvalidInput, err)
		}
		unit = parsed
	}
	return domain.ToCanonicalKilograms(quantity, unit), nil
}
