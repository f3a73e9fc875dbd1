package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
)

const (
	orderEventCreated   = "order.created"
	orderEventApproved  = "order.approved"
	orderEventRejected  = "order.rejected"
	orderEventCompleted = "order.completed"

	orderIDPrefix = "ord_"

	defaultRejectionReason = "Order rejected"
)

// Re-rejecting an already rejected order is allowed and replaces the reason.
var orderStateTransitions = map[domain.OrderState][]domain.OrderState{
	domain.OrderStatePending:  {domain.OrderStateApproved, domain.OrderStateRejected},
	domain.OrderStateApproved: {domain.OrderStateCompleted},
	domain.OrderStateRejected: {domain.OrderStateRejected},
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string
	OrderID       string
	OwnerID       string
	PreviousState string
	CurrentState  string
	ActorID       string
	OccurredAt    time.Time
	Metadata      map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Transactor  repositories.Transactor
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Meter       metric.Meter

	// StrictCatalog re-reads every referenced product inside the approval transaction
	// and aborts when one was deleted after the catalog snapshot was taken.
	StrictCatalog bool
	// ConflictRetries is how many extra times a conflicting approval, rejection or
	// completion is re-run from a fresh snapshot before the conflict is surfaced.
	ConflictRetries        int
	DefaultRejectionReason string
}

type orderService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	transactor    repositories.Transactor
	events        OrderEventPublisher
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
	telemetry     serviceTelemetry
	strictCatalog bool
	retries       int
	rejectReason  string
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Transactor == nil {
		return nil, errors.New("order service: transactor is required")
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

	reason := strings.TrimSpace(deps.DefaultRejectionReason)
	if reason == "" {
		reason = defaultRejectionReason
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		transactor: deps.Transactor,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		logger:        logger,
		telemetry:     newServiceTelemetry(deps.Meter),
		strictCatalog: deps.StrictCatalog,
		retries:       max(deps.ConflictRetries, 0),
		rejectReason:  reason,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" {
		return Order{}, fmt.Errorf("%w: owner id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	address := strings.TrimSpace(cmd.DeliveryAddress)
	if address == "" {
		return Order{}, fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
	}
	payment := strings.TrimSpace(cmd.PaymentMethod)
	if payment == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	ids := make([]string, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return Order{}, fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: items[%d].quantity must be positive", ErrOrderInvalidInput, i)
		}
		if !slices.Contains(ids, productID) {
			ids = append(ids, productID)
		}
	}

	ctx, span := startSpan(ctx, "orders.create", attribute.String("owner.id", ownerID))
	var err error
	defer func() { endSpan(span, err) }()

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		err = s.mapRepositoryError(err)
		return Order{}, err
	}
	byID := make(map[string]Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	items := make([]LineItem, 0, len(cmd.Items))
	total := decimal.Zero
	for _, input := range cmd.Items {
		productID := strings.TrimSpace(input.ProductID)
		product, ok := byID[productID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
			return Order{}, err
		}
		lineTotal := product.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity)))
		items = append(items, LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Quantity:  input.Quantity,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}

	now := s.now()
	order := Order{
		ID:              orderIDPrefix + s.newID(),
		OwnerID:         ownerID,
		OwnerName:       strings.TrimSpace(cmd.OwnerName),
		Items:           items,
		TotalAmount:     total,
		DeliveryAddress: address,
		PaymentMethod:   payment,
		PaymentDetail:   trimmedPointer(cmd.PaymentDetail),
		State:           domain.OrderStatePending,
		OwnerNotified:   true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err = s.orders.Insert(ctx, order); err != nil {
		err = s.mapRepositoryError(err)
		s.telemetry.record(ctx, "create", err)
		return Order{}, err
	}
	s.telemetry.record(ctx, "create", nil)

	s.logger(ctx, "order.created", map[string]any{
		"order": order.ID,
		"owner": ownerID,
		"items": len(items),
		"total": total.String(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:         orderEventCreated,
		OrderID:      order.ID,
		OwnerID:      ownerID,
		CurrentState: string(order.State),
		ActorID:      ownerID,
		OccurredAt:   now,
		Metadata: map[string]any{
			"total": total.String(),
			"items": len(items),
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	filter.OwnerID = strings.TrimSpace(filter.OwnerID)
	for _, state := range filter.States {
		if !state.Valid() {
			return nil, fmt.Errorf("%w: unknown state %q", ErrOrderInvalidInput, state)
		}
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrOrderInvalidInput)
	}
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// ApproveOrder debits every implicated warehouse and marks the order approved in one
// transaction. Debits are computed from the catalog before the transaction starts, so
// catalog integrity failures never open one. Insufficient stock in any warehouse
// aborts the whole approval with no balance changed.
func (s *orderService) ApproveOrder(ctx context.Context, cmd ApproveOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)

	ctx, span := startSpan(ctx, "orders.approve", attribute.String("order.id", orderID))
	var (
		approved Order
		previous domain.OrderState
		debits   WarehouseDebits
	)
	err := s.withConflictRetry(ctx, "approve", orderID, func() error {
		snapshot, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !canTransition(snapshot.State, domain.OrderStateApproved) {
			return invalidTransition(snapshot, domain.OrderStateApproved)
		}

		catalog := cmd.Catalog
		if catalog == nil {
			catalog, err = s.products.FindByIDs(ctx, snapshot.ProductIDs())
			if err != nil {
				return s.mapRepositoryError(err)
			}
		}
		debits, err = AggregateDebits(snapshot.Items, catalog)
		if err != nil {
			return err
		}

		return s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			order, err := tx.GetOrder(ctx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if !canTransition(order.State, domain.OrderStateApproved) {
				return invalidTransition(order, domain.OrderStateApproved)
			}
			if s.strictCatalog {
				if err := s.revalidateCatalog(ctx, tx, order); err != nil {
					return err
				}
			}

			now := s.now()
			ids := debits.WarehouseIDs()
			updated := make([]Warehouse, 0, len(ids))
			for _, id := range ids {
				warehouse, err := tx.GetWarehouse(ctx, id)
				if err != nil {
					return s.mapWarehouseError(err, id)
				}
				required := debits[id]
				balance := warehouse.Quantity.Sub(required)
				if balance.IsNegative() {
					return &InsufficientStockError{
						WarehouseID:   warehouse.ID,
						WarehouseName: warehouse.Name,
						Material:      warehouse.Material,
						Required:      required,
						Available:     warehouse.Quantity,
					}
				}
				warehouse.Quantity = balance
				warehouse.UpdatedAt = now
				updated = append(updated, warehouse)
			}

			for _, warehouse := range updated {
				if err := tx.SetWarehouse(ctx, warehouse); err != nil {
					return s.mapRepositoryError(err)
				}
			}

			previous = order.State
			order.State = domain.OrderStateApproved
			order.OwnerNotified = false
			order.ApprovedBy = actorID
			order.ApprovedAt = &now
			order.UpdatedAt = now
			if err := tx.SetOrder(ctx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			approved = order
			return nil
		})
	})
	s.telemetry.record(ctx, "approve", err)
	endSpan(span, err)
	if err != nil {
		s.logger(ctx, "order.approve.failed", map[string]any{
			"order": orderID,
			"actor": actorID,
			"error": err.Error(),
		})
		return Order{}, err
	}
	s.telemetry.recordDebits(ctx, debits)

	debited := make(map[string]any, len(debits))
	for id, kg := range debits {
		debited[id] = kg.String()
	}
	s.logger(ctx, "order.approved", map[string]any{
		"order":      approved.ID,
		"actor":      actorID,
		"warehouses": len(debits),
		"debitedKg":  debits.Total().String(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventApproved,
		OrderID:       approved.ID,
		OwnerID:       approved.OwnerID,
		PreviousState: string(previous),
		CurrentState:  string(approved.State),
		ActorID:       actorID,
		OccurredAt:    approved.UpdatedAt,
		Metadata:      map[string]any{"debitsKg": debited},
	})
	return approved, nil
}

// RejectOrder records the rejection and reason. Stock is never touched.
func (s *orderService) RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = s.rejectReason
	}

	ctx, span := startSpan(ctx, "orders.reject", attribute.String("order.id", orderID))
	var (
		rejected Order
		previous domain.OrderState
	)
	err := s.withConflictRetry(ctx, "reject", orderID, func() error {
		return s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			order, err := tx.GetOrder(ctx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if !canTransition(order.State, domain.OrderStateRejected) {
				return invalidTransition(order, domain.OrderStateRejected)
			}

			now := s.now()
			previous = order.State
			order.State = domain.OrderStateRejected
			order.RejectionReason = &reason
			order.OwnerNotified = false
			order.RejectedBy = actorID
			order.RejectedAt = &now
			order.UpdatedAt = now
			if err := tx.SetOrder(ctx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			rejected = order
			return nil
		})
	})
	s.telemetry.record(ctx, "reject", err)
	endSpan(span, err)
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.rejected", map[string]any{
		"order":  rejected.ID,
		"actor":  actorID,
		"reason": reason,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventRejected,
		OrderID:       rejected.ID,
		OwnerID:       rejected.OwnerID,
		PreviousState: string(previous),
		CurrentState:  string(rejected.State),
		ActorID:       actorID,
		OccurredAt:    rejected.UpdatedAt,
		Metadata:      map[string]any{"reason": reason},
	})
	return rejected, nil
}

// CompleteOrder lets the owner confirm receipt of an approved order.
func (s *orderService) CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	// An empty actor owns nothing and fails the ownership check like any other stranger.
	actorID := strings.TrimSpace(cmd.ActorID)

	ctx, span := startSpan(ctx, "orders.complete", attribute.String("order.id", orderID))
	var completed Order
	err := s.withConflictRetry(ctx, "complete", orderID, func() error {
		return s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			order, err := tx.GetOrder(ctx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if order.OwnerID != actorID {
				return fmt.Errorf("%w: order %s belongs to another user", ErrOrderPermissionDenied, orderID)
			}
			if !canTransition(order.State, domain.OrderStateCompleted) {
				return invalidTransition(order, domain.OrderStateCompleted)
			}

			now := s.now()
			order.State = domain.OrderStateCompleted
			order.CompletedAt = &now
			order.UpdatedAt = now
			if err := tx.SetOrder(ctx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			completed = order
			return nil
		})
	})
	s.telemetry.record(ctx, "complete", err)
	endSpan(span, err)
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.completed", map[string]any{
		"order": completed.ID,
		"actor": actorID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCompleted,
		OrderID:       completed.ID,
		OwnerID:       completed.OwnerID,
		PreviousState: string(domain.OrderStateApproved),
		CurrentState:  string(completed.State),
		ActorID:       actorID,
		OccurredAt:    completed.UpdatedAt,
	})
	return completed, nil
}

// AcknowledgeOrder marks the latest approval or rejection as seen by the owner.
func (s *orderService) AcknowledgeOrder(ctx context.Context, cmd AcknowledgeOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)

	var acknowledged Order
	err := s.withConflictRetry(ctx, "acknowledge", orderID, func() error {
		return s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			order, err := tx.GetOrder(ctx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if order.OwnerID != actorID {
				return fmt.Errorf("%w: order %s belongs to another user", ErrOrderPermissionDenied, orderID)
			}
			if order.OwnerNotified {
				acknowledged = order
				return nil
			}
			order.OwnerNotified = true
			order.UpdatedAt = s.now()
			if err := tx.SetOrder(ctx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			acknowledged = order
			return nil
		})
	})
	s.telemetry.record(ctx, "acknowledge", err)
	if err != nil {
		return Order{}, err
	}
	return acknowledged, nil
}

func (s *orderService) revalidateCatalog(ctx context.Context, tx repositories.Tx, order Order) error {
	for _, item := range order.Items {
		if _, err := tx.GetProduct(ctx, item.ProductID); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return fmt.Errorf("%w: %s", ErrOrderProductNotFound, lineDisplayName(item))
			}
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// withConflictRetry re-runs op from a fresh snapshot while it keeps losing to
// concurrent writers, up to the configured number of retries.
func (s *orderService) withConflictRetry(ctx context.Context, op, orderID string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsRetryable(err) || attempt >= s.retries || ctx.Err() != nil {
			return err
		}
		s.logger(ctx, "order.transaction.retry", map[string]any{
			"operation": op,
			"order":     orderID,
			"attempt":   attempt + 1,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context, repositories.Tx) error) error {
	err := s.transactor.RunInTx(ctx, fn)
	if err == nil {
		return nil
	}
	// A transaction deadline that is not the caller's own is treated as contention.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrOrderTransactionConflict, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderTransactionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) mapWarehouseError(err error, warehouseID string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrWarehouseNotFound, warehouseID)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
			"state": event.CurrentState,
		})
	}
}

func canTransition(from, to domain.OrderState) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

func invalidTransition(order Order, to domain.OrderState) error {
	return fmt.Errorf("%w: order %s is %s, cannot become %s", ErrOrderInvalidState, order.ID, order.State, to)
}

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
