package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/auth"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/httpx"
	"github.com/MeltyDeays/AgroApp-sub000/internal/services"
)

const maxOrderListLimit = 200

var defaultApproverRoles = []string{auth.RoleStaff, auth.RoleAdmin}

// OrderHandlers exposes the order lifecycle to authenticated users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	approvers   []string
	middlewares []func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithApproverRoles overrides the roles allowed to approve, reject and list every order.
func WithApproverRoles(roles ...string) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if len(roles) > 0 {
			h.approvers = append([]string(nil), roles...)
		}
	}
}

// WithOrderMiddlewares adds middlewares that run after authentication, such as idempotency.
func WithOrderMiddlewares(mws ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		for _, mw := range mws {
			if mw != nil {
				h.middlewares = append(h.middlewares, mw)
			}
		}
	}
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		orders:    orders,
		approvers: defaultApproverRoles,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if len(h.middlewares) > 0 {
		r.Use(h.middlewares...)
	}
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:approve", h.approveOrder)
	r.Post("/{orderID}:reject", h.rejectOrder)
	r.Post("/{orderID}:complete", h.completeOrder)
	r.Post("/{orderID}:acknowledge", h.acknowledgeOrder)
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items           []createOrderItemRequest `json:"items"`
	DeliveryAddress string                   `json:"delivery_address"`
	PaymentMethod   string                   `json:"payment_method"`
	PaymentDetail   *string                  `json:"payment_detail,omitempty"`
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

type lineItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
}

type orderPayload struct {
	ID              string            `json:"id"`
	OwnerID         string            `json:"owner_id"`
	OwnerName       string            `json:"owner_name,omitempty"`
	State           string            `json:"state"`
	Items           []lineItemPayload `json:"items"`
	TotalAmount     string            `json:"total_amount"`
	DeliveryAddress string            `json:"delivery_address"`
	PaymentMethod   string            `json:"payment_method"`
	PaymentDetail   *string           `json:"payment_detail,omitempty"`
	RejectionReason *string           `json:"rejection_reason,omitempty"`
	OwnerNotified   bool              `json:"owner_notified"`
	ApprovedBy      string            `json:"approved_by,omitempty"`
	RejectedBy      string            `json:"rejected_by,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
	ApprovedAt      *string           `json:"approved_at,omitempty"`
	RejectedAt      *string           `json:"rejected_at,omitempty"`
	CompletedAt     *string           `json:"completed_at,omitempty"`
}

type orderListPayload struct {
	Items []orderPayload `json:"items"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		OwnerID:         identity.UID,
		OwnerName:       cleanText(identity.DisplayName()),
		Items:           items,
		DeliveryAddress: cleanText(req.DeliveryAddress),
		PaymentMethod:   cleanText(req.PaymentMethod),
		PaymentDetail:   cleanTextPointer(req.PaymentDetail),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := domain.OrderFilter{OwnerID: identity.UID}
	if identity.HasAnyRole(h.approvers...) {
		filter.OwnerID = strings.TrimSpace(query.Get("owner"))
	}

	for _, raw := range query["state"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			filter.States = append(filter.States, domain.OrderState(part))
		}
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		if limit > maxOrderListLimit {
			limit = maxOrderListLimit
		}
		filter.Limit = limit
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := orderListPayload{Items: make([]orderPayload, 0, len(orders))}
	for _, order := range orders {
		payload.Items = append(payload.Items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if order.OwnerID != identity.UID && !identity.HasAnyRole(h.approvers...) {
		writeServiceError(ctx, w, services.ErrOrderNotFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) approveOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepareApprover(w, r)
	if !ok {
		return
	}

	order, err := h.orders.ApproveOrder(ctx, services.ApproveOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepareApprover(w, r)
	if !ok {
		return
	}

	var req rejectOrderRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	order, err := h.orders.RejectOrder(ctx, services.RejectOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
		Reason:  cleanText(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(w, r)
	if !ok {
		return
	}

	order, err := h.orders.CompleteOrder(ctx, services.CompleteOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) acknowledgeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(w, r)
	if !ok {
		return
	}

	order, err := h.orders.AcknowledgeOrder(ctx, services.AcknowledgeOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) prepare(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := currentIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *OrderHandlers) prepareApprover(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := h.prepare(w, r)
	if !ok {
		return nil, false
	}
	if !identity.HasAnyRole(h.approvers...) {
		httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "approver role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]lineItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal.StringFixed(2),
		})
	}
	return orderPayload{
		ID:              order.ID,
		OwnerID:         order.OwnerID,
		OwnerName:       order.OwnerName,
		State:           string(order.State),
		Items:           items,
		TotalAmount:     order.TotalAmount.StringFixed(2),
		DeliveryAddress: order.DeliveryAddress,
		PaymentMethod:   order.PaymentMethod,
		PaymentDetail:   order.PaymentDetail,
		RejectionReason: order.RejectionReason,
		OwnerNotified:   order.OwnerNotified,
		ApprovedBy:      order.ApprovedBy,
		RejectedBy:      order.RejectedBy,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		ApprovedAt:      formatTimePointer(order.ApprovedAt),
		RejectedAt:      formatTimePointer(order.RejectedAt),
		CompletedAt:     formatTimePointer(order.CompletedAt),
	}
}
