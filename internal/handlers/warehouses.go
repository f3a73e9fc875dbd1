package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/auth"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/httpx"
	"github.com/MeltyDeays/AgroApp-sub000/internal/services"
)

// WarehouseHandlers exposes storage locations to staff and admins.
type WarehouseHandlers struct {
	authn      *auth.Authenticator
	warehouses services.WarehouseService
	staffRoles []string
}

// NewWarehouseHandlers constructs warehouse handlers. staffRoles defaults to staff and admin.
func NewWarehouseHandlers(authn *auth.Authenticator, warehouses services.WarehouseService, staffRoles ...string) *WarehouseHandlers {
	if len(staffRoles) == 0 {
		staffRoles = defaultApproverRoles
	}
	return &WarehouseHandlers{authn: authn, warehouses: warehouses, staffRoles: staffRoles}
}

// Routes registers the /warehouses endpoints.
func (h *WarehouseHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(h.staffRoles...))
	}
	r.Get("/", h.listWarehouses)
	r.Post("/", h.createWarehouse)
	r.Get("/{warehouseID}", h.getWarehouse)
	r.Post("/{warehouseID}:deposit", h.deposit)
	r.Post("/{warehouseID}:withdraw", h.withdraw)
}

type createWarehouseRequest struct {
	Name     string          `json:"name"`
	Material string          `json:"material"`
	Capacity decimal.Decimal `json:"capacity"`
	Unit     string          `json:"unit"`
}

type stockMovementRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

type warehousePayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Material   string `json:"material"`
	CapacityKg string `json:"capacity_kg"`
	QuantityKg string `json:"quantity_kg"`
	Display    string `json:"display"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (h *WarehouseHandlers) listWarehouses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	warehouses, err := h.warehouses.ListWarehouses(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]warehousePayload, 0, len(warehouses))
	for _, warehouse := range warehouses {
		items = append(items, buildWarehousePayload(warehouse))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *WarehouseHandlers) createWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	var req createWarehouseRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	warehouse, err := h.warehouses.CreateWarehouse(ctx, services.CreateWarehouseCommand{
		Name:     cleanText(req.Name),
		Material: cleanText(req.Material),
		Capacity: req.Capacity,
		Unit:     req.Unit,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildWarehousePayload(warehouse))
}

func (h *WarehouseHandlers) getWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	warehouse, err := h.warehouses.GetWarehouse(ctx, chi.URLParam(r, "warehouseID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWarehousePayload(warehouse))
}

func (h *WarehouseHandlers) deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, false)
}

func (h *WarehouseHandlers) withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, true)
}

func (h *WarehouseHandlers) move(w http.ResponseWriter, r *http.Request, withdraw bool) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	var req stockMovementRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	actor := ""
	if identity, ok := currentIdentity(r); ok {
		actor = identity.UID
	}
	cmd := services.StockMovementCommand{
		WarehouseID: chi.URLParam(r, "warehouseID"),
		ActorID:     actor,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
	}
	var (
		warehouse services.Warehouse
		err       error
	)
	if withdraw {
		warehouse, err = h.warehouses.Withdraw(ctx, cmd)
	} else {
		warehouse, err = h.warehouses.Deposit(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWarehousePayload(warehouse))
}

func (h *WarehouseHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.warehouses == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("warehouse_service_unavailable", "warehouse service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func buildWarehousePayload(warehouse services.Warehouse) warehousePayload {
	return warehousePayload{
		ID:         warehouse.ID,
		Name:       warehouse.Name,
		Material:   warehouse.Material,
		CapacityKg: warehouse.Capacity.String(),
		QuantityKg: warehouse.Quantity.String(),
		Display:    services.FormatKilograms(warehouse.Quantity) + " / " + services.FormatKilograms(warehouse.Capacity) + " kg",
		CreatedAt:  formatTime(warehouse.CreatedAt),
		UpdatedAt:  formatTime(warehouse.UpdatedAt),
	}
}
