package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/auth"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/httpx"
	"github.com/MeltyDeays/AgroApp-sub000/internal/services"
)

// ProductHandlers exposes the catalog. Any signed-in user may browse; staff create products.
type ProductHandlers struct {
	authn    *auth.Authenticator
	catalog  services.CatalogService
	creators []string
}

// NewProductHandlers constructs catalog handlers. creators defaults to staff and admin.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService, creators ...string) *ProductHandlers {
	if len(creators) == 0 {
		creators = defaultApproverRoles
	}
	return &ProductHandlers{authn: authn, catalog: catalog, creators: creators}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/{productID}", h.getProduct)
}

type createProductRequest struct {
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	PackageQuantity decimal.Decimal `json:"package_quantity"`
	PackageUnit     string          `json:"package_unit"`
	WarehouseID     string          `json:"warehouse_id"`
}

type productPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	UnitPrice       string `json:"unit_price"`
	PackageQuantity string `json:"package_quantity"`
	PackageUnit     string `json:"package_unit"`
	WarehouseID     string `json:"warehouse_id"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	products, err := h.catalog.ListProducts(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	identity, ok := currentIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasAnyRole(h.creators...) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "staff role required", http.StatusForbidden))
		return
	}

	var req createProductRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Name:            cleanText(req.Name),
		UnitPrice:       req.UnitPrice,
		PackageQuantity: req.PackageQuantity,
		PackageUnit:     req.PackageUnit,
		WarehouseID:     req.WarehouseID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *ProductHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.catalog == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:              product.ID,
		Name:            product.Name,
		UnitPrice:       product.UnitPrice.StringFixed(2),
		PackageQuantity: product.PackageQuantity.String(),
		PackageUnit:     string(product.PackageUnit),
		WarehouseID:     product.WarehouseID,
		CreatedAt:       formatTime(product.CreatedAt),
		UpdatedAt:       formatTime(product.UpdatedAt),
	}
}
