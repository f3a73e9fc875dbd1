package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/auth"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/idempotency"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories/memory"
	"github.com/MeltyDeays/AgroApp-sub000/internal/services"
)

var testNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

// tokenTable resolves bearer tokens of the form "<uid>" to identities; staff UIDs carry the staff role.
type tokenTable struct{}

func (tokenTable) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if idToken == "" || idToken == "bogus" {
		return nil, errors.New("token invalid")
	}
	claims := map[string]any{"name": strings.ToUpper(idToken)}
	if strings.HasPrefix(idToken, "staff") {
		claims["role"] = auth.RoleStaff
	}
	return &firebaseauth.Token{UID: idToken, Claims: claims}, nil
}

type apiHarness struct {
	t      *testing.T
	store  *memory.Store
	server *httptest.Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	store := memory.New()
	var seq atomic.Int64
	nextID := func() string { return fmt.Sprintf("%04d", seq.Add(1)) }
	clock := func() time.Time { return testNow }

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      store.Orders(),
		Products:    store.Products(),
		Transactor:  store,
		Clock:       clock,
		IDGenerator: nextID,
	})
	require.NoError(t, err)
	warehouses, err := services.NewWarehouseService(services.WarehouseServiceDeps{
		Warehouses:  store.Warehouses(),
		Transactor:  store,
		Clock:       clock,
		IDGenerator: nextID,
	})
	require.NoError(t, err)
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:    store.Products(),
		Warehouses:  store.Warehouses(),
		Clock:       clock,
		IDGenerator: nextID,
	})
	require.NoError(t, err)

	authn := auth.NewAuthenticator(tokenTable{})
	router := NewRouter(
		WithOrderRoutes(NewOrderHandlers(authn, orders,
			WithOrderMiddlewares(idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithClock(clock))),
		).Routes),
		WithWarehouseRoutes(NewWarehouseHandlers(authn, warehouses).Routes),
		WithProductRoutes(NewProductHandlers(authn, catalog).Routes),
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiHarness{t: t, store: store, server: server}
}

func (h *apiHarness) do(method, path, token, body string) (int, map[string]any) {
	h.t.Helper()
	status, _, payload := h.send(method, path, token, body, nil)
	return status, payload
}

func (h *apiHarness) send(method, path, token, body string, header http.Header) (int, http.Header, map[string]any) {
	h.t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, values := range header {
		req.Header[name] = values
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, resp.Header, payload
}

// seedMaize stores a maize silo holding siloKg and a 50 lb sack product drawn from it.
func (h *apiHarness) seedMaize(siloKg string) {
	h.t.Helper()
	ctx := context.Background()
	require.NoError(h.t, h.store.Warehouses().Insert(ctx, domain.Warehouse{
		ID: "silo-a", Name: "Silo A", Material: "maize",
		Capacity: decimal.NewFromInt(1000), Quantity: decimal.RequireFromString(siloKg),
	}))
	require.NoError(h.t, h.store.Products().Insert(ctx, domain.Product{
		ID: "maize-sack", Name: "Maize Sack", UnitPrice: decimal.RequireFromString("12.50"),
		PackageQuantity: decimal.NewFromInt(50), PackageUnit: domain.UnitPounds, WarehouseID: "silo-a",
	}))
}

func (h *apiHarness) placeOrder(owner string, sacks int) string {
	h.t.Helper()
	body := fmt.Sprintf(`{"items":[{"product_id":"maize-sack","quantity":%d}],"delivery_address":"Plot 7, <i>North</i> Road","payment_method":"cash"}`, sacks)
	status, payload := h.do(http.MethodPost, "/api/v1/orders", owner, body)
	require.Equal(h.t, http.StatusCreated, status, payload)
	return payload["id"].(string)
}

func (h *apiHarness) siloKg() decimal.Decimal {
	h.t.Helper()
	warehouse, err := h.store.Warehouses().FindByID(context.Background(), "silo-a")
	require.NoError(h.t, err)
	return warehouse.Quantity
}

func TestOrdersFulfillmentFlow(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("500")

	orderID := h.placeOrder("farmer-1", 10)

	status, payload := h.do(http.MethodGet, "/api/v1/orders/"+orderID, "farmer-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "pending", payload["state"])
	require.Equal(t, "125.00", payload["total_amount"])
	require.Equal(t, "Plot 7, North Road", payload["delivery_address"])
	require.Equal(t, "FARMER-1", payload["owner_name"])

	status, _ = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":approve", "farmer-1", "")
	require.Equal(t, http.StatusForbidden, status)

	status, payload = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":approve", "staff-1", "")
	require.Equal(t, http.StatusOK, status, payload)
	require.Equal(t, "approved", payload["state"])
	require.Equal(t, false, payload["owner_notified"])
	require.Equal(t, "staff-1", payload["approved_by"])
	require.True(t, h.siloKg().Equal(decimal.RequireFromString("273.204")), h.siloKg().String())

	status, payload = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":complete", "farmer-2", "")
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "permission_denied", payload["error"])

	status, payload = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":acknowledge", "farmer-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, payload["owner_notified"])

	status, payload = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":complete", "farmer-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "completed", payload["state"])
	require.NotEmpty(t, payload["completed_at"])

	status, payload = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":complete", "farmer-1", "")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "invalid_order_state", payload["error"])
}

func TestOrdersApproveInsufficientStock(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("100")
	orderID := h.placeOrder("farmer-1", 10)

	status, payload := h.do(http.MethodPost, "/api/v1/orders/"+orderID+":approve", "staff-1", "")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "insufficient_stock", payload["error"])
	require.Contains(t, payload["message"], "required 227 kg")

	details, ok := payload["details"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "silo-a", details["warehouse_id"])
	require.Equal(t, "226.796", details["required_kg"])
	require.Equal(t, "100", details["available_kg"])

	require.True(t, h.siloKg().Equal(decimal.NewFromInt(100)))
	_, order := h.do(http.MethodGet, "/api/v1/orders/"+orderID, "staff-1", "")
	require.Equal(t, "pending", order["state"])
}

func TestOrdersRejectSanitisesReason(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("500")
	orderID := h.placeOrder("farmer-1", 2)

	status, payload := h.do(http.MethodPost, "/api/v1/orders/"+orderID+":reject", "staff-1", `{"reason":"<b>Out of season</b>"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "rejected", payload["state"])
	require.Equal(t, "Out of season", payload["rejection_reason"])
	require.True(t, h.siloKg().Equal(decimal.NewFromInt(500)))

	status, payload = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":reject", "staff-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Order rejected", payload["rejection_reason"])

	status, _ = h.do(http.MethodPost, "/api/v1/orders/"+orderID+":approve", "staff-1", "")
	require.Equal(t, http.StatusConflict, status)
}

func TestOrdersListScopesToOwner(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("500")
	h.placeOrder("farmer-1", 1)
	h.placeOrder("farmer-2", 1)

	status, payload := h.do(http.MethodGet, "/api/v1/orders?owner=farmer-2", "farmer-1", "")
	require.Equal(t, http.StatusOK, status)
	items := payload["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "farmer-1", items[0].(map[string]any)["owner_id"])

	status, payload = h.do(http.MethodGet, "/api/v1/orders?state=pending", "staff-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, payload["items"].([]any), 2)

	status, payload = h.do(http.MethodGet, "/api/v1/orders?state=shipped", "staff-1", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_request", payload["error"])

	status, _ = h.do(http.MethodGet, "/api/v1/orders?limit=zero", "staff-1", "")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestOrdersHidesForeignOrders(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("500")
	orderID := h.placeOrder("farmer-1", 1)

	status, payload := h.do(http.MethodGet, "/api/v1/orders/"+orderID, "farmer-2", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "order_not_found", payload["error"])

	status, _ = h.do(http.MethodGet, "/api/v1/orders/"+orderID, "staff-1", "")
	require.Equal(t, http.StatusOK, status)
}

func TestOrdersCreateValidation(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("500")

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "empty body", body: "", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", body: `{"items":[],"owner_id":"someone"}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "no items", body: `{"items":[],"delivery_address":"x","payment_method":"cash"}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown product", body: `{"items":[{"product_id":"ghost","quantity":1}],"delivery_address":"x","payment_method":"cash"}`, status: http.StatusUnprocessableEntity, code: "order_product_not_found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := h.do(http.MethodPost, "/api/v1/orders", "farmer-1", tc.body)
			require.Equal(t, tc.status, status, payload)
			require.Equal(t, tc.code, payload["error"])
		})
	}
}

func TestOrdersRequireAuthentication(t *testing.T) {
	h := newAPIHarness(t)

	status, payload := h.do(http.MethodGet, "/api/v1/orders", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthenticated", payload["error"])

	status, _ = h.do(http.MethodGet, "/api/v1/orders", "bogus", "")
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestWarehousesStaffOnly(t *testing.T) {
	h := newAPIHarness(t)

	status, _ := h.do(http.MethodGet, "/api/v1/warehouses", "farmer-1", "")
	require.Equal(t, http.StatusForbidden, status)

	status, payload := h.do(http.MethodPost, "/api/v1/warehouses", "staff-1", `{"name":"Silo B","material":"wheat","capacity":"2","unit":"ton"}`)
	require.Equal(t, http.StatusCreated, status, payload)
	require.Equal(t, "2000", payload["capacity_kg"])
	require.Equal(t, "0 / 2,000 kg", payload["display"])
	warehouseID := payload["id"].(string)

	status, payload = h.do(http.MethodPost, "/api/v1/warehouses/"+warehouseID+":deposit", "staff-1", `{"quantity":100,"unit":"lb"}`)
	require.Equal(t, http.StatusOK, status, payload)
	require.Equal(t, "45.3592", payload["quantity_kg"])

	status, payload = h.do(http.MethodPost, "/api/v1/warehouses/"+warehouseID+":withdraw", "staff-1", `{"quantity":50}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "insufficient_stock", payload["error"])

	status, payload = h.do(http.MethodPost, "/api/v1/warehouses/"+warehouseID+":deposit", "staff-1", `{"quantity":3,"unit":"bushel"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_request", payload["error"])

	status, payload = h.do(http.MethodPost, "/api/v1/warehouses/"+warehouseID+":deposit", "staff-1", `{"quantity":2,"unit":"t"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "capacity_exceeded", payload["error"])

	status, payload = h.do(http.MethodGet, "/api/v1/warehouses/ghost", "staff-1", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "warehouse_not_found", payload["error"])
}

func TestProductsCatalog(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("500")

	status, _ := h.do(http.MethodPost, "/api/v1/products", "farmer-1", `{"name":"Wheat Bag","unit_price":"8","package_quantity":"25","package_unit":"kg","warehouse_id":"silo-a"}`)
	require.Equal(t, http.StatusForbidden, status)

	status, payload := h.do(http.MethodPost, "/api/v1/products", "staff-1", `{"name":"<script>x</script>Wheat Bag","unit_price":"8","package_quantity":"25","package_unit":"KG","warehouse_id":"silo-a"}`)
	require.Equal(t, http.StatusCreated, status, payload)
	require.Equal(t, "Wheat Bag", payload["name"])
	require.Equal(t, "kilograms", payload["package_unit"])
	require.Equal(t, "8.00", payload["unit_price"])

	status, payload = h.do(http.MethodGet, "/api/v1/products", "farmer-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, payload["items"].([]any), 2)

	status, payload = h.do(http.MethodGet, "/api/v1/products/ghost", "farmer-1", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "product_not_found", payload["error"])
}

func TestRouterFallbacks(t *testing.T) {
	server := httptest.NewServer(NewRouter())
	t.Cleanup(server.Close)

	resp, err := server.Client().Get(server.URL + "/api/v1/orders")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, err = server.Client().Get(server.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWriteServiceErrorMapsConflictAsRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(context.Background(), rec, fmt.Errorf("%w: version changed", services.ErrOrderTransactionConflict))
	require.Equal(t, http.StatusConflict, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "transaction_conflict", payload["error"])
	require.Equal(t, true, payload["retryable"])

	rec = httptest.NewRecorder()
	writeServiceError(context.Background(), rec, fmt.Errorf("%w: maize-sack", services.ErrOrderMissingWarehouseAssignment))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestOrderCreateReplaysWithIdempotencyKey(t *testing.T) {
	h := newAPIHarness(t)
	h.seedMaize("500")

	body := `{"items":[{"product_id":"maize-sack","quantity":2}],"delivery_address":"Plot 7","payment_method":"cash"}`
	key := http.Header{idempotency.DefaultHeader: []string{"create-1"}}

	status, header, first := h.send(http.MethodPost, "/api/v1/orders", "farmer-1", body, key)
	require.Equal(t, http.StatusCreated, status, first)
	require.Empty(t, header.Get(idempotency.ReplayHeader))

	status, header, second := h.send(http.MethodPost, "/api/v1/orders", "farmer-1", body, key)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "true", header.Get(idempotency.ReplayHeader))
	require.Equal(t, first["id"], second["id"])

	orders, err := h.store.Orders().List(context.Background(), domain.OrderFilter{OwnerID: "farmer-1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	status, _, payload := h.send(http.MethodPost, "/api/v1/orders", "farmer-1", strings.Replace(body, `"quantity":2`, `"quantity":3`, 1), key)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "idempotency_key_reused", payload["error"])
}
