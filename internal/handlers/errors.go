package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/httpx"
	"github.com/MeltyDeays/AgroApp-sub000/internal/services"
)

func writeRequestError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).WithDetails(map[string]any{
			"warehouse_id":   stockErr.WarehouseID,
			"warehouse_name": stockErr.WarehouseName,
			"material":       stockErr.Material,
			"required_kg":    stockErr.Required.String(),
			"available_kg":   stockErr.Available.String(),
		}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrWarehouseInvalidInput),
		errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_product_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderMissingWarehouseAssignment):
		httpx.WriteError(ctx, w, httpx.NewError("missing_warehouse_assignment", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderUnsupportedUnit):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_unit", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrWarehouseNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("warehouse_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrWarehouseCapacityExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("capacity_exceeded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderTransactionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_conflict", "the order changed concurrently, retry the request", http.StatusConflict).AsRetryable())
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "storage is temporarily unavailable", http.StatusServiceUnavailable).AsRetryable())
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout).AsRetryable())
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
