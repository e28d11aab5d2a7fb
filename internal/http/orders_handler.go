package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

type OrdersHandler struct {
	checkout *service.CheckoutService
	orders   *service.OrderService
	timeout  time.Duration
	logger   *zap.Logger
}

func NewOrdersHandler(checkout *service.CheckoutService, orders *service.OrderService, timeout time.Duration, logger *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		checkout: checkout,
		orders:   orders,
		timeout:  timeout,
		logger:   logger,
	}
}

// POST /api/v1/orders
func (h *OrdersHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if len(key) > maxIdempotencyKeyLen {
		respondError(w, http.StatusUnprocessableEntity, "validation_error", "Idempotency-Key is too long")
		return
	}

	var req CheckoutRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	result, err := h.checkout.Checkout(ctx, req.toRequest(principal.ID, key))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	respondJSON(w, status, newOrderResponse(result.Order))
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	page, size, err := parsePage(r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	result, err := h.orders.ListOrders(ctx, principal, page, size)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newOrdersPage(result))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusUnprocessableEntity, "missing_order_id", "order_id is required")
		return
	}

	order, err := h.orders.GetOrder(ctx, principal, orderID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newOrderResponse(order))
}

// PATCH /api/v1/orders/{order_id}/status?new_status=
func (h *OrdersHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusUnprocessableEntity, "missing_order_id", "order_id is required")
		return
	}
	status, err := domain.ParseOrderStatus(r.URL.Query().Get("new_status"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	order, err := h.orders.SetStatus(ctx, principal, orderID, status)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newOrderResponse(order))
}

// DELETE /api/v1/orders/{order_id}
func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusUnprocessableEntity, "missing_order_id", "order_id is required")
		return
	}

	order, err := h.orders.Cancel(ctx, principal, orderID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newOrderResponse(order))
}

// parsePage reads ?page and ?size, defaulting to the first page of
// service.DefaultPageSize entries.
func parsePage(r *http.Request) (int, int, error) {
	query := r.URL.Query()
	page, err := intParam(query.Get("page"), "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(query.Get("size"), "size", service.DefaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	return page, size, service.ValidatePage(page, size)
}

func intParam(raw, name string, defaultValue int) (int, error) {
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ValidationError("%s must be an integer", name)
	}
	return n, nil
}
