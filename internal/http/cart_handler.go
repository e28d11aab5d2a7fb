package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/service"
)

type CartHandler struct {
	carts   *service.CartService
	timeout time.Duration
	logger  *zap.Logger
}

func NewCartHandler(carts *service.CartService, timeout time.Duration, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		logger:  logger,
	}
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, principal.ID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(cart))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req CartItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	cart, err := h.carts.AddItem(ctx, principal.ID, req.ProductID, req.Quantity)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, newCartResponse(cart))
}

// PUT /api/v1/cart/items
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req CartItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, principal.ID, req.ProductID, req.Quantity)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(cart))
}

// DELETE /api/v1/cart removes the line named by ?product_id=, or every line
// when the parameter is absent.
func (h *CartHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var (
		cart *domain.Cart
		err  error
	)
	if query := r.URL.Query(); query.Has("product_id") {
		productID := query.Get("product_id")
		if productID == "" {
			respondError(w, http.StatusUnprocessableEntity, "validation_error", "product_id must not be empty")
			return
		}
		cart, err = h.carts.RemoveItem(ctx, principal.ID, productID)
	} else {
		cart, err = h.carts.ClearCart(ctx, principal.ID)
	}
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(cart))
}
