package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/service"
)

type ProductHandler struct {
	products *service.ProductService
	timeout  time.Duration
	logger   *zap.Logger
}

func NewProductHandler(products *service.ProductService, timeout time.Duration, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		products: products,
		timeout:  timeout,
		logger:   logger,
	}
}

// GET /api/v1/products?page&size&search
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, size, err := parsePage(r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	query := domain.ProductQuery{Search: r.URL.Query().Get("search"), Page: page, Size: size}
	found, total, err := h.products.List(ctx, query)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	products := make([]ProductResponseDTO, len(found))
	for i, p := range found {
		products[i] = newProductResponse(p)
	}
	respondJSON(w, http.StatusOK, &ProductsPageDTO{Products: products, Total: total, Page: page, Size: size})
}

// GET /api/v1/products/{product_id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.products.Get(ctx, chi.URLParam(r, "product_id"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newProductResponse(product))
}

// POST /api/v1/products
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req CreateProductRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	product, err := h.products.Create(ctx, principal, req.toInput())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, newProductResponse(product))
}

// PATCH /api/v1/products/{product_id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req UpdateProductRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	product, err := h.products.Update(ctx, principal, chi.URLParam(r, "product_id"), req.toPatch())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, newProductResponse(product))
}
