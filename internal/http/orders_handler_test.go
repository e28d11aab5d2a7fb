package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/service"
	"github.com/fjod/go_shop/internal/store"
)

func checkoutBody(lines ...CartItemRequestDTO) CheckoutRequestDTO {
	return CheckoutRequestDTO{Items: lines, ShippingAddress: "1 Main St"}
}

// placeOrder fills alice's cart with two p1 and checks out.
func placeOrder(t *testing.T, srv *testServer, token string) OrderResponseDTO {
	t.Helper()
	rec := srv.do(http.MethodPost, "/api/v1/cart/items", token, CartItemRequestDTO{ProductID: "p1", Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = srv.do(http.MethodPost, "/api/v1/orders", token, checkoutBody(CartItemRequestDTO{ProductID: "p1", Quantity: 2}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[OrderResponseDTO](t, rec)
}

func TestCheckout_Scenario(t *testing.T) {
	srv := newTestServer(t)
	srv.addProduct("p1", "10.00", 100)
	token := srv.token("alice", false)

	order := placeOrder(t, srv, token)
	assert.Equal(t, "20.00", order.Total)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "alice", order.OwnerID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Product p1", order.Items[0].ProductName)
	assert.Equal(t, "10.00", order.Items[0].UnitPrice)
	assert.Equal(t, 98, srv.stockOf("p1"))

	rec := srv.do(http.MethodGet, "/api/v1/cart", token, nil)
	cart := decodeBody[CartResponseDTO](t, rec)
	assert.Empty(t, cart.Items)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.Checkouts.WithLabelValues("success")))
	assert.Positive(t, testutil.CollectAndCount(srv.metrics.Requests))
}

func TestCheckout_BusinessRuleErrors(t *testing.T) {
	srv := newTestServer(t)
	srv.addProduct("p1", "10.00", 100)
	srv.addProduct("p2", "10.00", 100)
	token := srv.token("alice", false)

	rec := srv.do(http.MethodPost, "/api/v1/orders", token, checkoutBody(CartItemRequestDTO{ProductID: "p1", Quantity: 1}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_cart", decodeBody[ErrorResponse](t, rec).Code)

	srv.do(http.MethodPost, "/api/v1/cart/items", token, CartItemRequestDTO{ProductID: "p1", Quantity: 1})
	rec = srv.do(http.MethodPost, "/api/v1/orders", token, checkoutBody(CartItemRequestDTO{ProductID: "p2", Quantity: 1}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "item_not_in_cart", resp.Code)
	assert.Contains(t, resp.Error, "p2")

	rec = srv.do(http.MethodPost, "/api/v1/orders", token, CheckoutRequestDTO{ShippingAddress: "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/orders", token, CheckoutRequestDTO{Items: []CartItemRequestDTO{{ProductID: "p1", Quantity: 1}}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, 100, srv.stockOf("p1"))
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	srv.addProduct("p1", "10.00", 100)
	token := srv.token("alice", false)
	srv.do(http.MethodPost, "/api/v1/cart/items", token, CartItemRequestDTO{ProductID: "p1", Quantity: 2})

	body := checkoutBody(CartItemRequestDTO{ProductID: "p1", Quantity: 2})
	first := srv.do(http.MethodPost, "/api/v1/orders", token, body, withHeader("Idempotency-Key", "abc"))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := srv.do(http.MethodPost, "/api/v1/orders", token, body, withHeader("Idempotency-Key", "abc"))
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	assert.Equal(t, decodeBody[OrderResponseDTO](t, first).ID, decodeBody[OrderResponseDTO](t, second).ID)
	assert.Equal(t, 98, srv.stockOf("p1"))
}

func TestListOrders_Envelope(t *testing.T) {
	srv := newTestServer(t)
	srv.addProduct("p1", "10.00", 100)
	token := srv.token("alice", false)
	placeOrder(t, srv, token)
	placeOrder(t, srv, token)

	rec := srv.do(http.MethodGet, "/api/v1/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[OrdersPageDTO](t, rec)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, service.DefaultPageSize, page.Size)
	assert.Len(t, page.Orders, 2)

	rec = srv.do(http.MethodGet, "/api/v1/orders?page=2&size=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodeBody[OrdersPageDTO](t, rec)
	assert.Len(t, page.Orders, 1)

	rec = srv.do(http.MethodGet, "/api/v1/orders", srv.token("bob", false), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodeBody[OrdersPageDTO](t, rec)
	assert.NotNil(t, page.Orders)
	assert.Empty(t, page.Orders)

	for _, q := range []string{"page=0", "size=0", "size=101", "page=abc", "page=2305843009213693952&size=8"} {
		rec = srv.do(http.MethodGet, "/api/v1/orders?"+q, token, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
	}
}

func TestGetOrder_Access(t *testing.T) {
	srv := newTestServer(t)
	srv.addProduct("p1", "10.00", 100)
	order := placeOrder(t, srv, srv.token("alice", false))

	rec := srv.do(http.MethodGet, "/api/v1/orders/"+order.ID, srv.token("alice", false), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/orders/"+order.ID, srv.token("root", true), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/orders/"+order.ID, srv.token("bob", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/orders/missing", srv.token("alice", false), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetStatus(t *testing.T) {
	srv := newTestServer(t)
	srv.addProduct("p1", "10.00", 100)
	order := placeOrder(t, srv, srv.token("alice", false))
	adminToken := srv.token("root", true)
	path := "/api/v1/orders/" + order.ID + "/status"

	rec := srv.do(http.MethodPatch, path+"?new_status=confirmed", srv.token("alice", false), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodPatch, path+"?new_status=bogus", adminToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(http.MethodPatch, path+"?new_status=Shipped", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "shipped", decodeBody[OrderResponseDTO](t, rec).Status)

	rec = srv.do(http.MethodPatch, path+"?new_status=pending", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state_transition", decodeBody[ErrorResponse](t, rec).Code)

	rec = srv.do(http.MethodPatch, "/api/v1/orders/missing/status?new_status=shipped", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	srv := newTestServer(t)
	srv.addProduct("p1", "10.00", 100)
	token := srv.token("alice", false)
	order := placeOrder(t, srv, token)
	require.Equal(t, 98, srv.stockOf("p1"))

	rec := srv.do(http.MethodDelete, "/api/v1/orders/"+order.ID, srv.token("bob", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(http.MethodDelete, "/api/v1/orders/"+order.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[OrderResponseDTO](t, rec).Status)
	assert.Equal(t, 100, srv.stockOf("p1"))

	rec = srv.do(http.MethodDelete, "/api/v1/orders/"+order.ID, token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state_transition", decodeBody[ErrorResponse](t, rec).Code)
	assert.Equal(t, 100, srv.stockOf("p1"))
}

func TestOrdersHandler_GetOrderMissingID(t *testing.T) {
	s := store.NewMemoryStore()
	orders := service.NewOrderService(s, s, nil, nil, zap.NewNop())
	handler := NewOrdersHandler(nil, orders, 5*time.Second, zap.NewNop())

	recorder := httptest.NewRecorder()
	request := withURLParam(withUser(httptest.NewRequest(http.MethodGet, "/api/v1/orders/", nil), "alice"), "order_id", "")
	handler.GetOrder(recorder, request)
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

	recorder = httptest.NewRecorder()
	request = withURLParam(withUser(httptest.NewRequest(http.MethodGet, "/api/v1/orders/x", nil), "alice"), "order_id", "x")
	handler.GetOrder(recorder, request)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyCart, http.StatusBadRequest},
		{domain.ItemNotInCartError("p1"), http.StatusBadRequest},
		{domain.InsufficientStockError("p1", "Mug"), http.StatusBadRequest},
		{domain.InvalidTransitionError(domain.OrderStatusShipped, domain.OrderStatusCancelled), http.StatusBadRequest},
		{domain.ErrAdminRequired, http.StatusUnauthorized},
		{domain.ErrNotOrderOwner, http.StatusForbidden},
		{domain.ErrProductNotFound, http.StatusNotFound},
		{domain.ErrConcurrentModification, http.StatusConflict},
		{domain.ValidationError("bad"), http.StatusUnprocessableEntity},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		respondServiceError(rec, zap.NewNop(), tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}

	rec := httptest.NewRecorder()
	respondServiceError(rec, zap.NewNop(), assert.AnError)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
