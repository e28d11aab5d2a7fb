package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/metrics"
	"github.com/fjod/go_shop/internal/service"
	"github.com/fjod/go_shop/internal/store"
)

const testSecret = "test-secret"

type testServer struct {
	t       *testing.T
	store   *store.MemoryStore
	tokens  *auth.TokenManager
	metrics *metrics.ServerMetrics
	router  chi.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	logger := zap.NewNop()
	m := metrics.NewServerMetrics(prometheus.NewRegistry())
	tokens := auth.NewTokenManager(testSecret, time.Hour)

	router := NewRouter(RouterConfig{
		Carts:          service.NewCartService(s, s, nil, logger),
		Checkout:       service.NewCheckoutService(s, s, s, nil, nil, m, logger),
		Orders:         service.NewOrderService(s, s, nil, m, logger),
		Products:       service.NewProductService(s, logger),
		Tokens:         tokens,
		Metrics:        m,
		Logger:         logger,
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1 << 20,
	})
	return &testServer{t: t, store: s, tokens: tokens, metrics: m, router: router}
}

func (s *testServer) token(id string, isAdmin bool) string {
	s.t.Helper()
	token, err := s.tokens.Issue(domain.Principal{ID: id, IsAdmin: isAdmin})
	require.NoError(s.t, err)
	return token
}

func (s *testServer) addProduct(id, price string, stock int) {
	s.t.Helper()
	now := time.Now().UTC()
	require.NoError(s.t, s.store.CreateProduct(context.Background(), &domain.Product{
		ID:        id,
		Name:      "Product " + id,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		Tags:      []string{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func (s *testServer) stockOf(id string) int {
	s.t.Helper()
	p, err := s.store.GetProduct(context.Background(), id)
	require.NoError(s.t, err)
	return p.Stock
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// do sends a request through the full router. token may be empty.
func (s *testServer) do(method, target, token string, body interface{}, opts ...requestOption) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func withUser(r *http.Request, id string) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), domain.Principal{ID: id}))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
