package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/cache"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/events"
	"github.com/fjod/go_shop/internal/metrics"
	"github.com/fjod/go_shop/internal/store"
)

var (
	alice = domain.Principal{ID: "alice"}
	bob   = domain.Principal{ID: "bob"}
	admin = domain.Principal{ID: "root", IsAdmin: true}
)

func addProduct(t *testing.T, s *store.MemoryStore, id, price string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateProduct(context.Background(), &domain.Product{
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

func stockOf(t *testing.T, s *store.MemoryStore, id string) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

type mockCache struct {
	m       sync.RWMutex
	cart    *domain.Cart
	err     error
	deletes int
}

func (m *mockCache) Get(context.Context, string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return nil, cache.ErrCacheMiss
	}
	return m.cart, nil
}

func (m *mockCache) Set(_ context.Context, _ string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = cart
	return m.err
}

func (m *mockCache) Delete(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = nil
	m.deletes++
	return m.err
}

func (m *mockCache) getCart() *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}

func (m *mockCache) deleteCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.deletes
}

type recordingPublisher struct {
	m      sync.Mutex
	events []events.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.OrderEvent) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.m.Lock()
	defer p.m.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// faultyCatalog fails AdjustStock or RestoreStock for one product.
type faultyCatalog struct {
	*store.MemoryStore
	failAdjust  string
	failRestore string
	err         error
}

func (f *faultyCatalog) AdjustStock(ctx context.Context, id string, delta int) error {
	if id == f.failAdjust && delta < 0 {
		return f.err
	}
	return f.MemoryStore.AdjustStock(ctx, id, delta)
}

func (f *faultyCatalog) RestoreStock(ctx context.Context, id string, quantity int, token string) error {
	if id == f.failRestore {
		return f.err
	}
	return f.MemoryStore.RestoreStock(ctx, id, quantity, token)
}

// failingClearCarts fails ClearCart.
type failingClearCarts struct {
	*store.MemoryStore
}

func (failingClearCarts) ClearCart(context.Context, string) (*domain.Cart, error) {
	return nil, errors.New("connection reset")
}

type fixture struct {
	store     *store.MemoryStore
	cache     *mockCache
	publisher *recordingPublisher
	metrics   *metrics.ServerMetrics
	carts     *CartService
	checkout  *CheckoutService
	orders    *OrderService
	products  *ProductService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	f := &fixture{
		store:     s,
		cache:     &mockCache{},
		publisher: &recordingPublisher{},
		metrics:   metrics.NewServerMetrics(prometheus.NewRegistry()),
	}
	logger := zap.NewNop()
	f.carts = NewCartService(s, s, f.cache, logger)
	f.checkout = NewCheckoutService(s, s, s, f.cache, f.publisher, f.metrics, logger)
	f.orders = NewOrderService(s, s, f.publisher, f.metrics, logger)
	f.products = NewProductService(s, logger)
	return f
}

func (f *fixture) addToCart(t *testing.T, owner, productID string, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), owner, productID, qty)
	require.NoError(t, err)
}

func (f *fixture) placeOrder(t *testing.T, owner string, lines ...RequestedLine) *domain.Order {
	t.Helper()
	result, err := f.checkout.Checkout(context.Background(), CheckoutRequest{
		OwnerID:         owner,
		Items:           lines,
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	require.True(t, result.Created)
	return result.Order
}
