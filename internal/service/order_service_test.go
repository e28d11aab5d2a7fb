package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/events"
)

func pendingOrder(t *testing.T, f *fixture, owner string) *domain.Order {
	t.Helper()
	addProduct(t, f.store, "p1", "10.00", 100)
	addProduct(t, f.store, "p2", "2.50", 100)
	f.addToCart(t, owner, "p1", 2)
	f.addToCart(t, owner, "p2", 4)
	return f.placeOrder(t, owner,
		RequestedLine{ProductID: "p1", Quantity: 2},
		RequestedLine{ProductID: "p2", Quantity: 4},
	)
}

func TestGetOrder_Access(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()

	got, err := f.orders.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.orders.GetOrder(ctx, admin, order.ID)
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, bob, order.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.orders.GetOrder(ctx, alice, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	addProduct(t, f.store, "p1", "1.00", 100)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		f.checkout.now = func() time.Time { return at }
		f.addToCart(t, "alice", "p1", 1)
		f.placeOrder(t, "alice", RequestedLine{ProductID: "p1", Quantity: 1})
	}
	f.addToCart(t, "bob", "p1", 1)
	f.placeOrder(t, "bob", RequestedLine{ProductID: "p1", Quantity: 1})
	ctx := context.Background()

	page, err := f.orders.ListOrders(ctx, alice, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Orders, 2)
	assert.True(t, page.Orders[0].CreatedAt.After(page.Orders[1].CreatedAt), "newest first")

	page, err = f.orders.ListOrders(ctx, alice, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Orders, 1)

	page, err = f.orders.ListOrders(ctx, alice, 5, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Equal(t, int64(3), page.Total)

	// admins list their own orders here, not everyone's
	page, err = f.orders.ListOrders(ctx, admin, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = f.orders.ListOrders(ctx, alice, 0, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.orders.ListOrders(ctx, alice, 1, MaxPageSize+1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSetStatus_ForwardOnly(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()

	_, err := f.orders.SetStatus(ctx, alice, order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	updated, err := f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, updated.Status)

	_, err = f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusDelivered)
	require.NoError(t, err)

	_, err = f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusDelivered)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatus("lost"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.orders.SetStatus(ctx, admin, "missing", domain.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	assert.Equal(t, []string{
		events.TypeOrderPlaced,
		events.TypeOrderStatusChanged,
		events.TypeOrderStatusChanged,
	}, f.publisher.types())

	// status changes never touch stock
	assert.Equal(t, 98, stockOf(t, f.store, "p1"))
}

func TestSetStatus_RejectsClaimedOrder(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()

	_, err := f.store.ClaimCancellation(ctx, order.ID, order.Version, time.Now())
	require.NoError(t, err)

	_, err = f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestCancel_RestoresStock(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()
	require.Equal(t, 98, stockOf(t, f.store, "p1"))
	require.Equal(t, 96, stockOf(t, f.store, "p2"))

	cancelled, err := f.orders.Cancel(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.Cancelling)
	assert.Equal(t, 100, stockOf(t, f.store, "p1"))
	assert.Equal(t, 100, stockOf(t, f.store, "p2"))

	_, err = f.orders.Cancel(ctx, alice, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, 100, stockOf(t, f.store, "p1"), "second cancel must not credit stock again")

	assert.Equal(t, []string{events.TypeOrderPlaced, events.TypeOrderCancelled}, f.publisher.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cancellations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cancellations.WithLabelValues("rejected")))
}

func TestCancel_Access(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()

	_, err := f.orders.Cancel(ctx, bob, order.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.orders.Cancel(ctx, admin, order.ID)
	require.NoError(t, err)

	_, err = f.orders.Cancel(ctx, alice, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCancel_OnlyFromPending(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()

	_, err := f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusConfirmed)
	require.NoError(t, err)

	_, err = f.orders.Cancel(ctx, alice, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, 98, stockOf(t, f.store, "p1"))
}

func TestCancel_ResumesAfterRestoreFailure(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()

	catalog := &faultyCatalog{MemoryStore: f.store, failRestore: "p2", err: errors.New("timeout")}
	flaky := NewOrderService(f.store, catalog, f.publisher, f.metrics, zap.NewNop())

	_, err := flaky.Cancel(ctx, alice, order.ID)
	require.ErrorContains(t, err, "timeout")

	stuck, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stuck.Status)
	assert.True(t, stuck.Cancelling)
	assert.Equal(t, 100, stockOf(t, f.store, "p1"))

	// the claim still blocks admin changes
	_, err = f.orders.SetStatus(ctx, admin, order.ID, domain.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	cancelled, err := f.orders.Cancel(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 100, stockOf(t, f.store, "p1"), "p1 restored exactly once")
	assert.Equal(t, 100, stockOf(t, f.store, "p2"))
}

func TestReleaseRestorations(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder(t, f, "alice")
	ctx := context.Background()

	assert.ErrorIs(t, f.orders.ReleaseRestorations(ctx, order), domain.ErrInvalidStateTransition)

	cancelled, err := f.orders.Cancel(ctx, alice, order.ID)
	require.NoError(t, err)
	require.NoError(t, f.orders.ReleaseRestorations(ctx, cancelled))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.RestorationsReleased)

	// with the token gone the catalog would credit the order again
	require.NoError(t, f.store.RestoreStock(ctx, "p1", 1, order.ID))
	assert.Equal(t, 101, stockOf(t, f.store, "p1"))
}

func TestValidatePage(t *testing.T) {
	assert.NoError(t, ValidatePage(1, DefaultPageSize))
	assert.NoError(t, ValidatePage(3, MaxPageSize))
	assert.ErrorIs(t, ValidatePage(0, 10), domain.ErrValidation)
	assert.ErrorIs(t, ValidatePage(1, 0), domain.ErrValidation)
	assert.ErrorIs(t, ValidatePage(1, MaxPageSize+1), domain.ErrValidation)
	assert.NoError(t, ValidatePage(MaxPage, MaxPageSize))
	assert.ErrorIs(t, ValidatePage(MaxPage+1, 10), domain.ErrValidation)
	assert.ErrorIs(t, ValidatePage(1<<61, 8), domain.ErrValidation)
}
