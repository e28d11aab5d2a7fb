package repository

import (
	"context"
	"time"

	"github.com/fjod/go_shop/internal/domain"
)

// CartRepository stores one cart per owner.
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	// GetCart fails with domain.ErrCartNotFound when the owner has no cart.
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	// AddItem creates the cart lazily and merges quantities on an existing
	// product line, keeping that line's price snapshot.
	AddItem(ctx context.Context, ownerID string, line domain.CartLine) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error)
	// RemoveItem is a no-op for a product that is not in the cart.
	RemoveItem(ctx context.Context, ownerID, productID string) (*domain.Cart, error)
	// ClearCart empties the cart. A missing cart yields an empty one.
	ClearCart(ctx context.Context, ownerID string) (*domain.Cart, error)
}

type OrderRepository interface {
	// CreateOrder fails with domain.ErrDuplicateCheckout when the owner already
	// has an order with the same idempotency key.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Order, error)
	// ListOrders returns the owner's orders newest first.
	ListOrders(ctx context.Context, ownerID string, page, size int) (*domain.OrderPage, error)
	// UpdateStatus succeeds only while the order still has expectedVersion and
	// is not claimed by a cancellation.
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.OrderStatus, now time.Time) (*domain.Order, error)
	// ClaimCancellation marks a pending, unclaimed order at expectedVersion as
	// being cancelled.
	ClaimCancellation(ctx context.Context, id string, expectedVersion int64, now time.Time) (*domain.Order, error)
	// FinalizeCancellation moves a claimed pending order to cancelled.
	FinalizeCancellation(ctx context.Context, id string, now time.Time) (*domain.Order, error)
	// FindStuckCancellations returns claimed orders last touched before the
	// given time, oldest first.
	FindStuckCancellations(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error)
	// FindUnreleasedCancellations returns cancelled orders finalized before the
	// given time whose restore tokens are still held, oldest first.
	FindUnreleasedCancellations(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error)
	MarkRestorationsReleased(ctx context.Context, id string) error
}

// Catalog owns products and their stock counters.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// AdjustStock adds delta to the stock. A negative delta is applied only if
	// the result stays non-negative, otherwise domain.ErrInsufficientStock.
	AdjustStock(ctx context.Context, id string, delta int) error
	// RestoreStock credits quantity back once per token.
	RestoreStock(ctx context.Context, id string, quantity int, token string) error
	// ReleaseRestoration forgets token. It must only be called once no
	// RestoreStock with that token can still arrive.
	ReleaseRestoration(ctx context.Context, id, token string) error
	FindProducts(ctx context.Context, query domain.ProductQuery) ([]*domain.Product, int64, error)
	CreateProduct(ctx context.Context, product *domain.Product) error
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch, now time.Time) (*domain.Product, error)
}
