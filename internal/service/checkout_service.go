package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/cache"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/events"
	"github.com/fjod/go_shop/internal/metrics"
	"github.com/fjod/go_shop/internal/repository"
)

var tracer = otel.Tracer("github.com/fjod/go_shop/internal/service")

type RequestedLine struct {
	ProductID string
	Quantity  int
}

type CheckoutRequest struct {
	OwnerID         string
	Items           []RequestedLine
	ShippingAddress string
	// IdempotencyKey is optional. A repeated key returns the original order.
	IdempotencyKey string
}

func (r CheckoutRequest) Validate() error {
	if r.OwnerID == "" {
		return domain.ErrUnauthorized
	}
	if len(r.Items) == 0 {
		return domain.ValidationError("at least one item is required")
	}
	if strings.TrimSpace(r.ShippingAddress) == "" {
		return domain.ValidationError("shipping_address is required")
	}
	seen := make(map[string]struct{}, len(r.Items))
	for _, item := range r.Items {
		if item.ProductID == "" {
			return domain.ValidationError("product_id is required")
		}
		if item.Quantity <= 0 {
			return domain.ValidationError("quantity for product %s must be greater than 0", item.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return domain.ValidationError("product %s is listed more than once", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

type CheckoutResult struct {
	Order *domain.Order
	// Created is false when an earlier request with the same idempotency key
	// already produced the order.
	Created bool
}

// CheckoutService turns the owner's cart into a pending order while reserving
// stock. Stock is decremented before anything is written and rolled back if a
// later step fails, so a failed checkout leaves stock, cart and orders as they
// were.
type CheckoutService struct {
	carts     repository.CartRepository
	orders    repository.OrderRepository
	catalog   repository.Catalog
	cache     cache.CartCache
	publisher events.Publisher
	metrics   *metrics.ServerMetrics
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewCheckoutService(
	carts repository.CartRepository,
	orders repository.OrderRepository,
	catalog repository.Catalog,
	c cache.CartCache,
	publisher events.Publisher,
	m *metrics.ServerMetrics,
	logger *zap.Logger,
) *CheckoutService {
	if c == nil {
		c = cache.NopCache{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &CheckoutService{
		carts:     carts,
		orders:    orders,
		catalog:   catalog,
		cache:     c,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "checkout")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner_id", req.OwnerID),
		attribute.Int("lines", len(req.Items)),
	)

	result, err := s.checkout(ctx, req)
	s.metrics.ObserveCheckout(resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order_id", result.Order.ID),
		attribute.Bool("created", result.Created),
	)
	return result, nil
}

func (s *CheckoutService) checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
		if err == nil {
			s.logger.Info("duplicate checkout request",
				zap.String("owner_id", req.OwnerID),
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID),
			)
			return &CheckoutResult{Order: existing}, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}

	// The live cart is read from the store; the cache may be stale.
	cart, err := s.carts.GetCart(ctx, req.OwnerID)
	if err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}
	for _, item := range req.Items {
		if _, ok := cart.Line(item.ProductID); !ok {
			return nil, domain.ItemNotInCartError(item.ProductID)
		}
	}

	lines, err := s.priceLines(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order, err := domain.NewOrder(s.newID(), req.OwnerID, lines, strings.TrimSpace(req.ShippingAddress), now)
	if err != nil {
		return nil, err
	}
	order.IdempotencyKey = req.IdempotencyKey

	if err := s.reserve(ctx, order); err != nil {
		return nil, err
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.release(ctx, order.ID, lines)
		if errors.Is(err, domain.ErrDuplicateCheckout) {
			// lost a race with a concurrent retry carrying the same key
			existing, findErr := s.orders.FindByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			return &CheckoutResult{Order: existing}, nil
		}
		return nil, err
	}

	if _, err := s.carts.ClearCart(ctx, req.OwnerID); err != nil {
		// the order stands; a leftover cart is harmless
		s.logger.Error("failed to clear cart after checkout",
			zap.String("owner_id", req.OwnerID),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
	s.invalidateCart(req.OwnerID)

	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("owner_id", order.OwnerID),
		zap.String("total", order.Total.StringFixed(2)),
	)
	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(events.TypeOrderPlaced, order, now))

	return &CheckoutResult{Order: order, Created: true}, nil
}

// priceLines snapshots name and current catalog price for each requested line
// and pre-checks stock. The pre-check is advisory; reserve is authoritative.
func (s *CheckoutService) priceLines(ctx context.Context, items []RequestedLine) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if item.Quantity > product.Stock {
			return nil, domain.InsufficientStockError(product.ID, product.Name)
		}
		lines = append(lines, domain.OrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
	}
	return lines, nil
}

// reserve decrements stock line by line. If any decrement fails the ones
// already applied are put back before returning.
func (s *CheckoutService) reserve(ctx context.Context, order *domain.Order) error {
	for i, line := range order.Items {
		if err := s.catalog.AdjustStock(ctx, line.ProductID, -line.Quantity); err != nil {
			s.logger.Info("stock reservation failed",
				zap.String("order_id", order.ID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
			s.release(ctx, order.ID, order.Items[:i])
			return err
		}
	}
	return nil
}

// release returns reserved stock. It runs detached from ctx so a cancelled
// request still undoes its own decrements.
func (s *CheckoutService) release(ctx context.Context, orderID string, lines []domain.OrderLine) {
	ctx = context.WithoutCancel(ctx)
	for _, line := range lines {
		if err := s.catalog.AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger.Error("failed to roll back stock reservation",
				zap.String("order_id", orderID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *CheckoutService) invalidateCart(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.logger.Warn("cart cache invalidate failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func publish(ctx context.Context, p events.Publisher, logger *zap.Logger, event events.OrderEvent) {
	if err := p.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("failed to publish order event",
			zap.String("event_type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}

// resultLabel buckets an outcome for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrItemNotInCart),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidStateTransition):
		return "rejected"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
		return "denied"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
