package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/events"
	"github.com/fjod/go_shop/internal/metrics"
	"github.com/fjod/go_shop/internal/repository"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	MaxPage         = 1_000_000
)

// OrderService governs reads, admin status changes and cancellation of orders.
type OrderService struct {
	orders    repository.OrderRepository
	catalog   repository.Catalog
	publisher events.Publisher
	metrics   *metrics.ServerMetrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrderService(
	orders repository.OrderRepository,
	catalog repository.Catalog,
	publisher events.Publisher,
	m *metrics.ServerMetrics,
	logger *zap.Logger,
) *OrderService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &OrderService{
		orders:    orders,
		catalog:   catalog,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) GetOrder(ctx context.Context, p domain.Principal, id string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := order.CheckAccess(p); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, p domain.Principal, page, size int) (*domain.OrderPage, error) {
	if err := ValidatePage(page, size); err != nil {
		return nil, err
	}
	return s.orders.ListOrders(ctx, p.ID, page, size)
}

// SetStatus moves an order forward along pending, confirmed, shipped,
// delivered. Steps may be skipped but never reversed. Cancellation has its own
// path because it must restore stock.
func (s *OrderService) SetStatus(ctx context.Context, p domain.Principal, id string, next domain.OrderStatus) (*domain.Order, error) {
	if !p.IsAdmin {
		return nil, domain.ErrAdminRequired
	}
	if !next.IsValid() {
		return nil, domain.ValidationError("unknown order status %q", next)
	}
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Cancelling {
		return nil, domain.ErrConcurrentModification
	}
	if !order.Status.CanAdvanceTo(next) {
		return nil, domain.InvalidTransitionError(order.Status, next)
	}

	updated, err := s.orders.UpdateStatus(ctx, id, order.Version, next, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", order.Status.String()),
		zap.String("to", next.String()),
		zap.String("admin_id", p.ID),
	)
	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(events.TypeOrderStatusChanged, updated, updated.UpdatedAt))
	return updated, nil
}

// Cancel restores the stock of a pending order and marks it cancelled. The
// order is claimed first so no status change can slip in while stock is being
// restored. A failed restore leaves the claim in place and a retry resumes
// from it; restores are keyed by order id so nothing is credited twice.
func (s *OrderService) Cancel(ctx context.Context, p domain.Principal, id string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "cancel_order")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id))

	order, err := s.cancel(ctx, p, id)
	s.metrics.ObserveCancellation(resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return order, nil
}

func (s *OrderService) cancel(ctx context.Context, p domain.Principal, id string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := order.CheckAccess(p); err != nil {
		return nil, err
	}
	if err := order.CheckCancellable(); err != nil {
		return nil, err
	}

	if !order.Cancelling {
		order, err = s.orders.ClaimCancellation(ctx, id, order.Version, s.now())
		if err != nil {
			return nil, err
		}
	} else {
		s.logger.Info("resuming interrupted cancellation", zap.String("order_id", id))
	}

	for _, line := range order.Items {
		if err := s.catalog.RestoreStock(ctx, line.ProductID, line.Quantity, order.ID); err != nil {
			s.logger.Error("failed to restore stock for cancelled order",
				zap.String("order_id", order.ID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
			return nil, err
		}
	}

	cancelled, err := s.orders.FinalizeCancellation(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			s.logger.Warn("cancellation finalized concurrently", zap.String("order_id", id))
		}
		return nil, err
	}

	s.logger.Info("order cancelled", zap.String("order_id", id), zap.String("by", p.ID))
	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(events.TypeOrderCancelled, cancelled, cancelled.UpdatedAt))
	return cancelled, nil
}

// ReleaseRestorations drops the restore tokens a cancelled order left on its
// products. Callers must wait until no cancellation of the order can still be
// in flight; a late restore would otherwise credit stock again.
func (s *OrderService) ReleaseRestorations(ctx context.Context, order *domain.Order) error {
	if order.Status != domain.OrderStatusCancelled {
		return domain.InvalidTransitionError(order.Status, domain.OrderStatusCancelled)
	}
	for _, line := range order.Items {
		if err := s.catalog.ReleaseRestoration(ctx, line.ProductID, order.ID); err != nil {
			return err
		}
	}
	return s.orders.MarkRestorationsReleased(ctx, order.ID)
}

func ValidatePage(page, size int) error {
	if page < 1 || page > MaxPage {
		return domain.ValidationError("page must be between 1 and %d", MaxPage)
	}
	if size < 1 || size > MaxPageSize {
		return domain.ValidationError("size must be between 1 and %d", MaxPageSize)
	}
	return nil
}
