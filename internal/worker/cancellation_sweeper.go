package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/repository"
)

const (
	defaultBatchSize = 100
	orderTimeout     = 30 * time.Second
)

// sweeperPrincipal stands in for the caller that claimed the order; access was
// checked before the claim.
var sweeperPrincipal = domain.Principal{ID: "cancellation-sweeper", IsAdmin: true}

type Canceller interface {
	Cancel(ctx context.Context, p domain.Principal, id string) (*domain.Order, error)
	ReleaseRestorations(ctx context.Context, order *domain.Order) error
}

// CancellationSweeper finishes cancellations that claimed an order and then
// stopped, e.g. because the process died while restoring stock. Stock restores
// are keyed by order id, so resuming never credits a line twice.
//
// Once a cancelled order is older than the grace period it also drops the
// order's restore tokens from the catalog, so product documents do not keep
// every cancellation forever. The grace period must outlast any in-flight
// cancel request.
type CancellationSweeper struct {
	orders    repository.OrderRepository
	canceller Canceller
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewCancellationSweeper(orders repository.OrderRepository, canceller Canceller, interval, grace time.Duration, logger *zap.Logger) *CancellationSweeper {
	return &CancellationSweeper{
		orders:    orders,
		canceller: canceller,
		interval:  interval,
		grace:     grace,
		batchSize: defaultBatchSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *CancellationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
			s.Release(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep resumes one batch of stuck cancellations and reports how many
// completed.
func (s *CancellationSweeper) Sweep(ctx context.Context) int {
	stuck, err := s.orders.FindStuckCancellations(ctx, s.now().Add(-s.grace), s.batchSize)
	if err != nil {
		s.logger.Error("failed to find stuck cancellations", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, order := range stuck {
		if ctx.Err() != nil {
			break
		}
		s.logger.Info("resuming stuck cancellation",
			zap.String("order_id", order.ID),
			zap.Time("claimed_at", order.UpdatedAt),
		)
		orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
		_, err := s.canceller.Cancel(orderCtx, sweeperPrincipal, order.ID)
		cancel()
		if err != nil {
			s.logger.Warn("failed to resume cancellation", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered
}

// Release drops the restore tokens of one batch of settled cancellations and
// reports how many orders it released.
func (s *CancellationSweeper) Release(ctx context.Context) int {
	settled, err := s.orders.FindUnreleasedCancellations(ctx, s.now().Add(-s.grace), s.batchSize)
	if err != nil {
		s.logger.Error("failed to find settled cancellations", zap.Error(err))
		return 0
	}

	released := 0
	for _, order := range settled {
		if ctx.Err() != nil {
			break
		}
		orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
		err := s.canceller.ReleaseRestorations(orderCtx, order)
		cancel()
		if err != nil {
			s.logger.Warn("failed to release restore tokens", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		released++
	}
	if released > 0 {
		s.logger.Debug("released restore tokens", zap.Int("orders", released))
	}
	return released
}
