package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
)

type BreakerSettings struct {
	// consecutive failures before the breaker opens
	MaxFailures uint32
	// how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

var DefaultBreakerSettings = BreakerSettings{MaxFailures: 5, OpenTimeout: 30 * time.Second}

// BreakerCache guards a CartCache with a circuit breaker so a failing Redis
// stops adding latency to cart requests. Misses do not count as failures.
// Delete always reaches the backend: an invalidation dropped while the breaker
// is open would let Redis serve a stale cart once it recovers.
type BreakerCache struct {
	next CartCache
	cb   *gobreaker.CircuitBreaker[*domain.Cart]
}

func NewBreakerCache(next CartCache, settings BreakerSettings, logger *zap.Logger) *BreakerCache {
	cb := gobreaker.NewCircuitBreaker[*domain.Cart](gobreaker.Settings{
		Name:        "cart-cache",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerCache{next: next, cb: cb}
}

func (b *BreakerCache) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	return b.cb.Execute(func() (*domain.Cart, error) {
		return b.next.Get(ctx, ownerID)
	})
}

func (b *BreakerCache) Set(ctx context.Context, ownerID string, cart *domain.Cart) error {
	_, err := b.cb.Execute(func() (*domain.Cart, error) {
		return nil, b.next.Set(ctx, ownerID, cart)
	})
	return err
}

func (b *BreakerCache) Delete(ctx context.Context, ownerID string) error {
	return b.next.Delete(ctx, ownerID)
}

func (b *BreakerCache) State() gobreaker.State {
	return b.cb.State()
}
