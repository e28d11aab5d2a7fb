package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_shop/internal/cache"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/repository"
)

const cacheOpTimeout = time.Second

type CartService struct {
	repo    repository.CartRepository
	catalog repository.Catalog
	cache   cache.CartCache
	logger  *zap.Logger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.CartRepository, catalog repository.Catalog, c cache.CartCache, logger *zap.Logger) *CartService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &CartService{
		repo:    repo,
		catalog: catalog,
		cache:   c,
		logger:  logger,
	}
}

// GetCart returns the owner's cart, or an empty one when none exists yet.
func (s *CartService) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(ownerID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cart cache get failed", zap.String("owner_id", ownerID), zap.Error(err))
		}

		cart, err = s.repo.GetCart(ctx, ownerID)
		if errors.Is(err, domain.ErrCartNotFound) {
			now := time.Now().UTC()
			return &domain.Cart{OwnerID: ownerID, Items: []domain.CartLine{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		go s.fillCache(ownerID, cart)

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// AddItem snapshots the current catalog price and merges the line into the
// cart. The stock check here is advisory; checkout enforces it atomically.
func (s *CartService) AddItem(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.ValidationError("quantity must be greater than 0")
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Stock < quantity {
		return nil, domain.InsufficientStockError(product.ID, product.Name)
	}

	line := domain.CartLine{ProductID: product.ID, Quantity: quantity, UnitPrice: product.Price}
	if err := line.Validate(); err != nil {
		return nil, err
	}

	cart, err := s.repo.AddItem(ctx, ownerID, line)
	if err != nil {
		s.logger.Error("repo add item failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	s.invalidateCache(ownerID)
	return cart, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.ValidationError("quantity must be greater than 0")
	}
	cart, err := s.repo.UpdateItemQuantity(ctx, ownerID, productID, quantity)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("repo update item quantity failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
		return nil, err
	}

	s.invalidateCache(ownerID)
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, ownerID, productID string) (*domain.Cart, error) {
	cart, err := s.repo.RemoveItem(ctx, ownerID, productID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("repo remove item failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
		return nil, err
	}

	s.invalidateCache(ownerID)
	return cart, nil
}

func (s *CartService) ClearCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	cart, err := s.repo.ClearCart(ctx, ownerID)
	if err != nil {
		s.logger.Error("repo clear cart failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	s.invalidateCache(ownerID)
	return cart, nil
}

func (s *CartService) fillCache(ownerID string, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, ownerID, cart); err != nil {
		s.logger.Warn("cart cache set failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func (s *CartService) invalidateCache(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.logger.Warn("cart cache invalidate failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}
