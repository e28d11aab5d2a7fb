package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/repository"
)

var (
	_ repository.CartRepository  = (*MemoryStore)(nil)
	_ repository.OrderRepository = (*MemoryStore)(nil)
	_ repository.Catalog         = (*MemoryStore)(nil)
)

// MemoryStore implements the cart, order and catalog repositories in memory.
// Every operation holds the lock for its whole read-check-write, which gives it
// the same atomicity the conditional Mongo updates have.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]*domain.Product // productID -> product
	restorations map[string]map[string]struct{} // productID -> order ids already credited
	carts        map[string]*domain.Cart  // ownerID -> cart
	orders       map[string]*domain.Order // orderID -> order
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*domain.Product),
		restorations: make(map[string]map[string]struct{}),
		carts:        make(map[string]*domain.Cart),
		orders:       make(map[string]*domain.Order),
	}
}

// Catalog

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return cloneProduct(p), nil
}

func (s *MemoryStore) AdjustStock(_ context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return domain.InsufficientStockError(p.ID, p.Name)
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RestoreStock(_ context.Context, id string, quantity int, token string) error {
	if quantity <= 0 {
		return domain.ValidationError("restore quantity must be greater than 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	applied := s.restorations[id]
	if _, done := applied[token]; done {
		return nil
	}
	if applied == nil {
		applied = make(map[string]struct{})
		s.restorations[id] = applied
	}
	applied[token] = struct{}{}
	p.Stock += quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReleaseRestoration(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := s.restorations[id]
	delete(applied, token)
	if len(applied) == 0 {
		delete(s.restorations, id)
	}
	return nil
}

func (s *MemoryStore) FindProducts(_ context.Context, query domain.ProductQuery) ([]*domain.Product, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query.Search)
	matched := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	result := make([]*domain.Product, 0, query.Size)
	for _, p := range paginate(matched, query.Skip(), query.Size) {
		result = append(result, cloneProduct(p))
	}
	return result, total, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, product *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return fmt.Errorf("%w: product %s already exists", domain.ErrConflict, product.ID)
	}
	s.products[product.ID] = cloneProduct(product)
	return nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, id string, patch domain.ProductPatch, now time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	patch.Apply(p, now)
	return cloneProduct(p), nil
}

// Carts

func (s *MemoryStore) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[ownerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return cloneCart(cart), nil
}

func (s *MemoryStore) AddItem(_ context.Context, ownerID string, line domain.CartLine) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cart, ok := s.carts[ownerID]
	if !ok {
		cart = &domain.Cart{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Items:     []domain.CartLine{},
			CreatedAt: now,
		}
		s.carts[ownerID] = cart
	}
	cart.Merge(line, now)
	return cloneCart(cart), nil
}

func (s *MemoryStore) UpdateItemQuantity(_ context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[ownerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity = quantity
			cart.UpdatedAt = time.Now().UTC()
			return cloneCart(cart), nil
		}
	}
	return nil, domain.ErrCartItemNotFound
}

func (s *MemoryStore) RemoveItem(_ context.Context, ownerID, productID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[ownerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
	cart.UpdatedAt = time.Now().UTC()
	return cloneCart(cart), nil
}

func (s *MemoryStore) ClearCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cart, ok := s.carts[ownerID]
	if !ok {
		return &domain.Cart{OwnerID: ownerID, Items: []domain.CartLine{}, UpdatedAt: now}, nil
	}
	cart.Items = []domain.CartLine{}
	cart.UpdatedAt = now
	return cloneCart(cart), nil
}

// Orders

func (s *MemoryStore) CreateOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, order.ID)
	}
	if order.IdempotencyKey != "" {
		for _, existing := range s.orders {
			if existing.OwnerID == order.OwnerID && existing.IdempotencyKey == order.IdempotencyKey {
				return domain.ErrDuplicateCheckout
			}
		}
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, ownerID, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if order.OwnerID == ownerID && key != "" && order.IdempotencyKey == key {
			return cloneOrder(order), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *MemoryStore) ListOrders(_ context.Context, ownerID string, page, size int) (*domain.OrderPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]*domain.Order, 0)
	for _, order := range s.orders {
		if order.OwnerID == ownerID {
			owned = append(owned, order)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	result := &domain.OrderPage{Orders: []*domain.Order{}, Total: int64(len(owned)), Page: page, Size: size}
	for _, order := range paginate(owned, domain.PageSkip(page, size), size) {
		result.Orders = append(result.Orders, cloneOrder(order))
	}
	return result, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, expectedVersion int64, status domain.OrderStatus, now time.Time) (*domain.Order, error) {
	return s.compareAndSwap(id, func(o *domain.Order) bool {
		if o.Version != expectedVersion || o.Cancelling {
			return false
		}
		o.Status = status
		return true
	}, now)
}

func (s *MemoryStore) ClaimCancellation(_ context.Context, id string, expectedVersion int64, now time.Time) (*domain.Order, error) {
	return s.compareAndSwap(id, func(o *domain.Order) bool {
		if o.Version != expectedVersion || o.Status != domain.OrderStatusPending || o.Cancelling {
			return false
		}
		o.Cancelling = true
		return true
	}, now)
}

func (s *MemoryStore) FinalizeCancellation(_ context.Context, id string, now time.Time) (*domain.Order, error) {
	return s.compareAndSwap(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusPending || !o.Cancelling {
			return false
		}
		o.Status = domain.OrderStatusCancelled
		o.Cancelling = false
		return true
	}, now)
}

func (s *MemoryStore) FindStuckCancellations(_ context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return s.findOldest(func(o *domain.Order) bool {
		return o.Cancelling && o.UpdatedAt.Before(before)
	}, limit), nil
}

func (s *MemoryStore) FindUnreleasedCancellations(_ context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return s.findOldest(func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusCancelled && !o.RestorationsReleased && o.UpdatedAt.Before(before)
	}, limit), nil
}

func (s *MemoryStore) MarkRestorationsReleased(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusCancelled {
		return domain.ErrConcurrentModification
	}
	released := cloneOrder(order)
	released.RestorationsReleased = true
	s.orders[id] = released
	return nil
}

func (s *MemoryStore) findOldest(match func(*domain.Order) bool, limit int) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make([]*domain.Order, 0)
	for _, order := range s.orders {
		if match(order) {
			found = append(found, order)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].UpdatedAt.Before(found[j].UpdatedAt)
	})

	result := make([]*domain.Order, 0, len(found))
	for _, order := range paginate(found, 0, limit) {
		result = append(result, cloneOrder(order))
	}
	return result
}

// compareAndSwap runs mutate under the write lock and bumps the version when
// it reports a change.
func (s *MemoryStore) compareAndSwap(id string, mutate func(*domain.Order) bool, now time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	candidate := cloneOrder(order)
	if !mutate(candidate) {
		return nil, domain.ErrConcurrentModification
	}
	candidate.Version++
	candidate.UpdatedAt = now
	s.orders[id] = candidate
	return cloneOrder(candidate), nil
}

func paginate[T any](items []T, skip, size int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) || size <= 0 {
		return nil
	}
	end := skip + size
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	c.Tags = append([]string{}, p.Tags...)
	return &c
}

func cloneCart(cart *domain.Cart) *domain.Cart {
	c := *cart
	c.Items = append([]domain.CartLine{}, cart.Items...)
	return &c
}

func cloneOrder(order *domain.Order) *domain.Order {
	c := *order
	c.Items = append([]domain.OrderLine{}, order.Items...)
	return &c
}
