package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/repository"
)

type NewProduct struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
	Tags        []string
}

type ProductService struct {
	catalog repository.Catalog
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

func NewProductService(catalog repository.Catalog, logger *zap.Logger) *ProductService {
	return &ProductService{
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func (s *ProductService) List(ctx context.Context, query domain.ProductQuery) ([]*domain.Product, int64, error) {
	if err := ValidatePage(query.Page, query.Size); err != nil {
		return nil, 0, err
	}
	query.Search = strings.TrimSpace(query.Search)
	return s.catalog.FindProducts(ctx, query)
}

func (s *ProductService) Get(ctx context.Context, id string) (*domain.Product, error) {
	return s.catalog.GetProduct(ctx, id)
}

func (s *ProductService) Create(ctx context.Context, p domain.Principal, input NewProduct) (*domain.Product, error) {
	if !p.IsAdmin {
		return nil, domain.ErrAdminRequired
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domain.ValidationError("name is required")
	}
	if !input.Price.IsPositive() {
		return nil, domain.ValidationError("price must be greater than 0")
	}
	if input.Stock < 0 {
		return nil, domain.ValidationError("stock must not be negative")
	}

	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}
	now := s.now()
	product := &domain.Product{
		ID:          s.newID(),
		Name:        name,
		Description: input.Description,
		Price:       input.Price,
		Stock:       input.Stock,
		Category:    input.Category,
		Tags:        tags,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.catalog.CreateProduct(ctx, product); err != nil {
		s.logger.Error("failed to create product", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	s.logger.Info("product created", zap.String("product_id", product.ID), zap.String("admin_id", p.ID))
	return product, nil
}

// Update applies a partial change. It does not touch prices already captured
// in carts or orders.
func (s *ProductService) Update(ctx context.Context, p domain.Principal, id string, patch domain.ProductPatch) (*domain.Product, error) {
	if !p.IsAdmin {
		return nil, domain.ErrAdminRequired
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, domain.ValidationError("name must not be empty")
	}
	if patch.Price != nil && !patch.Price.IsPositive() {
		return nil, domain.ValidationError("price must be greater than 0")
	}
	if patch.Stock != nil && *patch.Stock < 0 {
		return nil, domain.ValidationError("stock must not be negative")
	}

	product, err := s.catalog.UpdateProduct(ctx, id, patch, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("product updated", zap.String("product_id", id), zap.String("admin_id", p.ID))
	return product, nil
}
