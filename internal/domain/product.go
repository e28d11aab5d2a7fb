package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Stock is the available quantity and never goes
// negative.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category,omitempty"`
	Tags        []string        `json:"tags"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ProductPatch carries the fields of a partial update; nil means unchanged.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	Category    *string
	Tags        []string
}

func (p ProductPatch) Apply(product *Product, now time.Time) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Stock != nil {
		product.Stock = *p.Stock
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.Tags != nil {
		product.Tags = p.Tags
	}
	product.UpdatedAt = now
}

type ProductQuery struct {
	Search string
	Page   int
	Size   int
}

// Skip is the number of documents before the requested page.
func (q ProductQuery) Skip() int {
	return PageSkip(q.Page, q.Size)
}

// PageSkip is the offset of a 1-based page. It saturates at math.MaxInt
// instead of overflowing.
func PageSkip(page, size int) int {
	if page < 1 || size < 1 {
		return 0
	}
	if page-1 > math.MaxInt/size {
		return math.MaxInt
	}
	return (page - 1) * size
}
