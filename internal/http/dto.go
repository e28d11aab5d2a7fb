package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/service"
)

// Money values leave the API as fixed two-place strings.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type CartItemRequestDTO struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type CartItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type CartResponseDTO struct {
	OwnerID    string        `json:"owner_id"`
	Items      []CartItemDTO `json:"items"`
	TotalPrice string        `json:"total_price"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func newCartResponse(c *domain.Cart) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, CartItemDTO{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: money(item.UnitPrice),
			Subtotal:  money(item.Subtotal()),
		})
	}
	return CartResponseDTO{
		OwnerID:    c.OwnerID,
		Items:      items,
		TotalPrice: money(c.Total()),
		UpdatedAt:  c.UpdatedAt,
	}
}

type CheckoutRequestDTO struct {
	Items           []CartItemRequestDTO `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string               `json:"shipping_address" validate:"required"`
}

func (d CheckoutRequestDTO) toRequest(ownerID, idempotencyKey string) service.CheckoutRequest {
	lines := make([]service.RequestedLine, 0, len(d.Items))
	for _, item := range d.Items {
		lines = append(lines, service.RequestedLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return service.CheckoutRequest{
		OwnerID:         ownerID,
		Items:           lines,
		ShippingAddress: d.ShippingAddress,
		IdempotencyKey:  idempotencyKey,
	}
}

type OrderItemDTO struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type OrderResponseDTO struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Items           []OrderItemDTO `json:"items"`
	Total           string         `json:"total"`
	Status          string         `json:"status"`
	ShippingAddress string         `json:"shipping_address"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newOrderResponse(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, line := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   money(line.UnitPrice),
			Subtotal:    money(line.Subtotal()),
		})
	}
	return OrderResponseDTO{
		ID:              o.ID,
		OwnerID:         o.OwnerID,
		Items:           items,
		Total:           money(o.Total),
		Status:          o.Status.String(),
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type OrdersPageDTO struct {
	Orders []OrderResponseDTO `json:"orders"`
	Total  int64              `json:"total"`
	Page   int                `json:"page"`
	Size   int                `json:"size"`
}

func newOrdersPage(p *domain.OrderPage) OrdersPageDTO {
	orders := make([]OrderResponseDTO, 0, len(p.Orders))
	for _, o := range p.Orders {
		orders = append(orders, newOrderResponse(o))
	}
	return OrdersPageDTO{Orders: orders, Total: p.Total, Page: p.Page, Size: p.Size}
}

type CreateProductRequestDTO struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"min=0"`
	Category    string          `json:"category"`
	Tags        []string        `json:"tags"`
}

func (d CreateProductRequestDTO) toInput() service.NewProduct {
	return service.NewProduct{
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Stock:       d.Stock,
		Category:    d.Category,
		Tags:        d.Tags,
	}
}

type UpdateProductRequestDTO struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" validate:"omitempty,min=0"`
	Category    *string          `json:"category"`
	Tags        []string         `json:"tags"`
}

func (d UpdateProductRequestDTO) toPatch() domain.ProductPatch {
	return domain.ProductPatch{
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Stock:       d.Stock,
		Category:    d.Category,
		Tags:        d.Tags,
	}
}

type ProductResponseDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newProductResponse(p *domain.Product) ProductResponseDTO {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return ProductResponseDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       money(p.Price),
		Stock:       p.Stock,
		Category:    p.Category,
		Tags:        tags,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type ProductsPageDTO struct {
	Products []ProductResponseDTO `json:"products"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	Size     int                  `json:"size"`
}
