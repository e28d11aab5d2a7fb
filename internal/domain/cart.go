package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the per-owner staging area. At most one cart exists per owner and it
// holds at most one line per product.
type Cart struct {
	ID        string     `json:"id,omitempty"`
	OwnerID   string     `json:"owner_id"`
	Items     []CartLine `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartLine keeps the unit price seen when the product was added.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
}

func (l CartLine) Validate() error {
	if l.ProductID == "" {
		return ValidationError("product_id is required")
	}
	if l.Quantity <= 0 {
		return ValidationError("quantity must be greater than 0")
	}
	if !l.UnitPrice.IsPositive() {
		return ValidationError("unit_price must be greater than 0")
	}
	return nil
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Line returns the line for productID, if present.
func (c *Cart) Line(productID string) (CartLine, bool) {
	if c == nil {
		return CartLine{}, false
	}
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartLine{}, false
}

// Merge adds line to the cart, summing quantities when the product is already
// present. The existing unit price snapshot is kept on merge.
func (c *Cart) Merge(line CartLine, now time.Time) {
	for i := range c.Items {
		if c.Items[i].ProductID == line.ProductID {
			c.Items[i].Quantity += line.Quantity
			c.UpdatedAt = now
			return
		}
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = now
	}
	c.Items = append(c.Items, line)
	c.UpdatedAt = now
}

// Total is the sum of line subtotals at their snapshotted prices.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}
