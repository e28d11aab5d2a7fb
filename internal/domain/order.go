package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine is a snapshot of the product taken when the order was created.
// Lines never change afterwards.
type OrderLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Items           []OrderLine     `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	IdempotencyKey  string          `json:"-"`
	// Cancelling is set once a cancellation has claimed the order and is
	// restoring stock.
	Cancelling bool `json:"-"`
	// RestorationsReleased is set once the per-product restore tokens of a
	// cancelled order have been dropped from the catalog.
	RestorationsReleased bool      `json:"-"`
	Version              int64     `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewOrder builds a pending order and fixes its total from the line snapshot.
func NewOrder(id, ownerID string, lines []OrderLine, shippingAddress string, now time.Time) (*Order, error) {
	if len(lines) == 0 {
		return nil, ValidationError("order must contain at least one line")
	}
	total := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ValidationError("quantity for product %s must be greater than 0", line.ProductID)
		}
		if !line.UnitPrice.IsPositive() {
			return nil, ValidationError("unit price for product %s must be greater than 0", line.ProductID)
		}
		total = total.Add(line.Subtotal())
	}
	return &Order{
		ID:              id,
		OwnerID:         ownerID,
		Items:           lines,
		Total:           total,
		Status:          OrderStatusPending,
		ShippingAddress: shippingAddress,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// CheckAccess allows the owner and admins.
func (o *Order) CheckAccess(p Principal) error {
	if p.IsAdmin || o.OwnerID == p.ID {
		return nil
	}
	return ErrNotOrderOwner
}

// CheckCancellable allows cancellation only from pending.
func (o *Order) CheckCancellable() error {
	if o.Status != OrderStatusPending {
		return InvalidTransitionError(o.Status, OrderStatusCancelled)
	}
	return nil
}

type OrderPage struct {
	Orders []*Order
	Total  int64
	Page   int
	Size   int
}

// Principal is the authenticated caller as reported by the identity provider.
type Principal struct {
	ID      string
	IsAdmin bool
}
