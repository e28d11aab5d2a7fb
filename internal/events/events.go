package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_shop/internal/domain"
)

const (
	TypeOrderPlaced        = "order.placed"
	TypeOrderCancelled     = "order.cancelled"
	TypeOrderStatusChanged = "order.status_changed"
)

type OrderEvent struct {
	ID         string             `json:"event_id"`
	Type       string             `json:"event_type"`
	OrderID    string             `json:"order_id"`
	OwnerID    string             `json:"owner_id"`
	Status     domain.OrderStatus `json:"status"`
	Total      decimal.Decimal    `json:"total"`
	Items      []domain.OrderLine `json:"items,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func NewOrderEvent(eventType string, order *domain.Order, now time.Time) OrderEvent {
	return OrderEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    order.ID,
		OwnerID:    order.OwnerID,
		Status:     order.Status,
		Total:      order.Total,
		Items:      order.Items,
		OccurredAt: now,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
