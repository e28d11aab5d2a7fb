package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/go_shop/internal/domain"
)

type orderDocument struct {
	ID              string               `bson:"_id"`
	OwnerID         string               `bson:"owner_id"`
	Items           []orderLineDocument  `bson:"items"`
	Total           primitive.Decimal128 `bson:"total"`
	Status          string               `bson:"status"`
	ShippingAddress string               `bson:"shipping_address"`
	IdempotencyKey  string               `bson:"idempotency_key,omitempty"`
	Cancelling      bool                 `bson:"cancelling"`
	Released        bool                 `bson:"restorations_released"`
	Version         int64                `bson:"version"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

type orderLineDocument struct {
	ProductID   string               `bson:"product_id"`
	ProductName string               `bson:"product_name"`
	Quantity    int                  `bson:"quantity"`
	UnitPrice   primitive.Decimal128 `bson:"unit_price"`
}

func newOrderDocument(o *domain.Order) (*orderDocument, error) {
	total, err := toDecimal128(o.Total)
	if err != nil {
		return nil, err
	}
	doc := &orderDocument{
		ID:              o.ID,
		OwnerID:         o.OwnerID,
		Items:           make([]orderLineDocument, 0, len(o.Items)),
		Total:           total,
		Status:          string(o.Status),
		ShippingAddress: o.ShippingAddress,
		IdempotencyKey:  o.IdempotencyKey,
		Cancelling:      o.Cancelling,
		Released:        o.RestorationsReleased,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, line := range o.Items {
		price, err := toDecimal128(line.UnitPrice)
		if err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, orderLineDocument{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   price,
		})
	}
	return doc, nil
}

func (d orderDocument) toDomain() (*domain.Order, error) {
	total, err := fromDecimal128(d.Total)
	if err != nil {
		return nil, err
	}
	order := &domain.Order{
		ID:                   d.ID,
		OwnerID:              d.OwnerID,
		Items:                make([]domain.OrderLine, 0, len(d.Items)),
		Total:                total,
		Status:               domain.OrderStatus(d.Status),
		ShippingAddress:      d.ShippingAddress,
		IdempotencyKey:       d.IdempotencyKey,
		Cancelling:           d.Cancelling,
		RestorationsReleased: d.Released,
		Version:              d.Version,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	for _, line := range d.Items {
		price, err := fromDecimal128(line.UnitPrice)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   price,
		})
	}
	return order, nil
}

type mongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) OrderRepository {
	return newMongoOrderRepository(db)
}

func newMongoOrderRepository(db *mongo.Database) *mongoOrderRepository {
	return &mongoOrderRepository{collection: db.Collection(ordersCollection)}
}

func (m *mongoOrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	doc, err := newOrderDocument(order)
	if err != nil {
		return err
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) && order.IdempotencyKey != "" {
			return domain.ErrDuplicateCheckout
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (m *mongoOrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *mongoOrderRepository) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Order, error) {
	return m.findOne(ctx, bson.M{"owner_id": ownerID, "idempotency_key": key})
}

func (m *mongoOrderRepository) ListOrders(ctx context.Context, ownerID string, page, size int) (*domain.OrderPage, error) {
	filter := bson.M{"owner_id": ownerID}

	total, err := m.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(domain.PageSkip(page, size))).
		SetLimit(int64(size))
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	result := &domain.OrderPage{Orders: make([]*domain.Order, 0, len(docs)), Total: total, Page: page, Size: size}
	for _, doc := range docs {
		order, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		result.Orders = append(result.Orders, order)
	}
	return result, nil
}

func (m *mongoOrderRepository) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.OrderStatus, now time.Time) (*domain.Order, error) {
	filter := bson.M{"_id": id, "version": expectedVersion, "cancelling": false}
	update := bson.M{
		"$set": bson.M{"status": string(status), "updated_at": now},
		"$inc": bson.M{"version": 1},
	}
	return m.compareAndSwap(ctx, id, filter, update)
}

func (m *mongoOrderRepository) ClaimCancellation(ctx context.Context, id string, expectedVersion int64, now time.Time) (*domain.Order, error) {
	filter := bson.M{
		"_id":        id,
		"version":    expectedVersion,
		"status":     string(domain.OrderStatusPending),
		"cancelling": false,
	}
	update := bson.M{
		"$set": bson.M{"cancelling": true, "updated_at": now},
		"$inc": bson.M{"version": 1},
	}
	return m.compareAndSwap(ctx, id, filter, update)
}

func (m *mongoOrderRepository) FinalizeCancellation(ctx context.Context, id string, now time.Time) (*domain.Order, error) {
	filter := bson.M{
		"_id":        id,
		"status":     string(domain.OrderStatusPending),
		"cancelling": true,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     string(domain.OrderStatusCancelled),
			"cancelling": false,
			"updated_at": now,
		},
		"$inc": bson.M{"version": 1},
	}
	return m.compareAndSwap(ctx, id, filter, update)
}

func (m *mongoOrderRepository) FindStuckCancellations(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return m.findOldest(ctx, bson.M{
		"cancelling": true,
		"updated_at": bson.M{"$lt": before},
	}, limit)
}

func (m *mongoOrderRepository) FindUnreleasedCancellations(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return m.findOldest(ctx, bson.M{
		"status":                string(domain.OrderStatusCancelled),
		"restorations_released": false,
		"updated_at":            bson.M{"$lt": before},
	}, limit)
}

func (m *mongoOrderRepository) MarkRestorationsReleased(ctx context.Context, id string) error {
	result, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(domain.OrderStatusCancelled)},
		bson.M{"$set": bson.M{"restorations_released": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark restorations released: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := m.GetOrder(ctx, id); err != nil {
			return err
		}
		return domain.ErrConcurrentModification
	}
	return nil
}

// findOldest lists orders matching filter by updated_at ascending.
func (m *mongoOrderRepository) findOldest(ctx context.Context, filter bson.M, limit int) ([]*domain.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	orders := make([]*domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// compareAndSwap applies update when filter still matches. A miss on an
// existing order is reported as domain.ErrConcurrentModification.
func (m *mongoOrderRepository) compareAndSwap(ctx context.Context, id string, filter, update bson.M) (*domain.Order, error) {
	var doc orderDocument
	err := m.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := m.GetOrder(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrConcurrentModification
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*domain.Order, error) {
	var doc orderDocument
	if err := m.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoOrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetPartialFilterExpression(bson.M{"cancelling": true}),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetPartialFilterExpression(bson.M{"restorations_released": false}),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}
