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

// concurrent first adds for one owner race on the unique user_id index
const maxAddAttempts = 3

type cartDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	OwnerID   string             `bson:"user_id"`
	Items     []cartLineDocument `bson:"items"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type cartLineDocument struct {
	ProductID string               `bson:"product_id"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	AddedAt   time.Time            `bson:"added_at"`
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:        d.ID.Hex(),
		OwnerID:   d.OwnerID,
		Items:     make([]domain.CartLine, 0, len(d.Items)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		price, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, domain.CartLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			AddedAt:   item.AddedAt,
		})
	}
	return cart, nil
}

type mongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) CartRepository {
	return newMongoCartRepository(db)
}

func newMongoCartRepository(db *mongo.Database) *mongoCartRepository {
	return &mongoCartRepository{collection: db.Collection(cartsCollection)}
}

func (m *mongoCartRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"user_id": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.toDomain()
}

func (m *mongoCartRepository) AddItem(ctx context.Context, ownerID string, line domain.CartLine) (*domain.Cart, error) {
	price, err := toDecimal128(line.UnitPrice)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		now := time.Now().UTC()

		// Existing line: sum quantities in place, price snapshot untouched
		merged, err := m.collection.UpdateOne(ctx,
			bson.M{"user_id": ownerID, "items.product_id": line.ProductID},
			bson.M{
				"$inc": bson.M{"items.$.quantity": line.Quantity},
				"$set": bson.M{"updated_at": now},
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to merge cart item: %w", err)
		}
		if merged.MatchedCount > 0 {
			return m.GetCart(ctx, ownerID)
		}

		// New line, creating the cart if needed
		_, err = m.collection.UpdateOne(ctx,
			bson.M{"user_id": ownerID, "items.product_id": bson.M{"$ne": line.ProductID}},
			bson.M{
				"$push": bson.M{"items": cartLineDocument{
					ProductID: line.ProductID,
					Quantity:  line.Quantity,
					UnitPrice: price,
					AddedAt:   now,
				}},
				"$set":         bson.M{"updated_at": now},
				"$setOnInsert": bson.M{"created_at": now},
			},
			options.Update().SetUpsert(true),
		)
		if err == nil {
			return m.GetCart(ctx, ownerID)
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= maxAddAttempts {
			return nil, fmt.Errorf("failed to add cart item: %w", err)
		}
		// The line appeared concurrently; merge on the next pass.
	}
}

func (m *mongoCartRepository) UpdateItemQuantity(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	filter := bson.M{
		"user_id":          ownerID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity": quantity,
			"updated_at":             time.Now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"elem.product_id": productID}},
		}).
		SetReturnDocument(options.After)

	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := m.GetCart(ctx, ownerID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrCartItemNotFound
		}
		return nil, fmt.Errorf("failed to update item quantity: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoCartRepository) RemoveItem(ctx context.Context, ownerID, productID string) (*domain.Cart, error) {
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}

	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx, bson.M{"user_id": ownerID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoCartRepository) ClearCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"items": bson.A{}, "updated_at": now}}

	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx, bson.M{"user_id": ownerID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &domain.Cart{OwnerID: ownerID, Items: []domain.CartLine{}, UpdatedAt: now}, nil
		}
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	return nil
}
