package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/go_shop/internal/domain"
)

type productDocument struct {
	ID           string               `bson:"_id"`
	Name         string               `bson:"name"`
	Description  string               `bson:"description,omitempty"`
	Price        primitive.Decimal128 `bson:"price"`
	Stock        int                  `bson:"stock"`
	Category     string               `bson:"category,omitempty"`
	Tags         []string             `bson:"tags"`
	IsActive     bool                 `bson:"is_active"`
	// order ids whose cancellation already credited this product
	Restorations []string             `bson:"restorations,omitempty"`
	CreatedAt    time.Time            `bson:"created_at"`
	UpdatedAt    time.Time            `bson:"updated_at"`
}

func (d productDocument) toDomain() (*domain.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, err
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return &domain.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       price,
		Stock:       d.Stock,
		Category:    d.Category,
		Tags:        tags,
		IsActive:    d.IsActive,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

// restorations are internal bookkeeping and never leave the repository
var productProjection = bson.M{"restorations": 0}

type mongoCatalog struct {
	collection *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) Catalog {
	return newMongoCatalog(db)
}

func newMongoCatalog(db *mongo.Database) *mongoCatalog {
	return &mongoCatalog{collection: db.Collection(productsCollection)}
}

func (m *mongoCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(productProjection),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoCatalog) AdjustStock(ctx context.Context, id string, delta int) error {
	filter := bson.M{"_id": id}
	if delta < 0 {
		// decrement only when enough stock remains, in one round trip
		filter["stock"] = bson.M{"$gte": -delta}
	}
	update := bson.M{
		"$inc": bson.M{"stock": delta},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}
	product, err := m.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	return domain.InsufficientStockError(product.ID, product.Name)
}

func (m *mongoCatalog) RestoreStock(ctx context.Context, id string, quantity int, token string) error {
	if quantity <= 0 {
		return domain.ValidationError("restore quantity must be greater than 0")
	}
	filter := bson.M{"_id": id, "restorations": bson.M{"$ne": token}}
	update := bson.M{
		"$inc":  bson.M{"stock": quantity},
		"$push": bson.M{"restorations": token},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}
	// Either already restored for this token or the product is gone.
	_, err = m.GetProduct(ctx, id)
	return err
}

func (m *mongoCatalog) ReleaseRestoration(ctx context.Context, id, token string) error {
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$pull": bson.M{"restorations": token}},
	)
	if err != nil {
		return fmt.Errorf("failed to release restoration: %w", err)
	}
	return nil
}

func (m *mongoCatalog) FindProducts(ctx context.Context, query domain.ProductQuery) ([]*domain.Product, int64, error) {
	filter := bson.M{}
	if query.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"name": pattern},
			bson.M{"description": pattern},
		}
	}

	total, err := m.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	opts := options.Find().
		SetProjection(productProjection).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(query.Skip())).
		SetLimit(int64(query.Size))
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find products: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode products: %w", err)
	}

	products := make([]*domain.Product, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.toDomain()
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, nil
}

func (m *mongoCatalog) CreateProduct(ctx context.Context, product *domain.Product) error {
	price, err := toDecimal128(product.Price)
	if err != nil {
		return err
	}
	doc := productDocument{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		Price:       price,
		Stock:       product.Stock,
		Category:    product.Category,
		Tags:        product.Tags,
		IsActive:    product.IsActive,
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: product %s already exists", domain.ErrConflict, product.ID)
		}
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (m *mongoCatalog) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch, now time.Time) (*domain.Product, error) {
	set := bson.M{"updated_at": now}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Price != nil {
		price, err := toDecimal128(*patch.Price)
		if err != nil {
			return nil, err
		}
		set["price"] = price
	}
	if patch.Stock != nil {
		set["stock"] = *patch.Stock
	}
	if patch.Category != nil {
		set["category"] = *patch.Category
	}
	if patch.Tags != nil {
		set["tags"] = patch.Tags
	}

	var doc productDocument
	err := m.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().
			SetProjection(productProjection).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoCatalog) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}
	return nil
}
