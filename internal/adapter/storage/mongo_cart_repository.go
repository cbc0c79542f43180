package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/fish-market/internal/core/domain"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// MongoCartRepository stores one document per customer, guarded by a
// version field for optimistic locking.
type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{collection: db.Collection("carts")}
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "customer_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoCartRepository) GetCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := m.collection.FindOne(ctx, bson.M{"customer_id": customerID}).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartLine{}
	}
	return &cart, nil
}

func (m *MongoCartRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	next := *cart
	next.Version = cart.Version + 1
	if next.Items == nil {
		next.Items = []domain.CartLine{}
	}

	if cart.Version == 0 {
		_, err := m.collection.InsertOne(ctx, next)
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrCartConflict
		}
		if err != nil {
			return fmt.Errorf("failed to create cart: %w", err)
		}
		cart.Version = next.Version
		return nil
	}

	filter := bson.M{"customer_id": cart.CustomerID, "version": cart.Version}
	result, err := m.collection.ReplaceOne(ctx, filter, next)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrCartConflict
	}
	cart.Version = next.Version
	return nil
}

func (m *MongoCartRepository) ClearCart(ctx context.Context, customerID string) error {
	if _, err := m.collection.UpdateOne(ctx, bson.M{"customer_id": customerID}, clearUpdate()); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (m *MongoCartRepository) ClearCartIfVersion(ctx context.Context, customerID string, version int) error {
	filter := bson.M{"customer_id": customerID, "version": version}
	result, err := m.collection.UpdateOne(ctx, filter, clearUpdate())
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrCartConflict
	}
	return nil
}

func clearUpdate() bson.M {
	return bson.M{
		"$set": bson.M{"items": []domain.CartLine{}, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}
}
