package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{collection: db.Collection("carts")}
}

func (m *MongoCartRepository) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

// SaveCart inserts the first version and afterwards replaces only the document
// still carrying cart.Version. The unique user_id index turns a racing first
// insert into a conflict.
func (m *MongoCartRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	next := *cart
	next.ID = ""
	next.Version = cart.Version + 1
	next.UpdatedAt = now
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	if cart.Version == 0 {
		if _, err := m.collection.InsertOne(ctx, next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to insert cart: %w", err)
		}
	} else {
		filter := bson.M{"user_id": cart.UserID, "version": cart.Version}
		res, err := m.collection.ReplaceOne(ctx, filter, next)
		if err != nil {
			return fmt.Errorf("failed to replace cart: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrVersionConflict
		}
	}

	cart.Version = next.Version
	cart.CreatedAt = next.CreatedAt
	cart.UpdatedAt = next.UpdatedAt
	return nil
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // abandoned carts go after 90 days
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
