package pairing

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/storage"
)

// MongoStore keys documents by code. Take is a single FindOneAndDelete, which
// Mongo applies atomically per document.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, coll *mongo.Collection) (*MongoStore, error) {
	err := storage.EnsureIndexes(ctx, coll,
		mongo.IndexModel{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "device_id", Value: 1}}},
	)
	if err != nil {
		return nil, err
	}
	return &MongoStore{coll: coll}, nil
}

func (m *MongoStore) Insert(ctx context.Context, c Code) error {
	_, err := m.coll.InsertOne(ctx, c)
	if storage.IsDuplicateKey(err) {
		return ErrDuplicateCode
	}
	return err
}

func (m *MongoStore) Get(ctx context.Context, code string) (Code, error) {
	var c Code
	err := m.coll.FindOne(ctx, bson.M{"_id": code}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Code{}, ErrCodeNotFound
	}
	return c, err
}

func (m *MongoStore) Take(ctx context.Context, code string) (Code, error) {
	var c Code
	err := m.coll.FindOneAndDelete(ctx, bson.M{"_id": code}, options.FindOneAndDelete()).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Code{}, ErrCodeNotFound
	}
	return c, err
}

func (m *MongoStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}
