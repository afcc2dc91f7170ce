package session

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/storage"
)

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, coll *mongo.Collection) (*MongoStore, error) {
	err := storage.EnsureIndexes(ctx, coll,
		mongo.IndexModel{Keys: bson.D{{Key: "access_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		mongo.IndexModel{Keys: bson.D{{Key: "refresh_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		mongo.IndexModel{Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "active", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "active", Value: 1}, {Key: "refresh_expires_at", Value: 1}}},
	)
	if err != nil {
		return nil, err
	}
	return &MongoStore{coll: coll}, nil
}

func (m *MongoStore) Insert(ctx context.Context, s *Session) error {
	_, err := m.coll.InsertOne(ctx, s)
	return err
}

func (m *MongoStore) findOne(ctx context.Context, filter bson.M) (*Session, error) {
	var s Session
	err := m.coll.FindOne(ctx, filter).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (*Session, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *MongoStore) FindByAccessHash(ctx context.Context, hash string) (*Session, error) {
	return m.findOne(ctx, bson.M{"access_hash": hash})
}

func (m *MongoStore) FindByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	return m.findOne(ctx, bson.M{"refresh_hash": hash})
}

func (m *MongoStore) ActiveForDevice(ctx context.Context, deviceID string) ([]Session, error) {
	cur, err := m.coll.Find(ctx,
		bson.M{"device_id": deviceID, "active": true},
		options.Find().SetSort(bson.D{{Key: "issued_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoStore) Deactivate(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	res, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": id, "active": true},
		bson.M{"$set": bson.M{"active": false, "revoked_at": at, "revoke_reason": reason}},
	)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if _, err := m.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (m *MongoStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := m.coll.UpdateMany(ctx,
		bson.M{"active": true, "$or": bson.A{
			bson.M{"expires_at": bson.M{"$lte": now}},
			bson.M{"refresh_expires_at": bson.M{"$lte": now}},
		}},
		bson.M{"$set": bson.M{"active": false, "revoked_at": now, "revoke_reason": ReasonExpired}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}
