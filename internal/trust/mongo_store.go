package trust

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
	devices *mongo.Collection
	edges   *mongo.Collection
	grants  *mongo.Collection
}

// NewMongoStore uses three collections of db: devices, trust_edges and
// share_grants (names overridable through the prefix).
func NewMongoStore(ctx context.Context, db *mongo.Database, prefix string) (*MongoStore, error) {
	s := &MongoStore{
		devices: db.Collection(prefix + "devices"),
		edges:   db.Collection(prefix + "trust_edges"),
		grants:  db.Collection(prefix + "share_grants"),
	}
	if err := storage.EnsureIndexes(ctx, s.devices,
		mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}},
	); err != nil {
		return nil, err
	}
	if err := storage.EnsureIndexes(ctx, s.edges,
		mongo.IndexModel{Keys: bson.D{{Key: "target", Value: 1}, {Key: "active", Value: 1}}},
	); err != nil {
		return nil, err
	}
	if err := storage.EnsureIndexes(ctx, s.grants,
		mongo.IndexModel{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "target", Value: 1}}},
	); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) CreateDevice(ctx context.Context, d *Device) error {
	_, err := s.devices.InsertOne(ctx, d)
	if storage.IsDuplicateKey(err) {
		return ErrDeviceExists
	}
	return err
}

func (s *MongoStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	var d Device
	err := s.devices.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *MongoStore) SaveDevice(ctx context.Context, d *Device) error {
	res, err := s.devices.ReplaceOne(ctx, bson.M{"_id": d.ID}, d)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUnknownDevice
	}
	return nil
}

func (s *MongoStore) PutEdge(ctx context.Context, e *Relationship) error {
	_, err := s.edges.ReplaceOne(ctx, bson.M{"_id": e.ID}, e, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetEdge(ctx context.Context, source, target string) (*Relationship, error) {
	var e Relationship
	err := s.edges.FindOne(ctx, bson.M{"_id": edgeID(source, target)}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEdgeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *MongoStore) InboundEdges(ctx context.Context, target string) ([]Relationship, error) {
	cur, err := s.edges.Find(ctx, bson.M{"target": target}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []Relationship
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) DeactivateInbound(ctx context.Context, target string, at time.Time) (int, error) {
	res, err := s.edges.UpdateMany(ctx,
		bson.M{"target": target, "active": true},
		bson.M{"$set": bson.M{"active": false, "updated_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoStore) PutGrant(ctx context.Context, g *Grant) error {
	_, err := s.grants.InsertOne(ctx, g)
	return err
}

func (s *MongoStore) Grants(ctx context.Context, resourceID, deviceID string) ([]Grant, error) {
	cur, err := s.grants.Find(ctx, bson.M{"resource_id": resourceID, "target": deviceID})
	if err != nil {
		return nil, err
	}
	var out []Grant
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
