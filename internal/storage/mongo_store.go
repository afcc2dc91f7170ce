package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect dials Mongo and pings it before handing back the database, so a bad
// URI fails at start-up rather than on the first request.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	if uri == "" {
		return nil, nil, errors.New("storage: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, nil, err
	}
	return cli, cli.Database(dbName), nil
}

// IsDuplicateKey reports whether err is a unique index violation.
func IsDuplicateKey(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}

// EnsureIndexes creates the given indexes, ignoring conflicts with existing
// definitions.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection, models ...mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	_, err := coll.Indexes().CreateMany(ctx, models)
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 85 || ce.Code == 86) {
		return nil
	}
	return err
}

type MongoBlobStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoBlobStore(coll *mongo.Collection) *MongoBlobStore {
	return &MongoBlobStore{coll: coll, now: time.Now}
}

func (m *MongoBlobStore) Put(ctx context.Context, id string, data []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	now := m.now().UTC()
	_, err := m.coll.UpdateByID(
		ctx,
		id,
		bson.M{
			"$set":         bson.M{"data": data, "updatedAt": now},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoBlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	var doc struct {
		Data []byte `bson:"data"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	return doc.Data, err
}

func (m *MongoBlobStore) Delete(ctx context.Context, id string) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
