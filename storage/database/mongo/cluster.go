// Package mongodb stores tenant namespaces in MongoDB: one database per namespace.
// All namespaces share the cluster's client.
package mongodb

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/storage"
)

// server error code for "collection already exists"
const codeNamespaceExists = 48

type Cluster struct {
	conf core.MongoConfig

	mu     sync.Mutex
	client *mongo.Client
	closed bool
}

var _ storage.Cluster = (*Cluster)(nil)

func NewCluster(conf core.MongoConfig) *Cluster {
	return &Cluster{conf: conf}
}

func (c *Cluster) connect(ctx context.Context) (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, storage.ErrClosed
	}
	if c.client != nil {
		return c.client, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.conf.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(storage.ErrUnreachable, "ping: %v", err)
	}
	c.client = client
	return client, nil
}

func (c *Cluster) Open(ctx context.Context, name string) (storage.Database, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	db := client.Database(name)
	// touch the sequences collection so the namespace exists even before the first write
	if err = createCollection(ctx, db, storage.SequencesCollection); err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

func (c *Cluster) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	return err
}

func createCollection(ctx context.Context, db *mongo.Database, name string) error {
	err := db.CreateCollection(ctx, name)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists {
		return nil
	}
	return errors.Wrapf(err, "creating collection %s", name)
}

type DB struct {
	db *mongo.Database
}

var _ storage.Database = (*DB)(nil)

func (db *DB) Name() string { return db.db.Name() }

func (db *DB) Collection(name string) storage.Collection {
	return &collection{coll: db.db.Collection(name)}
}

func (db *DB) EnsureCollection(ctx context.Context, name string, indexes ...storage.Index) error {
	if err := createCollection(ctx, db.db, name); err != nil {
		return err
	}
	if len(indexes) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: idx.Field, Value: 1}},
			Options: options.Index().
				SetName(storage.IndexName(name, idx)).
				SetUnique(idx.Unique).
				SetSparse(true),
		})
	}
	if _, err := db.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
		return errors.Wrapf(err, "creating indexes on %s", name)
	}
	return nil
}

type counterDoc struct {
	Key   string `bson:"_id"`
	Value int64  `bson:"value"`
}

func (db *DB) Counter(ctx context.Context, key string) (int64, bool, error) {
	var doc counterDoc
	err := db.db.Collection(storage.SequencesCollection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "reading counter %s", key)
	}
	return doc.Value, true, nil
}

// Increment is a single pipeline upsert: value = max(ifNull(value, 0), floor) + 1.
func (db *DB) Increment(ctx context.Context, key string, floor int64) (int64, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "value", Value: bson.D{{Key: "$add", Value: bson.A{
			bson.D{{Key: "$max", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$value", int64(0)}}},
				floor,
			}}},
			int64(1),
		}}}}}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	coll := db.db.Collection(storage.SequencesCollection)

	var doc counterDoc
	err := coll.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// two upserts raced to create the counter; the retry updates the winner's document
		err = coll.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&doc)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "incrementing counter %s", key)
	}
	return doc.Value, nil
}

// Close is a no-op: the client belongs to the Cluster.
func (db *DB) Close(ctx context.Context) error { return nil }
