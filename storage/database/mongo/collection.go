package mongodb

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/masomo/storage"
)

type collection struct {
	coll *mongo.Collection
}

var _ storage.Collection = (*collection)(nil)

func (c *collection) Name() string { return c.coll.Name() }

// toDocument encodes doc and forces its _id.
func toDocument(id string, doc interface{}) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	var m bson.M
	if err = bson.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	m["_id"] = id
	return m, nil
}

func toFilter(f storage.Filter) bson.M {
	filter := bson.M{}
	for fld, val := range f.Eq {
		filter[fld] = val
	}
	for fld, prefix := range f.Prefix {
		filter[fld] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix), Options: "i"}
	}
	return filter
}

func trapErr(err error, msg string) error {
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(storage.ErrDuplicate, msg)
	}
	return errors.Wrap(err, msg)
}

func (c *collection) Insert(ctx context.Context, id string, doc interface{}) error {
	m, err := toDocument(id, doc)
	if err != nil {
		return err
	}
	if _, err = c.coll.InsertOne(ctx, m); err != nil {
		return trapErr(err, "inserting into "+c.Name())
	}
	return nil
}

func (c *collection) Get(ctx context.Context, id string, out interface{}) error {
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if err == mongo.ErrNoDocuments {
		return storage.ErrNotFound
	}
	return trapErr(err, "reading from "+c.Name())
}

func (c *collection) Find(ctx context.Context, f storage.Filter, out interface{}) error {
	opts := options.Find()
	if len(f.Sort) > 0 {
		sort := make(bson.D, 0, len(f.Sort))
		for _, ord := range f.Sort {
			dir := -1
			if ord.Ascending {
				dir = 1
			}
			sort = append(sort, bson.E{Key: ord.Field, Value: dir})
		}
		opts.SetSort(sort)
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := c.coll.Find(ctx, toFilter(f), opts)
	if err != nil {
		return trapErr(err, "querying "+c.Name())
	}
	return trapErr(cur.All(ctx, out), "decoding documents")
}

func (c *collection) Count(ctx context.Context, f storage.Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, toFilter(f))
	if err != nil {
		return 0, trapErr(err, "counting "+c.Name())
	}
	return n, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc interface{}) error {
	m, err := toDocument(id, doc)
	if err != nil {
		return err
	}
	res, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, m)
	if err != nil {
		return trapErr(err, "updating "+c.Name())
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *collection) Delete(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := c.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, trapErr(err, "deleting from "+c.Name())
	}
	return res.DeletedCount, nil
}
