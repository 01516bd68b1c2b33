// Package mongostore implements storage.Tier on MongoDB, grounded on the
// teacher's mongodb/mongodb.go, generalized from opaque blobs to
// entry.Entry (still stored as a binary field so the wire envelope stays
// shared across backends) and from a fire-and-forget interface to one
// that surfaces errors and supports predicate-based clearing.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Config configures the Mongo-backed tier.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{Collection: "response_cache", Timeout: 5 * time.Second}
}

type document struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Tier is a storage.Tier backed by a MongoDB collection.
type Tier struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	ownsClient bool
}

var _ storage.Tier = (*Tier)(nil)

// New connects to MongoDB at cfg.URI and returns a ready Tier.
func New(ctx context.Context, cfg Config) (*Tier, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultConfig().Collection
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return &Tier{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
		ownsClient: true,
	}, nil
}

// NewWithClient wraps an already-connected client; Close will not
// disconnect it.
func NewWithClient(client *mongo.Client, database, collection string, timeout time.Duration) *Tier {
	if collection == "" {
		collection = DefaultConfig().Collection
	}
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Tier{collection: client.Database(database).Collection(collection), timeout: timeout}
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var doc document
	err := t.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mongostore: get %q: %w", key, err)
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(doc.Data); err != nil {
		return nil, false, fmt.Errorf("mongostore: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	doc := document{Key: key, Data: data, CreatedAt: time.Now()}
	_, err = t.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("mongostore: put %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, fmt.Errorf("mongostore: remove %q: %w", key, err)
	}
	return res.DeletedCount > 0, nil
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	n, err := t.collection.CountDocuments(ctx, bson.M{"_id": key})
	return n > 0, err
}

func (t *Tier) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, err := t.collection.DeleteMany(ctx, bson.M{})
	return err
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cursor, err := t.collection.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("mongostore: clearWhere scan: %w", err)
	}
	defer cursor.Close(ctx)

	var toRemove []string
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		e := &entry.Entry{}
		if err := e.UnmarshalBinary(doc.Data); err != nil {
			continue
		}
		if predicate(e) {
			toRemove = append(toRemove, doc.Key)
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	if len(toRemove) == 0 {
		return nil
	}
	_, err = t.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": toRemove}})
	return err
}

func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	cursor, err := t.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var keys []string
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cursor.Err()
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	n, err := t.collection.CountDocuments(ctx, bson.M{})
	return int(n), err
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	keys, err := t.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		e, ok, err := t.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		total += int64(e.ByteLen())
	}
	return total, nil
}

func (t *Tier) Close() error {
	if t.ownsClient && t.client != nil {
		return t.client.Disconnect(context.Background())
	}
	return nil
}
