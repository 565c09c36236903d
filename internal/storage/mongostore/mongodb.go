package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"ttlpaste/internal/storage"
)

// Store implements storage.Store on a MongoDB collection.
//
// Consume is one FindOneAndUpdate whose filter encodes consumability, so the
// server applies check and $inc atomically on the single document.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// document is the BSON shape of a paste. Dates are stored as BSON datetimes
// (millisecond precision).
type document struct {
	ID        string     `bson:"_id"`
	Content   string     `bson:"content"`
	CreatedAt time.Time  `bson:"created_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
	MaxViews  *int64     `bson:"max_views,omitempty"`
	ViewCount int64      `bson:"view_count"`
}

func toDocument(p *storage.Paste) document {
	return document{
		ID:        p.ID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt.UTC(),
		ExpiresAt: p.ExpiresAt,
		MaxViews:  p.MaxViews,
		ViewCount: p.ViewCount,
	}
}

func (d document) toPaste() *storage.Paste {
	p := &storage.Paste{
		ID:        d.ID,
		Content:   d.Content,
		CreatedAt: d.CreatedAt.UTC(),
		MaxViews:  d.MaxViews,
		ViewCount: d.ViewCount,
	}
	if d.ExpiresAt != nil {
		t := d.ExpiresAt.UTC()
		p.ExpiresAt = &t
	}
	return p
}

// Open connects to uri and prepares the collection indexes.
func Open(ctx context.Context, uri, database, collection string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := &Store{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// createIndexes adds a TTL index so the server also reaps expired pastes on its own.
func (s *Store) createIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := s.collection.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return fmt.Errorf("create ttl index: %w", err)
	}
	return nil
}

// Insert stores a new paste document.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if _, err := s.collection.InsertOne(ctx, toDocument(paste)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert paste: %w", err)
	}
	return nil
}

// Consume increments view_count on a consumable paste and returns the updated document.
func (s *Store) Consume(ctx context.Context, id string, now time.Time) (*storage.Paste, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res := s.collection.FindOneAndUpdate(ctx, consumeFilter(id, now), consumeUpdate(), opts)

	var doc document
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("consume paste: %w", err)
	}
	return doc.toPaste(), nil
}

// DeleteExpired removes pastes that are past their TTL or out of views.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.collection.DeleteMany(ctx, expiredFilter(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// consumeFilter matches id only while it is consumable at now. A missing
// expires_at or max_views field means "no limit".
func consumeFilter(id string, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "$and", Value: bson.A{
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "expires_at", Value: bson.D{{Key: "$exists", Value: false}}}},
				bson.D{{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now.UTC()}}}},
			}}},
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "max_views", Value: bson.D{{Key: "$exists", Value: false}}}},
				bson.D{{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{"$view_count", "$max_views"}}}}},
			}}},
		}},
	}
}

func consumeUpdate() bson.D {
	return bson.D{{Key: "$inc", Value: bson.D{{Key: "view_count", Value: 1}}}}
}

// expiredFilter matches everything no longer consumable at now. The $exists
// guard matters: in $expr a missing max_views sorts below every number.
func expiredFilter(now time.Time) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now.UTC()}}}},
		bson.D{
			{Key: "max_views", Value: bson.D{{Key: "$exists", Value: true}}},
			{Key: "$expr", Value: bson.D{{Key: "$gte", Value: bson.A{"$view_count", "$max_views"}}}},
		},
	}}}
}
