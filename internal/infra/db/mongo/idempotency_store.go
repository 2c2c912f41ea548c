package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"petadopt/internal/app/idempotency"
)

const defaultIdempotencyTTL = 7 * 24 * time.Hour

type IdempotencyStore struct {
	col *mongo.Collection
	ttl time.Duration
}

// NewIdempotencyStore expires records ttl after they were saved.
func NewIdempotencyStore(db *mongo.Database, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &IdempotencyStore{col: db.Collection("chat_idempotency"), ttl: ttl}
}

// EnsureIndexes installs the TTL index that expires saved records.
func (s *IdempotencyStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, idempotencyIndex(s.ttl))
	return err
}

func idempotencyIndex(ttl time.Duration) mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(ttl.Seconds())),
	}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	var doc idempotencyDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, err
	}
	return doc.toRecord(), true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec idempotency.Record) error {
	doc := idempotencyDocument{
		Key:        rec.Key,
		Payload:    rec.Payload,
		OccurredAt: rec.OccurredAt,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.col.UpdateByID(ctx, rec.Key, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

type idempotencyDocument struct {
	Key        string    `bson:"key"`
	Payload    []byte    `bson:"payload"`
	OccurredAt time.Time `bson:"occurred_at"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d idempotencyDocument) toRecord() idempotency.Record {
	return idempotency.Record{Key: d.Key, Payload: d.Payload, OccurredAt: d.OccurredAt}
}
