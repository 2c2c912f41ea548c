package inbox

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionName = "chat_relay_inbox"
	defaultTTL     = 24 * time.Hour
)

// Store remembers which broker events a consumer already handled, so redelivered events are
// not pushed to websocket clients twice.
type Store struct {
	col      *mongo.Collection
	consumer string
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(db *mongo.Database, consumer string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{col: db.Collection(collectionName), consumer: consumer, ttl: ttl, now: time.Now}
}

// EnsureIndexes makes (event_id, consumer) unique and expires entries after the ttl.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "consumer", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(s.ttl / time.Second)),
		},
	})
	return err
}

// Seen records eventID and reports whether it had been recorded before. Events without an
// id are never deduplicated.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, nil
	}
	doc := bson.M{"event_id": eventID, "consumer": s.consumer, "received_at": s.now().UTC()}
	_, err := s.col.InsertOne(ctx, doc)
	if err == nil {
		return false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	return false, err
}
