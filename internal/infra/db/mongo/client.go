package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Client struct {
	DB *mongo.Database
}

func New(uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := options.Client().ApplyURI(uri).SetRetryWrites(true)
	m, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := m.Ping(ctx, nil); err != nil {
		_ = m.Disconnect(context.Background())
		return nil, err
	}
	return &Client{DB: m.Database(database)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.Client().Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Client().Disconnect(ctx)
}

// EnsureIndexes creates the indexes every chat store relies on. The unique participant key
// index is what makes concurrent conversation creation converge on one document.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	var errs []error
	for _, set := range []struct {
		collection string
		models     []mongo.IndexModel
	}{
		{collectionConversations, conversationIndexes()},
		{collectionMessages, messageIndexes()},
	} {
		if _, err := c.DB.Collection(set.collection).Indexes().CreateMany(ctx, set.models); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
