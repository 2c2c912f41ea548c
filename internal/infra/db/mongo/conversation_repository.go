package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "petadopt/internal/domain/chat"
)

const collectionConversations = "conversations"

type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection(collectionConversations)}
}

func conversationIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "participant_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
	}
}

// FindOrCreate upserts on the participant key. A lost race on the unique index surfaces as
// domainchat.ErrDuplicate so the caller can look the winner up again.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if conv == nil {
		return nil, false, domainchat.NewValidationError("conversation", "conversation is required")
	}
	candidate := primitive.NewObjectID()
	doc := newConversationDocument(conv)
	doc.ID = candidate
	filter := bson.M{"participant_key": doc.ParticipantKey}
	update := bson.M{"$setOnInsert": doc}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored conversationDocument
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, false, domainchat.ErrDuplicate
		}
		return nil, false, err
	}
	return stored.toDomain(), stored.ID == candidate, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, domainchat.ErrNotFound
	}
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string, limit int) ([]domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainchat.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.toDomain())
	}
	return out, nil
}

// RecordMessage applies the preview and the counter increments in one document update.
func (r *ConversationRepository) RecordMessage(ctx context.Context, id domainchat.ConversationID, preview domainchat.LastMessage, recipients []string) error {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return domainchat.ErrNotFound
	}
	update := bson.M{
		"$set": bson.M{"last_message": lastMessageDocument{Text: preview.Text, At: preview.At.UTC(), By: preview.By}},
		"$max": bson.M{"updated_at": preview.At.UTC()},
	}
	if inc := unreadIncrements(recipients); len(inc) > 0 {
		update["$inc"] = inc
	}
	res, err := r.col.UpdateByID(ctx, oid, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrNotFound
	}
	return nil
}

// ResetUnread only matches when userID is a participant, so strangers never gain a counter.
func (r *ConversationRepository) ResetUnread(ctx context.Context, id domainchat.ConversationID, userID string, at time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return false, domainchat.ErrNotFound
	}
	field, ok := unreadField(userID)
	if !ok {
		return false, nil
	}
	filter := bson.M{"_id": oid, "participants": userID}
	update := bson.M{
		"$set": bson.M{field: 0},
		"$max": bson.M{"updated_at": at.UTC()},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

var _ domainchat.ConversationRepository = (*ConversationRepository)(nil)

type conversationDocument struct {
	ID             primitive.ObjectID   `bson:"_id"`
	ParticipantKey string               `bson:"participant_key"`
	Participants   []string             `bson:"participants"`
	ListingID      string               `bson:"listing_id,omitempty"`
	Unread         map[string]int       `bson:"unread"`
	LastMessage    *lastMessageDocument `bson:"last_message,omitempty"`
	CreatedAt      time.Time            `bson:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

type lastMessageDocument struct {
	Text string    `bson:"text"`
	At   time.Time `bson:"at"`
	By   string    `bson:"by"`
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	doc := conversationDocument{
		ParticipantKey: c.Key(),
		Participants:   append([]string(nil), c.Participants...),
		ListingID:      c.ListingID,
		Unread:         make(map[string]int, len(c.Participants)),
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
	for _, p := range c.Participants {
		doc.Unread[p] = c.UnreadFor(p)
	}
	if c.LastMessage != nil {
		doc.LastMessage = &lastMessageDocument{Text: c.LastMessage.Text, At: c.LastMessage.At.UTC(), By: c.LastMessage.By}
	}
	return doc
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:           domainchat.ConversationID(d.ID.Hex()),
		Participants: append([]string(nil), d.Participants...),
		ListingID:    d.ListingID,
		Unread:       make(map[string]int, len(d.Participants)),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	for _, p := range d.Participants {
		conv.Unread[p] = d.Unread[p]
	}
	if d.LastMessage != nil {
		conv.LastMessage = &domainchat.LastMessage{Text: d.LastMessage.Text, At: d.LastMessage.At.UTC(), By: d.LastMessage.By}
	}
	return conv
}

func unreadIncrements(recipients []string) bson.M {
	inc := bson.M{}
	for _, r := range recipients {
		if field, ok := unreadField(r); ok {
			inc[field] = 1
		}
	}
	return inc
}

// unreadField rejects ids that would be read as a path or operator by the server.
func unreadField(userID string) (string, bool) {
	if userID == "" || userID[0] == '$' {
		return "", false
	}
	for _, r := range userID {
		if r == '.' {
			return "", false
		}
	}
	return fmt.Sprintf("unread.%s", userID), true
}
