package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "petadopt/internal/domain/chat"
)

const collectionMessages = "messages"

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection(collectionMessages)}
}

func messageIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "sender", Value: 1}}},
	}
}

func (r *MessageRepository) Append(ctx context.Context, msg *domainchat.Message) error {
	if msg == nil {
		return domainchat.NewValidationError("message", "message is required")
	}
	convID, err := primitive.ObjectIDFromHex(string(msg.ConversationID))
	if err != nil {
		return domainchat.ErrNotFound
	}
	doc := newMessageDocument(msg, convID)
	doc.ID = primitive.NewObjectID()
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return err
	}
	msg.ID = domainchat.MessageID(doc.ID.Hex())
	return nil
}

func (r *MessageRepository) ListBefore(ctx context.Context, id domainchat.ConversationID, before *time.Time, limit int) ([]domainchat.Message, error) {
	convID, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, domainchat.ErrNotFound
	}
	filter := bson.M{"conversation": convID}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainchat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

var _ domainchat.MessageRepository = (*MessageRepository)(nil)

type messageDocument struct {
	ID           primitive.ObjectID   `bson:"_id"`
	Conversation primitive.ObjectID   `bson:"conversation"`
	Sender       string               `bson:"sender"`
	Text         string               `bson:"text"`
	Attachments  []attachmentDocument `bson:"attachments"`
	CreatedAt    time.Time            `bson:"created_at"`
}

type attachmentDocument struct {
	URL  string `bson:"url"`
	Name string `bson:"name,omitempty"`
	Type string `bson:"type,omitempty"`
	Size int64  `bson:"size,omitempty"`
}

func newMessageDocument(m *domainchat.Message, conv primitive.ObjectID) messageDocument {
	doc := messageDocument{
		Conversation: conv,
		Sender:       m.SenderID,
		Text:         m.Text,
		Attachments:  make([]attachmentDocument, 0, len(m.Attachments)),
		CreatedAt:    m.CreatedAt.UTC(),
	}
	for _, a := range m.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDocument{URL: a.URL, Name: a.Name, Type: a.Type, Size: a.Size})
	}
	return doc
}

func (d messageDocument) toDomain() domainchat.Message {
	msg := domainchat.Message{
		ID:             domainchat.MessageID(d.ID.Hex()),
		ConversationID: domainchat.ConversationID(d.Conversation.Hex()),
		SenderID:       d.Sender,
		Text:           d.Text,
		Attachments:    make([]domainchat.Attachment, 0, len(d.Attachments)),
		CreatedAt:      d.CreatedAt.UTC(),
	}
	for _, a := range d.Attachments {
		msg.Attachments = append(msg.Attachments, domainchat.Attachment{URL: a.URL, Name: a.Name, Type: a.Type, Size: a.Size})
	}
	return msg
}
