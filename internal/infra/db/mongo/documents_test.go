package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	domainchat "petadopt/internal/domain/chat"
)

func TestConversationDocumentKeepsCountersPerParticipant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv, err := domainchat.NewConversation(domainchat.NewConversationParams{UserA: "b1", UserB: "a1", ListingID: "pet", Now: now})
	require.NoError(t, err)

	doc := newConversationDocument(conv)
	assert.Equal(t, "a1:b1|pet", doc.ParticipantKey)
	assert.Equal(t, map[string]int{"a1": 0, "b1": 0}, doc.Unread)
	assert.Nil(t, doc.LastMessage)

	doc.ID = primitive.NewObjectID()
	doc.Unread["a1"] = 4
	doc.Unread["ghost"] = 9
	doc.LastMessage = &lastMessageDocument{Text: "hi", At: now, By: "b1"}

	back := doc.toDomain()
	assert.Equal(t, domainchat.ConversationID(doc.ID.Hex()), back.ID)
	assert.Equal(t, 4, back.UnreadFor("a1"))
	_, tracked := back.Unread["ghost"]
	assert.False(t, tracked)
	require.NotNil(t, back.LastMessage)
	assert.Equal(t, "b1", back.LastMessage.By)
}

func TestMessageDocumentRoundTripsAttachments(t *testing.T) {
	conv := primitive.NewObjectID()
	msg := &domainchat.Message{
		ConversationID: domainchat.ConversationID(conv.Hex()),
		SenderID:       "u1",
		Attachments:    []domainchat.Attachment{{URL: "https://cdn.example/a.jpg", Name: "a.jpg", Size: 10}},
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	doc := newMessageDocument(msg, conv)
	doc.ID = primitive.NewObjectID()

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded messageDocument
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	back := decoded.toDomain()
	assert.Equal(t, msg.ConversationID, back.ConversationID)
	assert.Equal(t, msg.Attachments, back.Attachments)
	assert.Equal(t, "", back.Text)
}

func TestUnreadFieldRejectsOperatorPaths(t *testing.T) {
	field, ok := unreadField("65f1c0ffee")
	assert.True(t, ok)
	assert.Equal(t, "unread.65f1c0ffee", field)

	for _, id := range []string{"", "$where", "a.b"} {
		_, ok := unreadField(id)
		assert.False(t, ok, id)
	}
	assert.Equal(t, bson.M{"unread.x": 1}, unreadIncrements([]string{"x", "a.b"}))
}

func TestIdempotencyIndexExpiresAfterTTL(t *testing.T) {
	idx := idempotencyIndex(90 * time.Minute)
	assert.Equal(t, bson.D{{Key: "created_at", Value: 1}}, idx.Keys)
	require.NotNil(t, idx.Options.ExpireAfterSeconds)
	assert.EqualValues(t, 5400, *idx.Options.ExpireAfterSeconds)
}
