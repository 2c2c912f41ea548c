package chat

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func TestNewConversationNormalizesParticipants(t *testing.T) {
	conv, err := NewConversation(NewConversationParams{UserA: " zed ", UserB: "amy", ListingID: "p1", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, conv.Participants)
	assert.Equal(t, map[string]int{"amy": 0, "zed": 0}, conv.Unread)
	assert.Equal(t, ParticipantKey("p1", "zed", "amy"), conv.Key())
	assert.NotEqual(t, ParticipantKey("p2", "zed", "amy"), conv.Key())
}

func TestNewConversationValidation(t *testing.T) {
	_, err := NewConversation(NewConversationParams{UserA: "amy", UserB: "amy"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "cannot start chat with yourself", verr.Fields["partnerId"])

	_, err = NewConversation(NewConversationParams{UserA: "amy"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApplyMessageAndMarkRead(t *testing.T) {
	conv, err := NewConversation(NewConversationParams{UserA: "amy", UserB: "bob", Now: now})
	require.NoError(t, err)

	later := now.Add(time.Minute)
	conv.ApplyMessage(LastMessage{Text: "hi", At: later, By: "amy"}, conv.Recipients("amy"))
	conv.ApplyMessage(LastMessage{Text: "again", At: later, By: "amy"}, conv.Recipients("amy"))
	assert.Equal(t, 2, conv.UnreadFor("bob"))
	assert.Equal(t, 0, conv.UnreadFor("amy"))
	assert.Equal(t, "again", conv.LastMessage.Text)
	assert.Equal(t, later, conv.UpdatedAt)

	assert.False(t, conv.MarkRead("mallory", later))
	assert.True(t, conv.MarkRead("bob", later))
	assert.Equal(t, 0, conv.UnreadFor("bob"))
}

func TestCloneIsDeep(t *testing.T) {
	conv, err := NewConversation(NewConversationParams{UserA: "amy", UserB: "bob", Now: now})
	require.NoError(t, err)
	cp := conv.Clone()
	cp.Unread["bob"] = 9
	cp.Participants[0] = "x"
	assert.Equal(t, 0, conv.UnreadFor("bob"))
	assert.Equal(t, "amy", conv.Participants[0])
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(NewMessageParams{ConversationID: "c1", SenderID: "amy", Text: "  hello  ", Now: now})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, LastMessage{Text: "hello", At: now, By: "amy"}, msg.Preview())

	withFile, err := NewMessage(NewMessageParams{
		ConversationID: "c1",
		SenderID:       "amy",
		Attachments:    []Attachment{{URL: "https://cdn.example/cat.jpg", Type: "image/jpeg"}},
		Now:            now,
	})
	require.NoError(t, err)
	assert.Equal(t, AttachmentPreview, withFile.Preview().Text)
}

func TestNewMessageValidation(t *testing.T) {
	cases := map[string]struct {
		params NewMessageParams
		field  string
	}{
		"empty body":      {NewMessageParams{ConversationID: "c1", SenderID: "amy", Text: "  "}, "text"},
		"too long":        {NewMessageParams{ConversationID: "c1", SenderID: "amy", Text: strings.Repeat("a", MaxTextRunes+1)}, "text"},
		"bad url":         {NewMessageParams{ConversationID: "c1", SenderID: "amy", Attachments: []Attachment{{URL: "ftp://x/y"}}}, "attachments[0].url"},
		"no conversation": {NewMessageParams{SenderID: "amy", Text: "hi"}, "conversationId"},
		"no sender":       {NewMessageParams{ConversationID: "c1", Text: "hi"}, "sender"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewMessage(tc.params)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestPreviewTextTruncates(t *testing.T) {
	long := strings.Repeat("é", maxPreviewRunes+20)
	assert.Equal(t, maxPreviewRunes, len([]rune(PreviewText(long))))
	assert.Equal(t, AttachmentPreview, PreviewText(" "))
}
