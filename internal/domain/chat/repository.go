package chat

import (
	"context"
	"time"
)

// ConversationRepository persists conversations. Implementations enforce uniqueness of
// ParticipantKey and apply counter changes as single-document updates.
type ConversationRepository interface {
	// FindOrCreate returns the stored conversation with conv's key, inserting conv when absent.
	// The boolean reports whether this call inserted it.
	FindOrCreate(ctx context.Context, conv *Conversation) (*Conversation, bool, error)
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	ListByParticipant(ctx context.Context, userID string, limit int) ([]Conversation, error)
	RecordMessage(ctx context.Context, id ConversationID, preview LastMessage, recipients []string) error
	// ResetUnread zeroes the counter for a participant and reports whether it matched.
	ResetUnread(ctx context.Context, id ConversationID, userID string, at time.Time) (bool, error)
}

type MessageRepository interface {
	// Append stores the message and assigns its ID.
	Append(ctx context.Context, msg *Message) error
	// ListBefore returns up to limit messages strictly older than before, newest first.
	ListBefore(ctx context.Context, id ConversationID, before *time.Time, limit int) ([]Message, error)
}
