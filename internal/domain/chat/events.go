package chat

import (
	"time"

	"petadopt/internal/domain/user"
)

const (
	EventConversationStarted = "chat.conversation_started"
	EventMessageSent         = "chat.message_sent"
	EventRead                = "chat.read"
)

type ConversationStartedEvent struct {
	ConversationID ConversationID `json:"conversation_id"`
	ListingID      string         `json:"listing_id,omitempty"`
	Participants   []string       `json:"participants"`
	StartedBy      string         `json:"started_by"`
	At             time.Time      `json:"at"`
}

func (e ConversationStartedEvent) EventName() string     { return EventConversationStarted }
func (e ConversationStartedEvent) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationStartedEvent) OccurredAt() time.Time { return e.At }

type MessageSentEvent struct {
	MessageID      MessageID      `json:"message_id"`
	ConversationID ConversationID `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	SenderUsername string         `json:"sender_username,omitempty"`
	SenderFullname string         `json:"sender_fullname,omitempty"`
	SenderAvatar   string         `json:"sender_avatar,omitempty"`
	Text           string         `json:"text"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	At             time.Time      `json:"at"`
}

func (e MessageSentEvent) EventName() string     { return EventMessageSent }
func (e MessageSentEvent) AggregateID() string   { return string(e.ConversationID) }
func (e MessageSentEvent) OccurredAt() time.Time { return e.At }

// NewMessageSentEvent flattens a persisted message into its event.
func NewMessageSentEvent(m *Message) MessageSentEvent {
	ev := MessageSentEvent{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		Attachments:    append([]Attachment(nil), m.Attachments...),
		At:             m.CreatedAt,
	}
	if m.Sender != nil {
		ev.SenderUsername = m.Sender.Username
		ev.SenderFullname = m.Sender.Fullname
		ev.SenderAvatar = m.Sender.Avatar
	}
	return ev
}

type ReadEvent struct {
	ConversationID ConversationID `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	At             time.Time      `json:"at"`
}

func (e ReadEvent) EventName() string     { return EventRead }
func (e ReadEvent) AggregateID() string   { return string(e.ConversationID) }
func (e ReadEvent) OccurredAt() time.Time { return e.At }

// ReadReceipt acknowledges a mark-read request. Applied is false when nothing was reset,
// e.g. for strangers or unknown conversations, and such receipts are never broadcast.
type ReadReceipt struct {
	ConversationID ConversationID
	UserID         string
	At             time.Time
	Applied        bool
}

// Message rebuilds the message carried by the event.
func (e MessageSentEvent) Message() *Message {
	m := &Message{
		ID:             e.MessageID,
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		Text:           e.Text,
		Attachments:    append([]Attachment(nil), e.Attachments...),
		CreatedAt:      e.At,
	}
	if e.SenderUsername != "" || e.SenderFullname != "" || e.SenderAvatar != "" {
		m.Sender = &user.Profile{ID: e.SenderID, Username: e.SenderUsername, Fullname: e.SenderFullname, Avatar: e.SenderAvatar}
	}
	return m
}
