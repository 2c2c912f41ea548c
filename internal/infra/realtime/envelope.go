package realtime

import (
	"encoding/json"
	"strings"

	"petadopt/internal/app/dto"
)

// Client event types.
const (
	EventJoin    = "join"
	EventLeave   = "leave"
	EventTyping  = "typing"
	EventMessage = "message"
	EventRead    = "read"
)

// Server event types. EventMessage, EventTyping and EventRead are reused outbound.
const (
	EventReady        = "ready"
	EventAck          = "ack"
	EventPresence     = "presence"
	EventError        = "error"
	EventConversation = "conversation"
)

const (
	ackSendFailed = "send_failed"
	ackInvalid    = "invalid"
	ackForbidden  = "forbidden"

	msgSendFailed     = "Failed to send message"
	msgNotParticipant = "not a chat participant"
	msgJoinFailed     = "Failed to join conversation"
)

// Envelope is the wire format of every frame in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type frame struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	RequestID string `json:"requestId,omitempty"`
}

func encode(typ, requestID string, payload any) ([]byte, error) {
	return json.Marshal(frame{Type: typ, Payload: payload, RequestID: requestID})
}

// normalizeType accepts the legacy "chat:" prefixed names used by older web clients.
func normalizeType(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "chat:")
}

type conversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	IsTyping       bool   `json:"isTyping"`
}

type messagePayload struct {
	ConversationID string           `json:"conversationId" validate:"required,max=64"`
	Text           string           `json:"text"`
	Attachments    []dto.Attachment `json:"attachments" validate:"max=10,dive"`
}

type readPayload struct {
	ConversationID string     `json:"conversationId" validate:"required,max=64"`
	At             dto.ReadTime `json:"at"`
}

type readyOut struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type presenceOut struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Online         bool   `json:"online"`
}

type typingOut struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type errorOut struct {
	Message string `json:"message"`
}

type ackError struct {
	Error string `json:"error"`
}

type joinAck struct {
	ConversationID string `json:"conversationId"`
	Joined         bool   `json:"joined"`
}
