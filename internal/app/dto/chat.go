package dto

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	domainchat "petadopt/internal/domain/chat"
)

// Conversation is the chat summary returned to clients. Field names follow the web client.
type Conversation struct {
	ID           string         `json:"_id"`
	Participants []string       `json:"participants"`
	PetID        string         `json:"petId,omitempty"`
	LastMessage  *LastMessage   `json:"lastMessage,omitempty"`
	Unread       map[string]int `json:"unread"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type LastMessage struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
	By   string    `json:"by"`
}

// Sender carries only the public profile fields.
type Sender struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Fullname string `json:"fullname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type Attachment struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name,omitempty" validate:"omitempty,max=255"`
	Type string `json:"type,omitempty" validate:"omitempty,max=255"`
	Size int64  `json:"size,omitempty" validate:"gte=0"`
}

type ChatMessage struct {
	ID             string       `json:"_id"`
	ConversationID string       `json:"conversation"`
	Sender         Sender       `json:"sender"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	At             time.Time `json:"at"`
}

// ReadAck is the HTTP response of a mark-read call.
type ReadAck struct {
	OK bool      `json:"ok"`
	At time.Time `json:"at"`
}

func ConversationFrom(c *domainchat.Conversation) Conversation {
	out := Conversation{
		ID:           string(c.ID),
		Participants: append([]string{}, c.Participants...),
		PetID:        c.ListingID,
		Unread:       make(map[string]int, len(c.Unread)),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	for k, v := range c.Unread {
		out.Unread[k] = v
	}
	if c.LastMessage != nil {
		out.LastMessage = &LastMessage{Text: c.LastMessage.Text, At: c.LastMessage.At, By: c.LastMessage.By}
	}
	return out
}

func ConversationsFrom(items []domainchat.Conversation) []Conversation {
	out := make([]Conversation, 0, len(items))
	for i := range items {
		out = append(out, ConversationFrom(&items[i]))
	}
	return out
}

func MessageFrom(m *domainchat.Message) ChatMessage {
	out := ChatMessage{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		Sender:         Sender{ID: m.SenderID},
		Text:           m.Text,
		Attachments:    make([]Attachment, 0, len(m.Attachments)),
		CreatedAt:      m.CreatedAt,
	}
	if m.Sender != nil {
		out.Sender.Username = m.Sender.Username
		out.Sender.Fullname = m.Sender.Fullname
		out.Sender.Avatar = m.Sender.Avatar
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, Attachment{URL: a.URL, Name: a.Name, Type: a.Type, Size: a.Size})
	}
	return out
}

func MessagesFrom(items []domainchat.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(items))
	for i := range items {
		out = append(out, MessageFrom(&items[i]))
	}
	return out
}

func ReadReceiptFrom(r domainchat.ReadReceipt) ReadReceipt {
	return ReadReceipt{ConversationID: string(r.ConversationID), UserID: r.UserID, At: r.At}
}

// ToDomainAttachments converts request attachments for the chat service.
func ToDomainAttachments(items []Attachment) []domainchat.Attachment {
	if len(items) == 0 {
		return nil
	}
	out := make([]domainchat.Attachment, 0, len(items))
	for _, a := range items {
		out = append(out, domainchat.Attachment{URL: a.URL, Name: a.Name, Type: a.Type, Size: a.Size})
	}
	return out
}

// URLSigner turns stored attachment URLs into URLs a client can fetch. Unknown URLs are
// returned unchanged.
type URLSigner interface {
	SignURL(ctx context.Context, raw string) string
}

// SignAttachments rewrites attachment URLs of outgoing messages in place.
func SignAttachments(ctx context.Context, signer URLSigner, msgs ...*ChatMessage) {
	if signer == nil {
		return
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for i := range m.Attachments {
			m.Attachments[i].URL = signer.SignURL(ctx, m.Attachments[i].URL)
		}
	}
}

// ReadTime is the optional "at" of a read request. It accepts RFC 3339 strings and epoch
// milliseconds as a number or numeric string. Anything else decodes to the zero time, which
// the service replaces with now.
type ReadTime struct {
	time.Time
}

func (t *ReadTime) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			t.Time = parsed
			return nil
		}
		data = []byte(raw)
	}
	if ms, err := strconv.ParseFloat(string(data), 64); err == nil {
		t.Time = time.UnixMilli(int64(ms)).UTC()
	}
	return nil
}
