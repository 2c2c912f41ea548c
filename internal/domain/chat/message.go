package chat

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"petadopt/internal/domain/user"
)

const (
	MaxTextRunes   = 4000
	MaxAttachments = 10
)

type MessageID string

// Attachment references a file already hosted elsewhere; content is never inspected.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       string
	Sender         *user.Profile
	Text           string
	Attachments    []Attachment
	CreatedAt      time.Time
}

type NewMessageParams struct {
	ConversationID ConversationID
	SenderID       string
	Text           string
	Attachments    []Attachment
	Now            time.Time
}

// NewMessage validates input and returns an unsaved message.
func NewMessage(params NewMessageParams) (*Message, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(string(params.ConversationID)) == "" {
		verr.Add("conversationId", "conversationId required")
	}
	sender := strings.TrimSpace(params.SenderID)
	if sender == "" {
		verr.Add("sender", "sender is required")
	}
	text := strings.TrimSpace(params.Text)
	if utf8.RuneCountInString(text) > MaxTextRunes {
		verr.Add("text", fmt.Sprintf("text must be at most %d characters", MaxTextRunes))
	}
	if text == "" && len(params.Attachments) == 0 {
		verr.Add("text", "text or attachments required")
	}
	if len(params.Attachments) > MaxAttachments {
		verr.Add("attachments", fmt.Sprintf("at most %d attachments allowed", MaxAttachments))
	}
	attachments := make([]Attachment, 0, len(params.Attachments))
	for i, a := range params.Attachments {
		a.URL = strings.TrimSpace(a.URL)
		a.Name = strings.TrimSpace(a.Name)
		a.Type = strings.TrimSpace(a.Type)
		if !validAttachmentURL(a.URL) {
			verr.Add(fmt.Sprintf("attachments[%d].url", i), "valid http(s) url required")
		}
		if a.Size < 0 {
			verr.Add(fmt.Sprintf("attachments[%d].size", i), "size must be non-negative")
		}
		attachments = append(attachments, a)
	}
	if !verr.Empty() {
		return nil, verr
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Message{
		ConversationID: params.ConversationID,
		SenderID:       sender,
		Text:           text,
		Attachments:    attachments,
		CreatedAt:      now.UTC(),
	}, nil
}

// Preview returns the conversation preview produced by this message.
func (m *Message) Preview() LastMessage {
	return LastMessage{Text: PreviewText(m.Text), At: m.CreatedAt, By: m.SenderID}
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Sender != nil {
		s := *m.Sender
		cp.Sender = &s
	}
	return &cp
}

func validAttachmentURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
