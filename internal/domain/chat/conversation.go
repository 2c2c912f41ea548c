package chat

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// AttachmentPreview replaces the preview text of attachment-only messages.
	AttachmentPreview = "[attachment]"

	maxPreviewRunes = 500
)

type ConversationID string

// LastMessage is the denormalized preview kept on every conversation.
type LastMessage struct {
	Text string
	At   time.Time
	By   string
}

type Conversation struct {
	ID           ConversationID
	Participants []string
	ListingID    string
	Unread       map[string]int
	LastMessage  *LastMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type NewConversationParams struct {
	UserA     string
	UserB     string
	ListingID string
	Now       time.Time
}

// NewConversation builds an unsaved conversation with zeroed unread counters.
func NewConversation(params NewConversationParams) (*Conversation, error) {
	a := strings.TrimSpace(params.UserA)
	b := strings.TrimSpace(params.UserB)
	verr := &ValidationError{}
	if a == "" {
		verr.Add("userId", "user id is required")
	}
	if b == "" {
		verr.Add("partnerId", "partnerId required")
	}
	if a != "" && a == b {
		verr.Add("partnerId", "cannot start chat with yourself")
	}
	if !verr.Empty() {
		return nil, verr
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	participants := NormalizeParticipants(a, b)
	unread := make(map[string]int, len(participants))
	for _, p := range participants {
		unread[p] = 0
	}
	return &Conversation{
		Participants: participants,
		ListingID:    strings.TrimSpace(params.ListingID),
		Unread:       unread,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Key returns the uniqueness key of the conversation.
func (c *Conversation) Key() string {
	return ParticipantKey(c.ListingID, c.Participants...)
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Recipients lists every participant except the sender.
func (c *Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

func (c *Conversation) UnreadFor(userID string) int {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// ApplyMessage updates the preview and bumps unread counters of the recipients.
func (c *Conversation) ApplyMessage(preview LastMessage, recipients []string) {
	if c.Unread == nil {
		c.Unread = make(map[string]int, len(c.Participants))
	}
	for _, r := range recipients {
		c.Unread[r]++
	}
	p := preview
	c.LastMessage = &p
	if preview.At.After(c.UpdatedAt) {
		c.UpdatedAt = preview.At
	}
}

// MarkRead zeroes the counter of a participant. It reports false for strangers.
func (c *Conversation) MarkRead(userID string, at time.Time) bool {
	if !c.HasParticipant(userID) {
		return false
	}
	if c.Unread == nil {
		c.Unread = make(map[string]int, len(c.Participants))
	}
	c.Unread[userID] = 0
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
	return true
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		cp.Unread[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

// NormalizeParticipants trims, dedupes and sorts participant ids.
func NormalizeParticipants(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParticipantKey is order independent: ParticipantKey(l, a, b) == ParticipantKey(l, b, a).
func ParticipantKey(listingID string, participants ...string) string {
	return strings.Join(NormalizeParticipants(participants...), ":") + "|" + strings.TrimSpace(listingID)
}

// PreviewText derives the conversation preview from a message body.
func PreviewText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return AttachmentPreview
	}
	if utf8.RuneCountInString(text) <= maxPreviewRunes {
		return text
	}
	return string([]rune(text)[:maxPreviewRunes])
}
