package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"petadopt/internal/app/outbox"
	domainchat "petadopt/internal/domain/chat"
	"petadopt/internal/domain/shared/events"
	"petadopt/internal/domain/user"
)

const (
	ConversationPageSize = 50
	MessagePageSize      = 30

	findOrCreateAttempts = 3
)

// Service owns every transition between conversations and messages. Transports call it;
// stores only persist.
type Service struct {
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Profiles      user.Directory
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Clock         func() time.Time
	Logger        *slog.Logger
}

// CreateOrGetConversation returns the conversation between two users about a listing,
// creating it on first contact. The participant order does not matter and created is true
// only for the call that inserted the record.
func (s *Service) CreateOrGetConversation(ctx context.Context, userA, userB, listingID string) (*domainchat.Conversation, bool, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, false, err
	}
	conv, err := domainchat.NewConversation(domainchat.NewConversationParams{
		UserA:     userA,
		UserB:     userB,
		ListingID: listingID,
		Now:       s.now(),
	})
	if err != nil {
		return nil, false, err
	}

	var (
		stored  *domainchat.Conversation
		created bool
	)
	for attempt := 1; attempt <= findOrCreateAttempts; attempt++ {
		stored, created, err = s.Conversations.FindOrCreate(ctx, conv)
		if err == nil {
			break
		}
		if !errors.Is(err, domainchat.ErrDuplicate) {
			return nil, false, persistence(err)
		}
		s.debug("conversation create raced, retrying lookup", "key", conv.Key(), "attempt", attempt)
	}
	if err != nil {
		return nil, false, persistence(err)
	}
	if created {
		s.info("conversation created", "conversation_id", stored.ID, "listing_id", stored.ListingID, "participants", stored.Participants)
		s.record(ctx, domainchat.ConversationStartedEvent{
			ConversationID: stored.ID,
			ListingID:      stored.ListingID,
			Participants:   append([]string(nil), stored.Participants...),
			StartedBy:      strings.TrimSpace(userA),
			At:             stored.CreatedAt,
		})
	}
	return stored, created, nil
}

// SendMessage persists a message and then updates the conversation preview and the unread
// counters of everyone but the sender.
func (s *Service) SendMessage(ctx context.Context, conversationID domainchat.ConversationID, senderID, text string, attachments []domainchat.Attachment) (*domainchat.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Attachments:    attachments,
		Now:            s.now(),
	})
	if err != nil {
		return nil, err
	}
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(msg.SenderID) {
		return nil, domainchat.ErrForbidden
	}

	if err := s.Messages.Append(ctx, msg); err != nil {
		return nil, persistence(err)
	}
	// Counter bookkeeping is best effort: the message is already durable.
	if err := s.Conversations.RecordMessage(ctx, conv.ID, msg.Preview(), conv.Recipients(msg.SenderID)); err != nil {
		s.warn("conversation touch failed", "conversation_id", conv.ID, "message_id", msg.ID, "error", err)
	}
	msg.Sender = s.resolveSender(ctx, msg.SenderID)
	s.record(ctx, domainchat.NewMessageSentEvent(msg))
	return msg, nil
}

// MarkRead resets the caller's unread counter. It never fails a client flow: unknown
// conversations, strangers and store errors all yield a receipt.
func (s *Service) MarkRead(ctx context.Context, conversationID domainchat.ConversationID, userID string, at time.Time) (domainchat.ReadReceipt, error) {
	if at.IsZero() {
		at = s.now()
	}
	receipt := domainchat.ReadReceipt{ConversationID: conversationID, UserID: userID, At: at.UTC().Truncate(time.Millisecond)}
	if err := s.ensureDependencies(); err != nil {
		return receipt, err
	}
	if strings.TrimSpace(string(conversationID)) == "" || strings.TrimSpace(userID) == "" {
		return receipt, nil
	}
	applied, err := s.Conversations.ResetUnread(ctx, conversationID, userID, receipt.At)
	if err != nil {
		if !errors.Is(err, domainchat.ErrNotFound) {
			s.warn("mark read failed", "conversation_id", conversationID, "user_id", userID, "error", err)
		}
		return receipt, nil
	}
	if applied {
		receipt.Applied = true
		s.record(ctx, domainchat.ReadEvent{ConversationID: conversationID, UserID: userID, At: receipt.At})
	}
	return receipt, nil
}

// ListConversations returns the caller's conversations, most recent activity first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainchat.NewValidationError("userId", "user id is required")
	}
	items, err := s.Conversations.ListByParticipant(ctx, userID, ConversationPageSize)
	if err != nil {
		return nil, persistence(err)
	}
	return items, nil
}

// ListMessages returns one page of history in chronological order. With before set only
// strictly older messages are returned.
func (s *Service) ListMessages(ctx context.Context, conversationID domainchat.ConversationID, userID string, before *time.Time) ([]domainchat.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domainchat.ErrForbidden
	}
	page, err := s.Messages.ListBefore(ctx, conv.ID, before, MessagePageSize)
	if err != nil {
		return nil, persistence(err)
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// Conversation loads a conversation by id.
func (s *Service) Conversation(ctx context.Context, conversationID domainchat.ConversationID) (*domainchat.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	return s.loadConversation(ctx, conversationID)
}

// IsParticipant reports whether userID belongs to the conversation. A missing
// conversation is reported as ErrNotFound.
func (s *Service) IsParticipant(ctx context.Context, conversationID domainchat.ConversationID, userID string) (bool, error) {
	conv, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return conv.HasParticipant(userID), nil
}

func (s *Service) loadConversation(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, domainchat.NewValidationError("conversationId", "conversationId required")
	}
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, domainchat.ErrNotFound) {
			return nil, domainchat.ErrNotFound
		}
		return nil, persistence(err)
	}
	return conv, nil
}

func (s *Service) resolveSender(ctx context.Context, senderID string) *user.Profile {
	fallback := &user.Profile{ID: senderID}
	if s.Profiles == nil {
		return fallback
	}
	profile, err := s.Profiles.Profile(ctx, senderID)
	if err != nil || profile == nil {
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			s.warn("sender profile lookup failed", "user_id", senderID, "error", err)
		}
		return fallback
	}
	return &user.Profile{ID: senderID, Username: profile.Username, Fullname: profile.Fullname, Avatar: profile.Avatar}
}

func (s *Service) record(ctx context.Context, ev events.DomainEvent) {
	if s.Outbox == nil {
		return
	}
	if err := outbox.RecordDomainEvents(ctx, s.Outbox, s.Encoder, ev); err != nil {
		s.warn("outbox record failed", "event", ev.EventName(), "aggregate", ev.AggregateID(), "error", err)
	}
}

// now matches the millisecond precision Mongo stores.
func (s *Service) now() time.Time {
	t := time.Now()
	if s.Clock != nil {
		t = s.Clock()
	}
	return t.UTC().Truncate(time.Millisecond)
}

func (s *Service) ensureDependencies() error {
	switch {
	case s == nil:
		return errors.New("chat: service is nil")
	case s.Conversations == nil:
		return errors.New("chat: conversation repository required")
	case s.Messages == nil:
		return errors.New("chat: message repository required")
	default:
		return nil
	}
}

func persistence(err error) error {
	if err == nil || errors.Is(err, domainchat.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", domainchat.ErrPersistence, err)
}

func (s *Service) info(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Info(msg, args...)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

func (s *Service) debug(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Debug(msg, args...)
	}
}
