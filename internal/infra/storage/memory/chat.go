package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domainchat "petadopt/internal/domain/chat"
)

// ConversationRepository keeps conversations in memory. Not suitable for production.
type ConversationRepository struct {
	mu    sync.RWMutex
	byID  map[domainchat.ConversationID]*domainchat.Conversation
	byKey map[string]domainchat.ConversationID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		byID:  make(map[domainchat.ConversationID]*domainchat.Conversation),
		byKey: make(map[string]domainchat.ConversationID),
	}
}

func (r *ConversationRepository) FindOrCreate(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if conv == nil {
		return nil, false, domainchat.NewValidationError("conversation", "conversation is required")
	}
	key := conv.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		return r.byID[id].Clone(), false, nil
	}
	stored := conv.Clone()
	if stored.ID == "" {
		stored.ID = domainchat.ConversationID(uuid.NewString())
	}
	r.byID[stored.ID] = stored
	r.byKey[key] = stored.ID
	return stored.Clone(), true, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil, domainchat.ErrNotFound
	}
	return conv.Clone(), nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string, limit int) ([]domainchat.Conversation, error) {
	r.mu.RLock()
	out := make([]domainchat.Conversation, 0)
	for _, conv := range r.byID {
		if conv.HasParticipant(userID) {
			out = append(out, *conv.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ConversationRepository) RecordMessage(ctx context.Context, id domainchat.ConversationID, preview domainchat.LastMessage, recipients []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return domainchat.ErrNotFound
	}
	conv.ApplyMessage(preview, recipients)
	return nil
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id domainchat.ConversationID, userID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return false, domainchat.ErrNotFound
	}
	return conv.MarkRead(userID, at), nil
}

var _ domainchat.ConversationRepository = (*ConversationRepository)(nil)

// MessageRepository keeps message history per conversation in insertion order.
type MessageRepository struct {
	mu    sync.RWMutex
	items map[domainchat.ConversationID][]*domainchat.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{items: make(map[domainchat.ConversationID][]*domainchat.Message)}
}

func (r *MessageRepository) Append(ctx context.Context, msg *domainchat.Message) error {
	if msg == nil {
		return domainchat.NewValidationError("message", "message is required")
	}
	if msg.ID == "" {
		msg.ID = domainchat.MessageID(uuid.NewString())
	}
	stored := msg.Clone()
	stored.Sender = nil
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[msg.ConversationID] = append(r.items[msg.ConversationID], stored)
	return nil
}

func (r *MessageRepository) ListBefore(ctx context.Context, id domainchat.ConversationID, before *time.Time, limit int) ([]domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.items[id]
	out := make([]domainchat.Message, 0)
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, *msg.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	// Appends can carry equal or skewed clocks; keep newest-first by timestamp.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var _ domainchat.MessageRepository = (*MessageRepository)(nil)
