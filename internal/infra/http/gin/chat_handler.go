package ginserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"petadopt/internal/app/dto"
	"petadopt/internal/app/idempotency"
	domainchat "petadopt/internal/domain/chat"
	"petadopt/internal/infra/obs"
)

const idempotencyHeader = "Idempotency-Key"

// ChatService is what the HTTP API needs from the chat service.
type ChatService interface {
	CreateOrGetConversation(ctx context.Context, userA, userB, listingID string) (*domainchat.Conversation, bool, error)
	SendMessage(ctx context.Context, conversationID domainchat.ConversationID, senderID, text string, attachments []domainchat.Attachment) (*domainchat.Message, error)
	MarkRead(ctx context.Context, conversationID domainchat.ConversationID, userID string, at time.Time) (domainchat.ReadReceipt, error)
	ListConversations(ctx context.Context, userID string) ([]domainchat.Conversation, error)
	ListMessages(ctx context.Context, conversationID domainchat.ConversationID, userID string, before *time.Time) ([]domainchat.Message, error)
}

// Broadcaster pushes HTTP side effects to realtime clients.
type Broadcaster interface {
	DeliverMessage(ctx context.Context, msg *domainchat.Message)
	DeliverRead(ctx context.Context, receipt domainchat.ReadReceipt)
	NotifyConversationStarted(ctx context.Context, conv *domainchat.Conversation, startedBy string)
}

// ChatHandler serves /api/chat.
type ChatHandler struct {
	Chat        ChatService
	Realtime    Broadcaster
	Signer      dto.URLSigner
	Idempotency idempotency.Guard
	Logger      *slog.Logger
}

type startRequest struct {
	PartnerID string `json:"partnerId" binding:"required"`
	PetID     string `json:"petId"`
}

type sendRequest struct {
	Text        string           `json:"text"`
	Attachments []dto.Attachment `json:"attachments"`
}

type readRequest struct {
	At dto.ReadTime `json:"at"`
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	items, err := h.Chat.ListConversations(c.Request.Context(), principal.UserID)
	if err != nil {
		h.respondError(c, err, "list conversations", "user_id", principal.UserID)
		return
	}
	succeed(c, http.StatusOK, dto.ConversationsFrom(items))
}

func (h ChatHandler) Start(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}
	conv, created, err := h.Chat.CreateOrGetConversation(c.Request.Context(), principal.UserID, strings.TrimSpace(req.PartnerID), req.PetID)
	if err != nil {
		h.respondError(c, err, "start conversation", "user_id", principal.UserID, "partner_id", req.PartnerID)
		return
	}
	if created && h.Realtime != nil {
		h.Realtime.NotifyConversationStarted(c.Request.Context(), conv, principal.UserID)
	}
	succeed(c, http.StatusOK, dto.ConversationFrom(conv))
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var before *time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			failValidation(c, "before must be an RFC3339 timestamp", []fieldError{{Field: "before", Message: "before must be an RFC3339 timestamp"}})
			return
		}
		before = &ts
	}
	convID := domainchat.ConversationID(c.Param("id"))
	items, err := h.Chat.ListMessages(c.Request.Context(), convID, principal.UserID, before)
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", convID, "user_id", principal.UserID)
		return
	}
	out := dto.MessagesFrom(items)
	signed := make([]*dto.ChatMessage, len(out))
	for i := range out {
		signed[i] = &out[i]
	}
	dto.SignAttachments(c.Request.Context(), h.Signer, signed...)
	succeed(c, http.StatusOK, out)
}

// Send stores a message and broadcasts it. A repeated Idempotency-Key replays the first
// result without storing or broadcasting again.
func (h ChatHandler) Send(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}
	convID := domainchat.ConversationID(c.Param("id"))
	key := idempotency.ScopedKey("chat.send:"+string(convID), principal.UserID, c.GetHeader(idempotencyHeader))

	var out dto.ChatMessage
	replayed, err := h.Idempotency.Run(c.Request.Context(), key, &out, func(ctx context.Context) (any, error) {
		msg, err := h.Chat.SendMessage(ctx, convID, principal.UserID, req.Text, dto.ToDomainAttachments(req.Attachments))
		if err != nil {
			return nil, err
		}
		if h.Realtime != nil {
			h.Realtime.DeliverMessage(ctx, msg)
		}
		return dto.MessageFrom(msg), nil
	})
	if err != nil {
		obs.ChatSendFailuresTotal.WithLabelValues("http", sendFailureReason(err)).Inc()
		h.respondError(c, err, "send message", "conversation_id", convID, "user_id", principal.UserID)
		return
	}
	if replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	dto.SignAttachments(c.Request.Context(), h.Signer, &out)
	succeed(c, http.StatusCreated, out)
}

// MarkRead never fails for a signed in caller: unknown conversations still get a receipt.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		failBinding(c, err)
		return
	}
	convID := domainchat.ConversationID(c.Param("id"))
	receipt, err := h.Chat.MarkRead(c.Request.Context(), convID, principal.UserID, req.At.Time)
	if err != nil {
		h.logError("mark read failed", err, "conversation_id", convID, "user_id", principal.UserID)
	} else if receipt.Applied && h.Realtime != nil {
		h.Realtime.DeliverRead(c.Request.Context(), receipt)
	}
	succeed(c, http.StatusOK, dto.ReadAck{OK: true, At: receipt.At})
}

func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	if errors.Is(err, domainchat.ErrValidation) {
		message, fields := validationFields(err)
		failValidation(c, message, fields)
		return
	}
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logError("chat call failed", err, append([]any{"action", action, "request_id", c.GetString("request_id")}, attrs...)...)
	}
	fail(c, status, message)
}

func (h ChatHandler) logError(msg string, err error, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}

func sendFailureReason(err error) string {
	switch {
	case errors.Is(err, domainchat.ErrValidation):
		return "invalid"
	case errors.Is(err, domainchat.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domainchat.ErrNotFound):
		return "not_found"
	default:
		return "persistence"
	}
}

var _ ChatHTTP = (*ChatHandler)(nil)
