package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"petadopt/internal/app/dto"
	domainauth "petadopt/internal/domain/auth"
	domainchat "petadopt/internal/domain/chat"
	"petadopt/internal/infra/obs"
)

const (
	defaultAuthTimeout  = 5 * time.Second
	defaultPingInterval = 25 * time.Second
	readLimit           = 64 << 10

	cookieAccessToken = "accessToken"
)

// ChatService is the slice of the chat service the gateway drives.
type ChatService interface {
	SendMessage(ctx context.Context, conversationID domainchat.ConversationID, senderID, text string, attachments []domainchat.Attachment) (*domainchat.Message, error)
	MarkRead(ctx context.Context, conversationID domainchat.ConversationID, userID string, at time.Time) (domainchat.ReadReceipt, error)
	IsParticipant(ctx context.Context, conversationID domainchat.ConversationID, userID string) (bool, error)
	Conversation(ctx context.Context, conversationID domainchat.ConversationID) (*domainchat.Conversation, error)
}

type Options struct {
	Chat           ChatService
	Verifier       domainauth.Verifier
	Signer         dto.URLSigner
	Logger         *slog.Logger
	AuthTimeout    time.Duration
	SendQueue      int
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Gateway authenticates websocket clients, keeps them in rooms and relays chat events.
// One Gateway is built at startup and shared with the HTTP handlers.
type Gateway struct {
	chat         ChatService
	verifier     domainauth.Verifier
	signer       dto.URLSigner
	logger       *slog.Logger
	authTimeout  time.Duration
	sendQueue    int
	pingInterval time.Duration
	accept       websocket.AcceptOptions
	hub          *Hub
	validate     *validator.Validate
}

func NewGateway(opts Options) *Gateway {
	g := &Gateway{
		chat:         opts.Chat,
		verifier:     opts.Verifier,
		signer:       opts.Signer,
		logger:       opts.Logger,
		authTimeout:  opts.AuthTimeout,
		sendQueue:    opts.SendQueue,
		pingInterval: opts.PingInterval,
		hub:          NewHub(),
		validate:     validator.New(),
	}
	if g.authTimeout <= 0 {
		g.authTimeout = defaultAuthTimeout
	}
	if g.pingInterval <= 0 {
		g.pingInterval = defaultPingInterval
	}
	g.accept = acceptOptions(opts.AllowedOrigins)
	return g
}

// acceptOptions turns CORS origins into the host patterns the websocket library matches.
func acceptOptions(origins []string) websocket.AcceptOptions {
	opts := websocket.AcceptOptions{}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			opts.InsecureSkipVerify = true
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		} else if origin != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, origin)
		}
	}
	return opts
}

// ConnectionCount reports live connections on this instance.
func (g *Gateway) ConnectionCount() int { return g.hub.connections() }

// ServeHTTP authenticates the handshake and then runs the connection until it closes.
// Unauthenticated requests are answered with 401 and never upgraded.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authenticate(r)
	if err != nil {
		reason, message := authFailure(err)
		obs.RealtimeAuthFailuresTotal.WithLabelValues(reason).Inc()
		g.debug("realtime handshake rejected", "reason", reason, "remote", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
		return
	}

	accept := g.accept
	ws, err := websocket.Accept(w, r, &accept)
	if err != nil {
		g.debug("realtime upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	c := newConn(uuid.NewString(), *identity, ws, g.sendQueue, cancel)
	g.hub.register(c)
	g.hub.join(c, UserRoom(c.userID()))
	obs.RealtimeConnections.Inc()
	g.info("realtime connected", "conn_id", c.id, "user_id", c.userID())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(g.pingInterval)
	}()
	g.sendTo(c, EventReady, "", readyOut{UserID: identity.UserID, Username: identity.Username})

	g.readLoop(ctx, c)

	c.close(websocket.StatusNormalClosure, "")
	<-writerDone
	g.disconnect(c)
	obs.RealtimeConnections.Dec()
	g.info("realtime disconnected", "conn_id", c.id, "user_id", c.userID())
}

func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		g.dispatch(ctx, c, data)
		if c.closed() {
			return
		}
	}
}

func (g *Gateway) disconnect(c *conn) {
	for _, room := range g.hub.unregister(c) {
		if !strings.HasPrefix(room, conversationRoomPrefix) {
			continue
		}
		convID := strings.TrimPrefix(room, conversationRoomPrefix)
		g.broadcast(room, EventPresence, presenceOut{ConversationID: convID, UserID: c.userID(), Online: false}, nil)
	}
}

func (g *Gateway) authenticate(r *http.Request) (*domainauth.Identity, error) {
	token := credentialFrom(r)
	if token == "" {
		return nil, domainauth.ErrTokenRequired
	}
	if g.verifier == nil {
		return nil, domainauth.ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.authTimeout)
	defer cancel()

	type result struct {
		identity *domainauth.Identity
		err      error
	}
	done := make(chan result, 1)
	go func() {
		id, err := g.verifier.Verify(ctx, domainauth.Token(token))
		done <- result{identity: id, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if res.identity == nil || strings.TrimSpace(res.identity.UserID) == "" {
			return nil, domainauth.ErrUnauthenticated
		}
		return res.identity, nil
	}
}

// credentialFrom reads the bearer credential from the token query parameter, the
// Authorization header and the accessToken cookie, in that order.
func credentialFrom(r *http.Request) string {
	if t := domainauth.StripBearer(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if t := domainauth.StripBearer(r.Header.Get("Authorization")); t != "" {
		return t
	}
	if ck, err := r.Cookie(cookieAccessToken); err == nil {
		raw := ck.Value
		if decoded, err := url.QueryUnescape(raw); err == nil {
			raw = decoded
		}
		return domainauth.StripBearer(raw)
	}
	return ""
}

func authFailure(err error) (reason, message string) {
	switch {
	case errors.Is(err, domainauth.ErrTokenRequired):
		return "missing", "No token provided"
	case errors.Is(err, domainauth.ErrTokenExpired):
		return "expired", "Token expired"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", "Unauthorized"
	default:
		return "invalid", "Unauthorized"
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.debug("realtime frame dropped", "conn_id", c.id, "error", err)
		return
	}
	typ := normalizeType(env.Type)
	switch typ {
	case EventJoin:
		g.handleJoin(ctx, c, env)
	case EventLeave:
		g.handleLeave(c, env)
	case EventTyping:
		g.handleTyping(c, env)
	case EventMessage:
		g.handleMessage(ctx, c, env)
	case EventRead:
		g.handleRead(ctx, c, env)
	default:
		obs.RealtimeEventsTotal.WithLabelValues("unknown").Inc()
		g.debug("realtime event ignored", "conn_id", c.id, "type", env.Type)
		return
	}
	obs.RealtimeEventsTotal.WithLabelValues(typ).Inc()
}

// decode reports false for payloads that are not JSON or fail validation.
func (g *Gateway) decode(env Envelope, out any) bool {
	if len(env.Payload) == 0 {
		return false
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false
	}
	return g.validate.Struct(out) == nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *conn, env Envelope) {
	var p conversationPayload
	if !g.decode(env, &p) {
		return
	}
	ok, err := g.chat.IsParticipant(ctx, domainchat.ConversationID(p.ConversationID), c.userID())
	if err != nil && !errors.Is(err, domainchat.ErrNotFound) {
		g.warn("realtime join failed", "conn_id", c.id, "conversation_id", p.ConversationID, "error", err)
		g.sendTo(c, EventError, "", errorOut{Message: msgJoinFailed})
		return
	}
	if !ok {
		g.sendTo(c, EventError, "", errorOut{Message: msgNotParticipant})
		g.ack(c, env, ackError{Error: ackForbidden})
		return
	}
	room := ConversationRoom(p.ConversationID)
	g.hub.join(c, room)
	g.broadcast(room, EventPresence, presenceOut{ConversationID: p.ConversationID, UserID: c.userID(), Online: true}, c)
	g.ack(c, env, joinAck{ConversationID: p.ConversationID, Joined: true})
}

func (g *Gateway) handleLeave(c *conn, env Envelope) {
	var p conversationPayload
	if !g.decode(env, &p) {
		return
	}
	room := ConversationRoom(p.ConversationID)
	if g.hub.leave(c, room) {
		g.broadcast(room, EventPresence, presenceOut{ConversationID: p.ConversationID, UserID: c.userID(), Online: false}, c)
	}
}

func (g *Gateway) handleTyping(c *conn, env Envelope) {
	var p typingPayload
	if !g.decode(env, &p) {
		return
	}
	room := ConversationRoom(p.ConversationID)
	if !g.hub.inRoom(c, room) {
		return
	}
	g.broadcast(room, EventTyping, typingOut{ConversationID: p.ConversationID, UserID: c.userID(), IsTyping: p.IsTyping}, c)
}

// handleMessage broadcasts before acknowledging, so the sender's own connection sees the
// room copy first.
func (g *Gateway) handleMessage(ctx context.Context, c *conn, env Envelope) {
	var p messagePayload
	if !g.decode(env, &p) {
		obs.ChatSendFailuresTotal.WithLabelValues("realtime", "invalid").Inc()
		g.ack(c, env, ackError{Error: ackInvalid})
		return
	}
	msg, err := g.chat.SendMessage(ctx, domainchat.ConversationID(p.ConversationID), c.userID(), p.Text, dto.ToDomainAttachments(p.Attachments))
	if err != nil {
		if errors.Is(err, domainchat.ErrValidation) {
			obs.ChatSendFailuresTotal.WithLabelValues("realtime", "invalid").Inc()
			g.ack(c, env, ackError{Error: ackInvalid})
			return
		}
		obs.ChatSendFailuresTotal.WithLabelValues("realtime", failureReason(err)).Inc()
		g.warn("realtime send failed", "conn_id", c.id, "conversation_id", p.ConversationID, "error", err)
		g.ack(c, env, ackError{Error: ackSendFailed})
		g.sendTo(c, EventError, "", errorOut{Message: msgSendFailed})
		return
	}
	out := g.deliverMessage(ctx, msg)
	g.ack(c, env, out)
}

func (g *Gateway) handleRead(ctx context.Context, c *conn, env Envelope) {
	var p readPayload
	if !g.decode(env, &p) {
		return
	}
	convID := domainchat.ConversationID(p.ConversationID)
	receipt, err := g.chat.MarkRead(ctx, convID, c.userID(), p.At.Time)
	if err != nil {
		g.warn("realtime read failed", "conn_id", c.id, "conversation_id", p.ConversationID, "error", err)
		return
	}
	g.DeliverRead(ctx, receipt)
}

// DeliverMessage sends a persisted message to everyone in its conversation room.
func (g *Gateway) DeliverMessage(ctx context.Context, msg *domainchat.Message) {
	g.deliverMessage(ctx, msg)
}

func (g *Gateway) deliverMessage(ctx context.Context, msg *domainchat.Message) dto.ChatMessage {
	out := dto.MessageFrom(msg)
	dto.SignAttachments(ctx, g.signer, &out)
	g.broadcast(ConversationRoom(string(msg.ConversationID)), EventMessage, out, nil)
	return out
}

// DeliverRead relays an applied read receipt to the conversation room, skipping the reader's
// own connections.
func (g *Gateway) DeliverRead(ctx context.Context, receipt domainchat.ReadReceipt) {
	if !receipt.Applied {
		return
	}
	frame, err := encode(EventRead, "", dto.ReadReceiptFrom(receipt))
	if err != nil {
		g.warn("realtime encode failed", "type", EventRead, "error", err)
		return
	}
	g.hub.broadcastExceptUser(ConversationRoom(string(receipt.ConversationID)), frame, receipt.UserID)
}

// DeliverConversationStarted tells the other participants about a conversation that was
// just created on another instance.
func (g *Gateway) DeliverConversationStarted(ctx context.Context, ev domainchat.ConversationStartedEvent) {
	conv, err := g.chat.Conversation(ctx, ev.ConversationID)
	if err != nil {
		g.debug("realtime conversation notice skipped", "conversation_id", ev.ConversationID, "error", err)
		return
	}
	g.NotifyConversationStarted(ctx, conv, ev.StartedBy)
}

// NotifyConversationStarted pushes the new conversation to every participant other than the
// one who started it.
func (g *Gateway) NotifyConversationStarted(ctx context.Context, conv *domainchat.Conversation, startedBy string) {
	out := dto.ConversationFrom(conv)
	for _, participant := range conv.Recipients(startedBy) {
		g.broadcast(UserRoom(participant), EventConversation, out, nil)
	}
}

func (g *Gateway) broadcast(room, typ string, payload any, skip *conn) {
	frame, err := encode(typ, "", payload)
	if err != nil {
		g.warn("realtime encode failed", "type", typ, "error", err)
		return
	}
	g.hub.broadcast(room, frame, skip)
}

// ack answers a client event that carried a requestId.
func (g *Gateway) ack(c *conn, env Envelope, payload any) {
	if env.RequestID == "" {
		return
	}
	g.sendTo(c, EventAck, env.RequestID, payload)
}

func (g *Gateway) sendTo(c *conn, typ, requestID string, payload any) {
	frame, err := encode(typ, requestID, payload)
	if err != nil {
		g.warn("realtime encode failed", "type", typ, "error", err)
		return
	}
	c.enqueue(frame)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domainchat.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domainchat.ErrNotFound):
		return "not_found"
	default:
		return "persistence"
	}
}

func (g *Gateway) info(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *Gateway) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}

func (g *Gateway) debug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}
