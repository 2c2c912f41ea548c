package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"

	appoutbox "petadopt/internal/app/outbox"
	domainchat "petadopt/internal/domain/chat"
)

// RoomSink delivers chat events to the clients connected to this instance.
type RoomSink interface {
	DeliverMessage(ctx context.Context, msg *domainchat.Message)
	DeliverRead(ctx context.Context, receipt domainchat.ReadReceipt)
	DeliverConversationStarted(ctx context.Context, ev domainchat.ConversationStartedEvent)
}

// Relay fans chat events published by other instances out to local rooms. Events carrying
// this instance's origin were already delivered when they happened and are skipped.
type Relay struct {
	InstanceID string
	Sink       RoomSink
	Inbox      Inbox
	Logger     *slog.Logger
}

// Inbox deduplicates redelivered events by id.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

type cloudEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (r *Relay) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || r.Sink == nil {
		return nil
	}
	if origin := header(msg, appoutbox.HeaderOrigin); origin != "" && origin == r.InstanceID {
		return nil
	}
	var ce cloudEvent
	if err := json.Unmarshal(msg.Value, &ce); err != nil {
		r.debug("relay dropped malformed event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if r.Inbox != nil {
		seen, err := r.Inbox.Seen(ctx, ce.ID)
		if err != nil {
			r.debug("relay inbox unavailable", "event_id", ce.ID, "error", err)
		} else if seen {
			return nil
		}
	}
	name := header(msg, "ce-type")
	if name == "" {
		name = strings.TrimSuffix(ce.Type, ".v1")
	}
	if err := r.dispatch(ctx, name, ce.Data); err != nil {
		r.debug("relay dropped event", "event", name, "offset", msg.Offset, "error", err)
	}
	return nil
}

func (r *Relay) dispatch(ctx context.Context, name string, data json.RawMessage) error {
	switch name {
	case domainchat.EventMessageSent:
		var ev domainchat.MessageSentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		r.Sink.DeliverMessage(ctx, ev.Message())
	case domainchat.EventRead:
		var ev domainchat.ReadEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		r.Sink.DeliverRead(ctx, domainchat.ReadReceipt{ConversationID: ev.ConversationID, UserID: ev.UserID, At: ev.At, Applied: true})
	case domainchat.EventConversationStarted:
		var ev domainchat.ConversationStartedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		r.Sink.DeliverConversationStarted(ctx, ev)
	default:
		return fmt.Errorf("unknown event %q", name)
	}
	return nil
}

// GroupID gives every instance its own consumer group so each one sees every event.
func GroupID(prefix, instanceID string) string {
	return prefix + "chat-relay-" + instanceID
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (r *Relay) debug(msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.Debug(msg, args...)
	}
}
