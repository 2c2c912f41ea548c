package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
)

type Record struct {
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Save(ctx context.Context, rec Record) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

var ErrStoreRequired = errors.New("idempotency: store required")

// Guard replays the stored result of a keyed operation. Only successful results are
// remembered, so a failed attempt can be retried with the same key.
type Guard struct {
	Store  Store
	Codec  ResultCodec
	Logger *slog.Logger
}

// Run executes fn once per key and decodes the result into out. The boolean reports
// whether the result was replayed from the store.
func (g Guard) Run(ctx context.Context, key string, out any, fn func(ctx context.Context) (any, error)) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" || g.Store == nil {
		result, err := fn(ctx)
		if err != nil {
			return false, err
		}
		return false, g.copyInto(result, out)
	}
	rec, found, err := g.Store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		return true, g.codec().Decode(rec.Payload, out)
	}
	result, err := fn(ctx)
	if err != nil {
		return false, err
	}
	payload, err := g.codec().Encode(result)
	if err != nil {
		return false, err
	}
	// fn has committed by now; a lost record only costs a later replay.
	if err := g.Store.Save(ctx, Record{Key: key, Payload: payload, OccurredAt: time.Now().UTC()}); err != nil && g.Logger != nil {
		g.Logger.Warn("idempotency record not saved", "key", key, "error", err)
	}
	return false, g.codec().Decode(payload, out)
}

func (g Guard) copyInto(result, out any) error {
	payload, err := g.codec().Encode(result)
	if err != nil {
		return err
	}
	return g.codec().Decode(payload, out)
}

func (g Guard) codec() ResultCodec {
	if g.Codec == nil {
		return JSONResultCodec{}
	}
	return g.Codec
}

// ScopedKey namespaces a client supplied key by user so keys never collide across accounts.
func ScopedKey(scope, userID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return scope + ":" + userID + ":" + key
}
