package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []*EventDocument
	sent    []string
	failed  map[string]string
}

func (q *fakeQueue) Claim(ctx context.Context, workerID string) (*EventDocument, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	doc := q.pending[0]
	q.pending = q.pending[1:]
	return doc, nil
}

func (q *fakeQueue) MarkSent(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, id)
	return nil
}

func (q *fakeQueue) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed == nil {
		q.failed = map[string]string{}
	}
	q.failed[id] = errMsg
	return nil
}

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	out  []published
	fail error
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.fail != nil {
		return p.fail
	}
	p.out = append(p.out, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func TestWorkerPublishesCloudEvent(t *testing.T) {
	queue := &fakeQueue{pending: []*EventDocument{{
		ID:         "evt-1",
		Name:       "chat.message_sent",
		Payload:    []byte(`{"message_id":"m1"}`),
		Aggregate:  "c1",
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Headers:    map[string]string{"origin": "node-a"},
	}}}
	producer := &fakeProducer{}
	w := &Worker{Store: queue, Producer: producer, TopicPrefix: "dev."}

	require.NoError(t, w.drain(context.Background()))
	require.Len(t, producer.out, 1)
	msg := producer.out[0]
	assert.Equal(t, "dev.chat.events.v1", msg.topic)
	assert.Equal(t, "c1", msg.key)
	assert.Equal(t, "node-a", msg.headers["origin"])
	assert.Equal(t, "chat.message_sent", msg.headers["ce-type"])

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &envelope))
	assert.Equal(t, "chat.message_sent.v1", envelope["type"])
	assert.Equal(t, "evt-1", envelope["id"])
	assert.Equal(t, map[string]any{"message_id": "m1"}, envelope["data"])
	assert.Equal(t, []string{"evt-1"}, queue.sent)
}

func TestWorkerMarksFailures(t *testing.T) {
	queue := &fakeQueue{pending: []*EventDocument{
		{ID: "bad", Name: "chat.read", Payload: []byte(`not json`)},
		{ID: "down", Name: "chat.read", Payload: []byte(`{}`)},
	}}
	w := &Worker{Store: queue, Producer: &fakeProducer{fail: errors.New("broker down")}, Backoff: []time.Duration{time.Second}}

	require.NoError(t, w.drain(context.Background()))
	assert.Empty(t, queue.sent)
	assert.Contains(t, queue.failed, "bad")
	assert.Equal(t, "broker down", queue.failed["down"])
}

func TestTopicUsesEventFamily(t *testing.T) {
	assert.Equal(t, "chat.events.v1", Topic("", "chat.read"))
	assert.Equal(t, "x.chat.events.v1", Topic("x.", "chat.conversation_started"))
}

func TestWorkerRequiresDependencies(t *testing.T) {
	err := (&Worker{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrWorkerNotConfigured)
}
