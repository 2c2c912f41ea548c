package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleEvent struct {
	Room string    `json:"room"`
	At   time.Time `json:"at"`
}

func (e sampleEvent) EventName() string     { return "sample.happened" }
func (e sampleEvent) AggregateID() string   { return e.Room }
func (e sampleEvent) OccurredAt() time.Time { return e.At }

type sliceOutbox struct {
	records []EventRecord
	flushes int
	addErr  error
}

func (o *sliceOutbox) Add(_ context.Context, rec EventRecord) error {
	if o.addErr != nil {
		return o.addErr
	}
	o.records = append(o.records, rec)
	return nil
}

func (o *sliceOutbox) Flush(context.Context) error {
	o.flushes++
	return nil
}

func TestRecordDomainEventsEncodesAndFlushes(t *testing.T) {
	box := &sliceOutbox{}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	enc := JSONEventEncoder{IDGenerator: func() string { return "evt-1" }, Origin: "node-a"}

	require.NoError(t, RecordDomainEvents(context.Background(), box, enc, sampleEvent{Room: "r1", At: at}))

	require.Len(t, box.records, 1)
	rec := box.records[0]
	assert.Equal(t, "evt-1", rec.ID)
	assert.Equal(t, "sample.happened", rec.Name)
	assert.Equal(t, "r1", rec.Aggregate)
	assert.Equal(t, time.UTC, rec.OccurredAt.Location())
	assert.Equal(t, "node-a", rec.Headers[HeaderOrigin])
	assert.Equal(t, "application/json", rec.Headers[HeaderContentType])
	assert.JSONEq(t, `{"room":"r1","at":"2026-03-01T10:00:00+01:00"}`, string(rec.Payload))
	assert.Equal(t, 1, box.flushes)
}

func TestRecordDomainEventsWithoutOutboxIsNoop(t *testing.T) {
	assert.NoError(t, RecordDomainEvents(context.Background(), nil, nil, sampleEvent{}))
}

func TestRecordDomainEventsWrapsAddFailure(t *testing.T) {
	boom := errors.New("boom")
	box := &sliceOutbox{addErr: boom}
	err := RecordDomainEvents(context.Background(), box, nil, sampleEvent{Room: "r1"})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, box.flushes)
}
