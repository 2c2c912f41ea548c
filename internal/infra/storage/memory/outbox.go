package memory

import (
	"context"
	"sync"

	appoutbox "petadopt/internal/app/outbox"
)

// Outbox keeps flushed events in memory. It backs single-instance runs and tests.
type Outbox struct {
	mu      sync.Mutex
	pending []appoutbox.EventRecord
	flushed []appoutbox.EventRecord
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushed = append(o.flushed, o.pending...)
	o.pending = nil
	return nil
}

// Records returns a copy of every flushed record in order.
func (o *Outbox) Records() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]appoutbox.EventRecord(nil), o.flushed...)
}

// Names lists flushed event names in order.
func (o *Outbox) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.flushed))
	for _, r := range o.flushed {
		out = append(out, r.Name)
	}
	return out
}

var _ appoutbox.Outbox = (*Outbox)(nil)
