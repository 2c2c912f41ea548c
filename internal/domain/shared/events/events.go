package events

import "time"

// DomainEvent is anything recorded to the outbox after a state change.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}
