// Package event holds the Event record and the shared, mutex-guarded queue
// that the producer fills and the dispatcher drains.
//
// Delivery is best-effort: an event lost to a queue anomaly is not
// reconstructed and nothing is redelivered.
package event

import (
	"fmt"
	"time"
)

// Event is an immutable scheduled occurrence.
type Event struct {
	id        int64
	createdAt time.Time
	dueAt     time.Time
}

func New(id int64, createdAt, dueAt time.Time) Event {
	return Event{id: id, createdAt: createdAt, dueAt: dueAt}
}

func (e Event) ID() int64            { return e.id }
func (e Event) CreatedAt() time.Time { return e.createdAt }
func (e Event) DueAt() time.Time     { return e.dueAt }

// Offset is DueAt - CreatedAt.
func (e Event) Offset() time.Duration { return e.dueAt.Sub(e.createdAt) }

func (e Event) String() string {
	return fmt.Sprintf("event#%d(due=%s)", e.id, e.dueAt.Format(time.RFC3339Nano))
}
