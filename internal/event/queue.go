package event

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	logx "duesched/pkg/logx"
)

// Queue is the ordered container shared by the producer and the dispatcher.
//
// Events are kept in insertion order until Sort is called. Every operation
// takes the lock internally and nothing hands out the backing slice, so
// callers cannot iterate outside the lock.
//
// The zero value is ready to use.
type Queue struct {
	mu     sync.Mutex
	events []Event

	// n mirrors len(events) so Peek can skip the lock when the queue is empty.
	n atomic.Int64

	log     logx.Logger
	anomaly *logx.Sampler

	// fault, when set, runs inside the critical section of Pop and Sort
	// before any mutation. Tests use it to force the recovery path.
	fault func(op string)
}

func NewQueue(log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{log: log, anomaly: logx.NewSampler(0)}
}

// Add appends ev to the tail.
func (q *Queue) Add(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.n.Store(int64(len(q.events)))
	q.mu.Unlock()
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Event, bool) {
	// Lock-free fast path for the idle case. An Add racing with this check is
	// simply seen on the next poll.
	if q.n.Load() == 0 {
		return Event{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	return q.events[0], true
}

// Pop removes and returns the head. A failure inside the critical section is
// logged and reported as an empty queue; the slice is left untouched.
func (q *Queue) Pop() (ev Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			q.onAnomaly("pop", r)
			ev, ok = Event{}, false
		}
	}()

	if len(q.events) == 0 {
		return Event{}, false
	}
	if q.fault != nil {
		q.fault("pop")
	}
	head := q.events[0]
	rest := q.events[1:]
	// Release the reference held by the old backing array slot.
	q.events[0] = Event{}
	q.events = rest
	if len(q.events) == 0 {
		q.events = nil
	}
	q.n.Store(int64(len(q.events)))
	return head, true
}

// Sort orders the queue by due time ascending. Equal due times keep no
// particular order.
func (q *Queue) Sort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) < 2 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.onAnomaly("sort", r)
		}
	}()

	// Sort a copy and swap it in, so a failed sort leaves the old order intact.
	sorted := make([]Event, len(q.events))
	copy(sorted, q.events)
	if q.fault != nil {
		q.fault("sort")
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].dueAt.Before(sorted[j].dueAt)
	})
	q.events = sorted
}

func (q *Queue) Len() int { return int(q.n.Load()) }

// Snapshot returns a copy of the queue contents in their current order.
func (q *Queue) Snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.events))
	copy(out, q.events)
	return out
}

func (q *Queue) onAnomaly(op string, r any) {
	log := q.log
	if log.IsZero() {
		return
	}
	q.anomaly.Warn(log, "queue.anomaly",
		logx.String("op", op),
		logx.String("panic", fmt.Sprint(r)),
		logx.Stack(string(debug.Stack())),
	)
}
