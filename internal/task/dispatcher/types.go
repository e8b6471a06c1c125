package dispatcher

import (
	"time"

	"duesched/internal/clock"
	"duesched/internal/runtime/lifecycle"
	"duesched/internal/task/engine"
)

const (
	DefaultIdleInterval = 5 * time.Millisecond
	DefaultEmptyPoll    = time.Millisecond
)

// Config controls the consumption loop.
type Config struct {
	// IdleInterval is the pause after accumulating a job while the head
	// event is not yet due.
	IdleInterval time.Duration

	// EmptyPoll is the pause when the queue is empty. Negative means a pure
	// busy-poll that only yields the processor.
	EmptyPoll time.Duration

	// HistorySize bounds the job-run history. 0 means 200.
	HistorySize int

	// JobFactory builds the action for each accumulated job. nil means
	// engine.Noop.
	JobFactory func() engine.Action

	// Clock measures now/lag in log lines. nil uses clock.Default().
	Clock *clock.Clock
}

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.EmptyPoll == 0 {
		c.EmptyPoll = DefaultEmptyPoll
	}
	if c.Clock == nil {
		c.Clock = clock.Default()
	}
	return c
}

// Executed is published on the bus after a due event has been handled.
type Executed struct {
	EventID int64         `json:"event_id"`
	DueAt   time.Time     `json:"due_at"`
	NowMS   int64         `json:"now_ms"`
	LagMS   int64         `json:"lag_ms"`
	Jobs    int           `json:"jobs"`
	Failed  int           `json:"failed"`
	Took    time.Duration `json:"took"`
}

type Snapshot struct {
	State    lifecycle.State
	QueueLen int
	Executed int64
	Engine   engine.Snapshot
}
